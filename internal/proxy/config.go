package proxy

import (
	"time"

	"github.com/die-net/revproxy/internal/dialer"
)

// Config holds the process-wide tunables shared by every Instance.
type Config struct {
	Dial dialer.Config

	// NegotiationTimeout bounds the client-facing TLS handshake plus request
	// header read, and the TLS handshake with an https origin.
	NegotiationTimeout time.Duration

	// IdleTimeout expires idle keep-alive client connections and idle pooled
	// upstream connections.
	IdleTimeout time.Duration

	// ResponseHeaderTimeout, if non-zero, bounds the wait for the origin's
	// response headers.
	ResponseHeaderTimeout time.Duration

	// CopyBufferSize is the size of the buffers response bodies are streamed
	// through. Zero uses 32 KiB.
	CopyBufferSize int

	MaxIdleConns       int
	UpstreamSkipVerify bool
}
