package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/die-net/revproxy/internal/apperr"
	"github.com/die-net/revproxy/internal/model"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// New returns a direct dialer when relay is nil, otherwise one that tunnels
// every connection through the relay.
func New(cfg Config, relay *model.Relay) Dialer {
	if relay == nil {
		return NewDirectDialer(cfg)
	}
	return NewSOCKS5ProxyDialer(cfg, *relay)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func wrapDialError(msg string, err error) error {
	if isTimeout(err) {
		return apperr.New(apperr.KindTimeout, msg, err)
	}
	return apperr.New(apperr.KindUpstreamConnect, msg, err)
}

func checkNetwork(network, address string) error {
	switch network {
	case "tcp", "tcp4", "tcp6":
		return nil
	default:
		return apperr.New(apperr.KindUpstreamConnect, fmt.Sprintf("dial %s %s", network, address), errors.New("unsupported network"))
	}
}
