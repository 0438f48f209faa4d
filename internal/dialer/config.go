package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds a direct TCP connect to the remote.
	DialTimeout time.Duration
	// RelayTimeout bounds connecting to a SOCKS5 relay plus the handshake.
	RelayTimeout time.Duration
	KeepAlive    net.KeepAliveConfig
}
