package dialer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/die-net/revproxy/internal/model"
	"github.com/die-net/revproxy/internal/socks5"
)

type SOCKS5ProxyDialer struct {
	cfg   Config
	relay model.Relay
}

func NewSOCKS5ProxyDialer(cfg Config, relay model.Relay) *SOCKS5ProxyDialer {
	return &SOCKS5ProxyDialer{cfg: cfg, relay: relay}
}

// DialContext connects to the relay and asks it to CONNECT to address. The
// relay resolves hostnames itself.
func (f *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := checkNetwork(network, address); err != nil {
		return nil, err
	}

	relayAddr := f.relay.Address()

	if f.cfg.RelayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.RelayTimeout)
		defer cancel()
	}

	dd := net.Dialer{KeepAliveConfig: f.cfg.KeepAlive}
	conn, err := dd.DialContext(ctx, "tcp", relayAddr)
	if err != nil {
		return nil, wrapDialError(fmt.Sprintf("dial socks5 relay %s", relayAddr), err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// Unblock the handshake if ctx is canceled mid-way.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	err = socks5.ClientDial(conn, socks5.Auth{Username: f.relay.Username, Password: f.relay.Password}, address)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, wrapDialError(fmt.Sprintf("socks5 relay %s connect %s", relayAddr, address), err)
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}
