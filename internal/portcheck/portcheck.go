// Package portcheck answers whether an address is currently bindable.
//
// Probe is advisory: another process (or another proxy instance) can take
// the port between a probe and a real bind. The registry treats the bind
// performed during start as the authoritative answer and uses Classify to
// turn its failure into PORT_IN_USE or BIND.
package portcheck

import (
	"context"
	"net"
	"strconv"

	"github.com/die-net/revproxy/internal/apperr"
)

// Probe attempts a transient bind on ip:port and releases it immediately.
// Any failure, including an unparsable ip or a zero port, reports false.
func Probe(ip string, port int) bool {
	if port < 1 || port > 65535 || net.ParseIP(ip) == nil {
		return false
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// Classify wraps a listen error for addr as PORT_IN_USE when the OS reports
// the address as taken, and BIND otherwise.
func Classify(addr string, err error) error {
	if err == nil {
		return nil
	}
	if addrInUse(err) {
		return apperr.New(apperr.KindPortInUse, "address already in use: "+addr, err)
	}
	return apperr.New(apperr.KindBind, "listen "+addr, err)
}
