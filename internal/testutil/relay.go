package testutil

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/die-net/revproxy/internal/socks5"
)

// Relay is a minimal SOCKS5 CONNECT relay for tests.
type Relay struct {
	ln      net.Listener
	auth    socks5.Auth
	wg      sync.WaitGroup
	connect atomic.Int64

	mu      sync.Mutex
	targets []string
	conns   map[net.Conn]struct{}
	closed  bool
}

// StartSOCKS5Relay starts a relay on loopback requiring auth when
// auth.Username is set.
func StartSOCKS5Relay(t *testing.T, auth socks5.Auth) *Relay {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	r := &Relay{ln: ln, auth: auth, conns: make(map[net.Conn]struct{})}
	r.wg.Go(r.serve)
	t.Cleanup(r.Close)

	return r
}

func (r *Relay) Addr() string {
	return r.ln.Addr().String()
}

// Connects is the number of successful CONNECT requests handled.
func (r *Relay) Connects() int64 {
	return r.connect.Load()
}

// Targets lists the addresses clients asked to CONNECT to.
func (r *Relay) Targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.targets...)
}

func (r *Relay) Close() {
	_ = r.ln.Close()
	r.mu.Lock()
	r.closed = true
	for c := range r.conns {
		_ = c.Close()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Relay) track(c net.Conn, add bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if add && r.closed {
		_ = c.Close()
		return
	}
	if add {
		r.conns[c] = struct{}{}
	} else {
		delete(r.conns, c)
	}
}

func (r *Relay) serve() {
	for {
		c, err := r.ln.Accept()
		if err != nil {
			return
		}
		r.wg.Go(func() { r.handle(c) })
	}
}

func (r *Relay) handle(c net.Conn) {
	r.track(c, true)
	defer r.track(c, false)
	defer c.Close()

	if err := socks5.ServerNegotiate(c, r.auth); err != nil {
		return
	}
	req, err := socks5.ServerReadRequest(c)
	if err != nil {
		return
	}
	if req.Cmd != socks5.CmdConnect {
		socks5.WriteCommandNotSupportedReply(c, req.Atyp)
		return
	}

	target := req.Address()
	r.mu.Lock()
	r.targets = append(r.targets, target)
	r.mu.Unlock()

	up, err := net.Dial("tcp", target)
	if err != nil {
		socks5.WriteConnectionRefusedReply(c, req.Atyp)
		return
	}
	r.track(up, true)
	defer r.track(up, false)
	defer up.Close()

	if err := socks5.WriteSuccessReply(c, up.LocalAddr()); err != nil {
		return
	}
	r.connect.Add(1)

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(up, c)
		if tc, ok := up.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		close(done)
	}()
	_, _ = io.Copy(c, up)
	_ = c.Close()
	<-done
}
