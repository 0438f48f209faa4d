package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/die-net/revproxy/internal/apperr"
	"github.com/die-net/revproxy/internal/certs"
	"github.com/die-net/revproxy/internal/model"
)

// Instance is one running listener for a proxy configuration. It holds a
// read-only snapshot of the configuration it was started with.
type Instance struct {
	pc     model.ProxyConfig
	ln     net.Listener
	bundle *certs.Bundle
	engine *Engine
	srv    *http.Server
	log    *zap.Logger

	closing atomic.Bool
	done    chan struct{}
	err     error
}

// NewInstance prepares an Instance serving on ln. bundle must be non-nil
// exactly when pc.UseHTTPS is set. The caller keeps ownership of ln until
// Serve is called.
func NewInstance(pc model.ProxyConfig, ln net.Listener, bundle *certs.Bundle, cfg Config, log *zap.Logger, m *Metrics) (*Instance, error) {
	if pc.UseHTTPS != (bundle != nil) {
		return nil, apperr.Newf(apperr.KindInternal, "tls material mismatch for %s", pc.ID)
	}

	pc = pc.Clone()
	engine, err := NewEngine(pc, cfg, log, m)
	if err != nil {
		return nil, err
	}

	i := &Instance{
		pc:     pc,
		ln:     ln,
		bundle: bundle,
		engine: engine,
		log:    log.With(zap.String("config_id", pc.ID), zap.String("listen", ln.Addr().String())),
		done:   make(chan struct{}),
	}
	i.srv = &http.Server{
		Handler: engine,
		// Also bounds the TLS handshake.
		ReadHeaderTimeout: cfg.NegotiationTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	// Handshake failures from browsers rejecting the self-signed certificate
	// are routine.
	if errLog, err := zap.NewStdLogAt(i.log, zap.DebugLevel); err == nil {
		i.srv.ErrorLog = errLog
	}

	if bundle != nil {
		i.srv.TLSConfig = bundle.TLSConfig()
		if err := http2.ConfigureServer(i.srv, &http2.Server{IdleTimeout: cfg.IdleTimeout}); err != nil {
			return nil, apperr.New(apperr.KindCertificate, "configure http2", err)
		}
	}

	return i, nil
}

// Serve starts the accept loop in its own goroutine. Done is closed when it
// exits.
func (i *Instance) Serve() {
	go func() {
		defer close(i.done)

		var err error
		if i.bundle != nil {
			err = i.srv.ServeTLS(i.ln, "", "")
		} else {
			err = i.srv.Serve(i.ln)
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) && !i.closing.Load() {
			i.err = fmt.Errorf("serve %s: %w", i.pc.ListenAddress(), err)
			i.log.Error("accept loop failed", zap.Error(err))
		}
		i.engine.CloseIdleConnections()
	}()
}

// Shutdown stops accepting, gives in-flight requests until ctx is done to
// finish, then force-closes whatever is left. It returns once the accept loop
// has exited. The returned error is non-nil only when connections had to be
// forced closed.
func (i *Instance) Shutdown(ctx context.Context) error {
	i.closing.Store(true)

	err := i.srv.Shutdown(ctx)
	if err != nil {
		i.log.Warn("grace period expired, closing remaining connections", zap.Error(err))
		_ = i.srv.Close()
	}

	<-i.done
	return err
}

// Done is closed when the accept loop has exited.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

// Err reports why the accept loop exited on its own. It is nil after a
// requested shutdown and only meaningful once Done is closed.
func (i *Instance) Err() error {
	<-i.done
	return i.err
}

// Config returns the configuration snapshot the instance runs with.
func (i *Instance) Config() model.ProxyConfig {
	return i.pc.Clone()
}

func (i *Instance) Addr() net.Addr {
	return i.ln.Addr()
}

// Fingerprint is the SHA-256 fingerprint of the served certificate, or ""
// for plain HTTP.
func (i *Instance) Fingerprint() string {
	if i.bundle == nil {
		return ""
	}
	return i.bundle.Fingerprint
}

// CloseIdleConnections drops idle pooled upstream connections.
func (i *Instance) CloseIdleConnections() {
	i.engine.CloseIdleConnections()
}
