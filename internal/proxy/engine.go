package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/revproxy/internal/apperr"
	"github.com/die-net/revproxy/internal/dialer"
	"github.com/die-net/revproxy/internal/model"
)

// Engine forwards requests for one proxy configuration to its remote origin.
// It owns a connection pool that is reused across requests.
type Engine struct {
	pc        model.ProxyConfig
	remote    *url.URL
	transport *http.Transport
	rp        *httputil.ReverseProxy
	log       *zap.Logger
	metrics   *Metrics
}

func NewEngine(pc model.ProxyConfig, cfg Config, log *zap.Logger, m *Metrics) (*Engine, error) {
	remote, err := pc.RemoteURL()
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "invalid remote_address", err)
	}

	e := &Engine{
		pc:        pc,
		remote:    remote,
		transport: newTransport(cfg, dialer.New(cfg.Dial, pc.Relay)),
		log:       log.With(zap.String("config_id", pc.ID), zap.String("remote", pc.RemoteAddress)),
		metrics:   m,
	}
	e.rp = &httputil.ReverseProxy{
		Rewrite:       e.rewrite,
		Transport:     e.transport,
		FlushInterval: 10 * time.Millisecond, // Only buffer incomplete responses briefly
		ErrorHandler:  e.handleError,
		ErrorLog:      zap.NewStdLog(e.log),
		BufferPool:    newCopyBufferPool(cfg.CopyBufferSize),
	}

	return e, nil
}

func newTransport(cfg Config, d dialer.Dialer) *http.Transport {
	return &http.Transport{
		DialContext:           d.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConns,
		IdleConnTimeout:       cfg.IdleTimeout,
		TLSHandshakeTimeout:   cfg.NegotiationTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ClientSessionCache: tls.NewLRUClientSessionCache(0),
			InsecureSkipVerify: cfg.UpstreamSkipVerify, //nolint:gosec // opt-in setting
		},
	}
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}

	e.rp.ServeHTTP(sw, r)

	e.metrics.observeRequest(e.pc.ID, sw.Status(), time.Since(start))
}

// CloseIdleConnections drops pooled upstream connections.
func (e *Engine) CloseIdleConnections() {
	e.transport.CloseIdleConnections()
}

func (e *Engine) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(e.remote)

	if e.pc.RewriteHostHeaders {
		pr.Out.Host = e.pc.EffectiveRemoteHost()
		rewriteRefererOrigin(pr.Out.Header, []string{pr.In.Host, e.pc.ListenAddress()}, e.remote)
	} else {
		pr.Out.Host = pr.In.Host
	}

	applyHeaders(pr.Out, e.pc.Headers)
}

func (e *Engine) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// Client went away; nobody is left to answer.
		e.log.Debug("client canceled request", zap.String("path", r.URL.Path), zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	status, kind := classifyUpstreamError(err)
	e.metrics.upstreamError(e.pc.ID, string(kind))
	e.log.Warn("upstream request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	)

	http.Error(w, fmt.Sprintf("%s: %s", http.StatusText(status), kind), status)
}

// classifyUpstreamError maps a forwarding failure to the gateway status
// returned to the client.
func classifyUpstreamError(err error) (int, apperr.Kind) {
	if apperr.KindOf(err) == apperr.KindTimeout || isTimeout(err) {
		return http.StatusGatewayTimeout, apperr.KindTimeout
	}
	return http.StatusBadGateway, apperr.KindUpstreamConnect
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// statusWriter records the status code written through it. Unwrap lets
// http.ResponseController reach Flush and Hijack on the underlying writer.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 && code >= http.StatusOK {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
