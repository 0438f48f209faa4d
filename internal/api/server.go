package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server serves the console router on its own listener.
type Server struct {
	srv  *http.Server
	log  *zap.Logger
	done chan error
}

func NewServer(handler http.Handler, log *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Start binds addr and serves in the background.
func (s *Server) Start(ctx context.Context, addr string) (net.Addr, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("api listen: %w", err)
	}

	s.done = make(chan error, 1)
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.log.Error("api serve failed", zap.Error(err))
		}
		s.done <- err
	}()

	s.log.Info("api listening", zap.String("listen", ln.Addr().String()))
	return ln.Addr(), nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
	}
	return <-s.done
}
