package app

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/die-net/revproxy/internal/api"
	"github.com/die-net/revproxy/internal/certs"
	"github.com/die-net/revproxy/internal/command"
	"github.com/die-net/revproxy/internal/config"
	"github.com/die-net/revproxy/internal/cronjob"
	"github.com/die-net/revproxy/internal/dialer"
	"github.com/die-net/revproxy/internal/proxy"
	"github.com/die-net/revproxy/internal/registry"
	"github.com/die-net/revproxy/internal/store"
)

var storeModule = fx.Options(
	fx.Provide(func(s config.Settings, log *zap.Logger) (*store.Repository, error) {
		return store.Open(s.DBPath, log, s.Verbose)
	}),
)

var runtimeModule = fx.Options(
	fx.Provide(newMetricsRegistry),
	fx.Provide(proxy.NewMetrics),
	fx.Provide(func() certs.Issuer { return certs.NewSelfSigned() }),
	fx.Provide(newRegistry),
	fx.Provide(func(repo *store.Repository, reg *registry.Registry, log *zap.Logger) *command.Service {
		return command.NewService(repo, reg, log)
	}),
)

var apiModule = fx.Options(
	fx.Provide(func(s config.Settings, svc *command.Service, log *zap.Logger, reg *prometheus.Registry) *gin.Engine {
		if !s.Verbose {
			gin.SetMode(gin.ReleaseMode)
		}
		return api.NewRouter(svc, log, reg)
	}),
	fx.Provide(func(r *gin.Engine, log *zap.Logger) *api.Server {
		return api.NewServer(r, log)
	}),
)

var housekeepingModule = fx.Options(
	fx.Provide(func(s config.Settings, reg *registry.Registry, log *zap.Logger) (*cronjob.Manager, error) {
		return cronjob.NewManager(s.HousekeepingInterval, log,
			cronjob.NewIdleConnJob(reg, log),
			cronjob.NewStatusJob(reg, log),
		)
	}),
)

func newMetricsRegistry() (*prometheus.Registry, prometheus.Registerer) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, reg
}

func proxyConfig(s config.Settings) proxy.Config {
	return proxy.Config{
		Dial: dialer.Config{
			DialTimeout:  s.DialTimeout,
			RelayTimeout: s.RelayTimeout,
			KeepAlive:    s.KeepAlive(),
		},
		NegotiationTimeout:    s.NegotiationTimeout,
		IdleTimeout:           s.IdleTimeout,
		ResponseHeaderTimeout: s.ResponseHeaderTimeout,
		CopyBufferSize:        s.CopyBufferSize,
		MaxIdleConns:          s.MaxIdleConns,
		UpstreamSkipVerify:    s.UpstreamSkipVerify,
	}
}

func newRegistry(s config.Settings, repo *store.Repository, issuer certs.Issuer, log *zap.Logger, m *proxy.Metrics) *registry.Registry {
	return registry.New(repo, issuer, registry.Options{
		Proxy:         proxyConfig(s),
		ShutdownGrace: s.ShutdownGrace,
	}, log, m)
}

// registerHooks orders shutdown as: console API, housekeeping, running
// proxies, store.
func registerHooks(lc fx.Lifecycle, s config.Settings, repo *store.Repository, reg *registry.Registry, jobs *cronjob.Manager, srv *api.Server, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return repo.Close()
		},
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			running := len(reg.Running())
			reg.StopAll(ctx)
			log.Info("stopped all proxies", zap.Int("count", running))
			return nil
		},
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			jobs.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return jobs.Stop(ctx)
		},
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_, err := srv.Start(ctx, s.APIListen)
			return err
		},
		OnStop: func(ctx context.Context) error {
			return srv.Stop(ctx)
		},
	})
}
