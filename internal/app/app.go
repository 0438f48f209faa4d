// Package app wires the proxy engine, its store and the console API into
// one fx application.
package app

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/die-net/revproxy/internal/config"
)

type Application struct {
	app    *fx.App
	logger *zap.Logger
}

func New(settings config.Settings, logger *zap.Logger, extra ...fx.Option) *Application {
	a := &Application{logger: logger}

	opts := []fx.Option{
		fx.Supply(settings, logger),

		storeModule,
		runtimeModule,
		apiModule,
		housekeepingModule,

		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),

		fx.StartTimeout(30 * time.Second),
		// Every running proxy gets its grace period on the way out.
		fx.StopTimeout(settings.ShutdownGrace + 10*time.Second),

		fx.Invoke(registerHooks),
	}
	a.app = fx.New(append(opts, extra...)...)

	return a
}

func (a *Application) Err() error {
	return a.app.Err()
}

func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("starting application")
	return a.app.Start(ctx)
}

func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("stopping application")
	return a.app.Stop(ctx)
}

func (a *Application) StopTimeout() time.Duration {
	return a.app.StopTimeout()
}
