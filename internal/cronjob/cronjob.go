// Package cronjob runs periodic housekeeping against the running proxies.
package cronjob

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Manager struct {
	cron *cron.Cron
}

// NewManager schedules every job on spec, a standard cron expression or a
// descriptor such as "@every 1m".
func NewManager(spec string, log *zap.Logger, jobs ...cron.Job) (*Manager, error) {
	cl := cronLogger{log.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	for _, job := range jobs {
		if _, err := c.AddJob(spec, job); err != nil {
			return nil, fmt.Errorf("schedule %T on %q: %w", job, spec, err)
		}
	}

	return &Manager{cron: c}, nil
}

func (m *Manager) Start() {
	m.cron.Start()
}

// Stop stops scheduling and waits for running jobs, or until ctx is done.
func (m *Manager) Stop(ctx context.Context) error {
	select {
	case <-m.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
