package cronjob

import "go.uber.org/zap"

type IdleConnCloser interface {
	CloseIdleConnections() int
}

// IdleConnJob drops idle pooled upstream connections so that remotes which
// changed address are re-resolved and dead sockets do not linger.
type IdleConnJob struct {
	closer IdleConnCloser
	log    *zap.Logger
}

func NewIdleConnJob(closer IdleConnCloser, log *zap.Logger) *IdleConnJob {
	return &IdleConnJob{closer: closer, log: log}
}

func (j *IdleConnJob) Run() {
	n := j.closer.CloseIdleConnections()
	j.log.Debug("closed idle upstream connections", zap.Int("instances", n))
}
