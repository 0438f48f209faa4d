package cronjob

import "go.uber.org/zap"

type StatusSource interface {
	Running() []string
	RefreshMetrics()
}

// StatusJob republishes the running-instance gauge and logs what is running.
type StatusJob struct {
	src StatusSource
	log *zap.Logger
}

func NewStatusJob(src StatusSource, log *zap.Logger) *StatusJob {
	return &StatusJob{src: src, log: log}
}

func (j *StatusJob) Run() {
	j.src.RefreshMetrics()
	running := j.src.Running()
	j.log.Info("proxy status", zap.Int("running", len(running)), zap.Strings("config_ids", running))
}
