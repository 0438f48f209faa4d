// Package command is the operation set the console drives: configuration
// CRUD plus starting, stopping and probing proxies.
package command

import (
	"context"

	"go.uber.org/zap"

	"github.com/die-net/revproxy/internal/model"
	"github.com/die-net/revproxy/internal/portcheck"
)

// Repository stores proxy configurations.
type Repository interface {
	List(ctx context.Context) ([]model.ProxyConfig, error)
	Get(ctx context.Context, id string) (model.ProxyConfig, error)
	Upsert(ctx context.Context, c model.ProxyConfig) (model.ProxyConfig, error)
	Remove(ctx context.Context, id string) error
}

// Runtime controls running instances.
type Runtime interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string)
	IsRunning(id string) bool
	Snapshot(id string) (model.ProxyConfig, bool)
	LastError(id string) error
	Forget(id string)
}

// ConfigView is a stored configuration plus its live state.
type ConfigView struct {
	model.ProxyConfig
	ListenAddress   string `json:"listen_address"`
	IsRunning       bool   `json:"is_running"`
	RestartRequired bool   `json:"restart_required"`
	LastError       string `json:"last_error,omitempty"`
}

type Service struct {
	repo    Repository
	runtime Runtime
	log     *zap.Logger
}

func NewService(repo Repository, runtime Runtime, log *zap.Logger) *Service {
	return &Service{repo: repo, runtime: runtime, log: log}
}

// ListConfigs returns every stored configuration with is_running computed
// from the runtime at call time.
func (s *Service) ListConfigs(ctx context.Context) ([]ConfigView, error) {
	configs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]ConfigView, 0, len(configs))
	for _, c := range configs {
		v := ConfigView{ProxyConfig: c, ListenAddress: c.ListenAddress()}
		if snap, ok := s.runtime.Snapshot(c.ID); ok {
			v.IsRunning = true
			v.RestartRequired = !model.SameRuntime(snap, c)
		}
		if err := s.runtime.LastError(c.ID); err != nil {
			v.LastError = err.Error()
		}
		views = append(views, v)
	}
	return views, nil
}

// SaveConfig validates and upserts c. A running instance keeps serving its
// start-time snapshot until it is restarted.
func (s *Service) SaveConfig(ctx context.Context, c model.ProxyConfig) (model.ProxyConfig, error) {
	saved, err := s.repo.Upsert(ctx, c)
	if err != nil {
		return model.ProxyConfig{}, err
	}

	if snap, ok := s.runtime.Snapshot(saved.ID); ok && !model.SameRuntime(snap, saved) {
		s.log.Info("config saved while running, restart to apply", zap.String("config_id", saved.ID))
	}
	return saved, nil
}

// DeleteConfig stops the instance if it is running and removes the record.
func (s *Service) DeleteConfig(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}

	s.runtime.Stop(ctx, id)
	if err := s.repo.Remove(ctx, id); err != nil {
		return err
	}
	// A start that raced in between Stop and Remove.
	s.runtime.Stop(ctx, id)
	s.runtime.Forget(id)

	s.log.Info("config deleted", zap.String("config_id", id))
	return nil
}

func (s *Service) StartProxy(ctx context.Context, id string) error {
	return s.runtime.Start(ctx, id)
}

// StopProxy never fails, including for unknown ids.
func (s *Service) StopProxy(ctx context.Context, id string) {
	s.runtime.Stop(ctx, id)
}

// CheckPort reports whether ip:port can be bound right now. The answer is
// advisory; StartProxy performs the authoritative bind.
func (s *Service) CheckPort(ip string, port int) bool {
	return portcheck.Probe(ip, port)
}

// CreateDefaultConfig returns an unsaved configuration with defaults.
func (s *Service) CreateDefaultConfig() model.ProxyConfig {
	return model.NewDefault()
}
