package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/revproxy/internal/apperr"
	"github.com/die-net/revproxy/internal/certs"
	"github.com/die-net/revproxy/internal/model"
	"github.com/die-net/revproxy/internal/proxy"
)

type State string

const (
	Stopped  State = "stopped"
	Starting State = "starting"
	Running  State = "running"
	Stopping State = "stopping"
)

// ConfigSource looks up stored configurations.
type ConfigSource interface {
	Get(ctx context.Context, id string) (model.ProxyConfig, error)
}

type Options struct {
	Proxy proxy.Config

	// ShutdownGrace is how long in-flight requests get to finish on stop.
	// Zero closes them right away.
	ShutdownGrace time.Duration
}

type entry struct {
	state State
	ip    net.IP
	port  int
	inst  *proxy.Instance
}

type Registry struct {
	source  ConfigSource
	issuer  certs.Issuer
	opts    Options
	log     *zap.Logger
	metrics *proxy.Metrics

	listen func(ctx context.Context, addr string, ka net.KeepAliveConfig) (net.Listener, error)

	ids keyedMutex

	mu      sync.Mutex
	entries map[string]*entry
	lastErr map[string]error
}

func New(source ConfigSource, issuer certs.Issuer, opts Options, log *zap.Logger, m *proxy.Metrics) *Registry {
	return &Registry{
		source:  source,
		issuer:  issuer,
		opts:    opts,
		log:     log,
		metrics: m,
		listen:  proxy.Bind,
		entries: make(map[string]*entry),
		lastErr: make(map[string]error),
	}
}

// Start brings id to Running. Starting an already running id succeeds
// without touching it. On failure nothing stays bound or registered.
func (r *Registry) Start(ctx context.Context, id string) error {
	unlock := r.ids.Lock(id)
	defer unlock()

	pc, err := r.source.Get(ctx, id)
	if err != nil {
		return err
	}

	ip := net.ParseIP(pc.ListenIP)
	if ip == nil {
		return apperr.Newf(apperr.KindValidation, "invalid listen_ip %q", pc.ListenIP)
	}

	r.mu.Lock()
	if e, ok := r.entries[id]; ok && e.state == Running {
		r.mu.Unlock()
		return nil
	}
	if other := r.conflictLocked(id, ip, pc.ListenPort); other != "" {
		r.mu.Unlock()
		return apperr.New(apperr.KindPortInUse,
			fmt.Sprintf("%s is already used by running proxy %s", pc.ListenAddress(), other), nil)
	}
	e := &entry{state: Starting, ip: ip, port: pc.ListenPort}
	r.entries[id] = e
	r.mu.Unlock()

	inst, err := r.launch(ctx, pc)

	r.mu.Lock()
	if err != nil {
		delete(r.entries, id)
		r.mu.Unlock()
		r.log.Warn("proxy start failed", zap.String("config_id", id), zap.String("listen", pc.ListenAddress()), zap.Error(err))
		return err
	}
	e.inst = inst
	e.state = Running
	delete(r.lastErr, id)
	r.metrics.SetRunning(r.runningLocked())
	r.mu.Unlock()

	go r.watch(id, inst)

	r.log.Info("proxy started",
		zap.String("config_id", id),
		zap.String("listen", inst.Addr().String()),
		zap.String("remote", pc.RemoteAddress),
		zap.Bool("https", pc.UseHTTPS),
	)
	return nil
}

// launch binds, issues TLS material if needed, and starts serving. Any
// failure after the bind closes the socket before returning.
func (r *Registry) launch(ctx context.Context, pc model.ProxyConfig) (*proxy.Instance, error) {
	ln, err := r.listen(ctx, pc.ListenAddress(), r.opts.Proxy.Dial.KeepAlive)
	if err != nil {
		return nil, err
	}

	var bundle *certs.Bundle
	if pc.UseHTTPS {
		bundle, err = r.issuer.Issue(certs.Identity{Name: pc.Name, ListenIP: pc.ListenIP})
		if err != nil {
			_ = ln.Close()
			if apperr.KindOf(err) != apperr.KindCertificate {
				err = apperr.New(apperr.KindCertificate, "issue certificate", err)
			}
			return nil, err
		}
	}

	inst, err := proxy.NewInstance(pc, ln, bundle, r.opts.Proxy, r.log, r.metrics)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	inst.Serve()

	return inst, nil
}

// conflictLocked returns the id of another live entry bound to the same
// port on an overlapping address. A wildcard address overlaps every address.
func (r *Registry) conflictLocked(id string, ip net.IP, port int) string {
	for otherID, e := range r.entries {
		if otherID == id || e.port != port {
			continue
		}
		if e.ip.Equal(ip) || e.ip.IsUnspecified() || ip.IsUnspecified() {
			return otherID
		}
	}
	return ""
}

// watch drops an instance whose accept loop exited without being stopped.
func (r *Registry) watch(id string, inst *proxy.Instance) {
	<-inst.Done()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.inst != inst || e.state != Running {
		return
	}

	err := inst.Err()
	if err == nil {
		err = errors.New("accept loop exited unexpectedly")
	}
	delete(r.entries, id)
	r.lastErr[id] = err
	r.metrics.SetRunning(r.runningLocked())

	r.log.Error("proxy errored", zap.String("config_id", id), zap.Error(err))
}

// Stop brings id to Stopped. It is a no-op for ids that are not running.
// In-flight requests get the configured grace period, bounded by ctx, before
// their connections are closed.
func (r *Registry) Stop(ctx context.Context, id string) {
	unlock := r.ids.Lock(id)
	defer unlock()

	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.state != Running {
		r.mu.Unlock()
		return
	}
	e.state = Stopping
	inst := e.inst
	r.mu.Unlock()

	// A zero grace expires at once and force-closes immediately.
	ctx, cancel := context.WithTimeout(ctx, max(r.opts.ShutdownGrace, 0))
	defer cancel()

	forced := inst.Shutdown(ctx) != nil

	r.mu.Lock()
	delete(r.entries, id)
	r.metrics.SetRunning(r.runningLocked())
	r.mu.Unlock()

	r.log.Info("proxy stopped", zap.String("config_id", id), zap.Bool("forced", forced))
}

// StopAll stops every running instance concurrently.
func (r *Registry) StopAll(ctx context.Context) {
	var g errgroup.Group
	for _, id := range r.Running() {
		g.Go(func() error {
			r.Stop(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Registry) Status(id string) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		return e.state
	}
	return Stopped
}

func (r *Registry) IsRunning(id string) bool {
	return r.Status(id) == Running
}

// Running returns the ids of running instances, sorted.
func (r *Registry) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if e.state == Running {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Snapshot returns the configuration a running instance was started with.
func (r *Registry) Snapshot(id string) (model.ProxyConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.state != Running {
		return model.ProxyConfig{}, false
	}
	return e.inst.Config(), true
}

// LastError returns the error that last took id down on its own, if any.
func (r *Registry) LastError(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr[id]
}

// Forget drops any remembered error for id.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	delete(r.lastErr, id)
	r.mu.Unlock()
	r.metrics.Forget(id)
}

// CloseIdleConnections drops idle pooled upstream connections of every
// running instance.
func (r *Registry) CloseIdleConnections() int {
	r.mu.Lock()
	insts := make([]*proxy.Instance, 0, len(r.entries))
	for _, e := range r.entries {
		if e.state == Running {
			insts = append(insts, e.inst)
		}
	}
	r.mu.Unlock()

	for _, inst := range insts {
		inst.CloseIdleConnections()
	}
	return len(insts)
}

// RefreshMetrics re-publishes the running instance gauge.
func (r *Registry) RefreshMetrics() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics.SetRunning(r.runningLocked())
}

func (r *Registry) runningLocked() int {
	n := 0
	for _, e := range r.entries {
		if e.state == Running {
			n++
		}
	}
	return n
}
