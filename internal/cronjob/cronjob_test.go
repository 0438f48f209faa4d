package cronjob

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeRuntime struct {
	closed    atomic.Int32
	refreshed atomic.Int32
}

func (f *fakeRuntime) CloseIdleConnections() int {
	f.closed.Add(1)
	return 2
}

func (f *fakeRuntime) Running() []string { return []string{"a", "b"} }

func (f *fakeRuntime) RefreshMetrics() { f.refreshed.Add(1) }

func TestJobsRun(t *testing.T) {
	rt := &fakeRuntime{}
	core, logs := observer.New(zap.InfoLevel)

	NewIdleConnJob(rt, zap.NewNop()).Run()
	NewStatusJob(rt, zap.New(core)).Run()

	assert.Equal(t, int32(1), rt.closed.Load())
	assert.Equal(t, int32(1), rt.refreshed.Load())
	require.Equal(t, 1, logs.FilterMessage("proxy status").Len())
	assert.Equal(t, int64(2), logs.FilterMessage("proxy status").All()[0].ContextMap()["running"])
}

func TestManagerSchedules(t *testing.T) {
	rt := &fakeRuntime{}
	m, err := NewManager("@every 1s", zap.NewNop(), NewIdleConnJob(rt, zap.NewNop()))
	require.NoError(t, err)

	m.Start()
	require.Eventually(t, func() bool { return rt.closed.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	require.NoError(t, m.Stop(context.Background()))
}

func TestManagerRecoversPanics(t *testing.T) {
	ran := make(chan struct{}, 4)
	m, err := NewManager("@every 1s", zap.NewNop(), cron.FuncJob(func() {
		ran <- struct{}{}
		panic("boom")
	}))
	require.NoError(t, err)

	m.Start()
	defer func() { _ = m.Stop(context.Background()) }()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestManagerRejectsBadSpec(t *testing.T) {
	_, err := NewManager("whenever", zap.NewNop(), NewIdleConnJob(&fakeRuntime{}, zap.NewNop()))
	assert.Error(t, err)
}
