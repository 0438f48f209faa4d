package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/die-net/revproxy/internal/apperr"
	"github.com/die-net/revproxy/internal/model"
)

func openTestRepo(t *testing.T, path string) *Repository {
	t.Helper()
	repo, err := Open(path, zap.NewNop(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func sampleConfig(id string) model.ProxyConfig {
	return model.ProxyConfig{
		ID:            id,
		Name:          "sample " + id,
		ListenIP:      "127.0.0.1",
		ListenPort:    8081,
		UseHTTPS:      true,
		RemoteAddress: "https://origin.example:8443",
		Headers: []model.Header{
			{Key: "X-Test", Value: "1"},
			{Key: "Authorization", Value: "Bearer abc"},
		},
		RewriteHostHeaders: true,
		SOCKS5Proxy:        "socks5://u:p@relay.example:1081",
		CreatedAt:          time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRoundTripAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "configs.db")

	repo, err := Open(path, zap.NewNop(), false)
	require.NoError(t, err)
	saved, err := repo.Upsert(ctx, sampleConfig("a"))
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo = openTestRepo(t, path)
	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, saved, got)
	assert.Empty(t, got.RemoteHost)
	assert.Equal(t, "origin.example", got.EffectiveRemoteHost())
	require.NotNil(t, got.Relay)
	assert.Equal(t, model.Relay{Host: "relay.example", Port: 1081, Username: "u", Password: "p"}, *got.Relay)
	assert.Equal(t, []model.Header{{Key: "X-Test", Value: "1"}, {Key: "Authorization", Value: "Bearer abc"}}, got.Headers)
	assert.True(t, got.CreatedAt.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestEmptyRemoteHostFollowsRemoteAddress(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t, filepath.Join(t.TempDir(), "host.db"))

	pc := sampleConfig("a")
	pc.RemoteAddress = "http://old.example"
	_, err := repo.Upsert(ctx, pc)
	require.NoError(t, err)

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, got.RemoteHost)
	assert.Equal(t, "old.example", got.EffectiveRemoteHost())

	got.RemoteAddress = "http://new.example"
	_, err = repo.Upsert(ctx, got)
	require.NoError(t, err)

	got, err = repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, got.RemoteHost)
	assert.Equal(t, "new.example", got.EffectiveRemoteHost())
}

func TestUpsertReplacesAndKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t, filepath.Join(t.TempDir(), "c.db"))

	first, err := repo.Upsert(ctx, sampleConfig("a"))
	require.NoError(t, err)

	update := sampleConfig("a")
	update.Name = "renamed"
	update.SOCKS5Proxy = ""
	update.CreatedAt = time.Time{}
	_, err = repo.Upsert(ctx, update)
	require.NoError(t, err)

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Nil(t, got.Relay)
	assert.True(t, got.CreatedAt.Equal(first.CreatedAt))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertRejectsInvalidWithoutWriting(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t, filepath.Join(t.TempDir(), "c.db"))

	_, err := repo.Upsert(ctx, sampleConfig("a"))
	require.NoError(t, err)

	bad := sampleConfig("a")
	bad.Name = "should not persist"
	bad.ListenPort = 70000
	_, err = repo.Upsert(ctx, bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Validation))

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "sample a", got.Name)
	assert.Equal(t, 8081, got.ListenPort)
}

func TestGetAndRemoveNotFound(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t, filepath.Join(t.TempDir(), "c.db"))

	_, err := repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.NotFound))

	err = repo.Remove(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.NotFound))

	_, err = repo.Upsert(ctx, sampleConfig("a"))
	require.NoError(t, err)
	require.NoError(t, repo.Remove(ctx, "a"))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestListOrder(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t, filepath.Join(t.TempDir(), "c.db"))

	older := sampleConfig("z")
	older.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := sampleConfig("b")

	_, err := repo.Upsert(ctx, newer)
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, older)
	require.NoError(t, err)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "z", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
}
