package proxy

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/die-net/revproxy/internal/apperr"
	"github.com/die-net/revproxy/internal/certs"
	"github.com/die-net/revproxy/internal/model"
	"github.com/die-net/revproxy/internal/socks5"
	tu "github.com/die-net/revproxy/internal/testutil"
)

func startInstance(t *testing.T, pc model.ProxyConfig) *Instance {
	t.Helper()

	pc.ListenIP = "127.0.0.1"
	pc.ListenPort = tu.FreePort(t)
	pc = prepared(t, pc)

	ln, err := Bind(context.Background(), pc.ListenAddress(), net.KeepAliveConfig{})
	require.NoError(t, err)

	var bundle *certs.Bundle
	if pc.UseHTTPS {
		bundle, err = certs.NewSelfSigned().Issue(certs.Identity{Name: pc.Name, ListenIP: pc.ListenIP})
		require.NoError(t, err)
	}

	inst, err := NewInstance(pc, ln, bundle, testConfig(), zap.NewNop(), nil)
	if err != nil {
		_ = ln.Close()
		t.Fatal(err)
	}
	inst.Serve()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = inst.Shutdown(ctx)
	})

	return inst
}

func get(t *testing.T, client *http.Client, rawURL string) (int, string) {
	t.Helper()

	resp, err := client.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestInstanceServesHTTP(t *testing.T) {
	origin, seen := tu.StartOrigin(t, nil)
	inst := startInstance(t, model.ProxyConfig{RemoteAddress: origin.URL, RewriteHostHeaders: true})

	status, body := get(t, http.DefaultClient, "http://"+inst.Addr().String()+"/hello")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "origin ok", body)
	assert.Equal(t, "/hello", (<-seen).Path)
	assert.Empty(t, inst.Fingerprint())
}

func TestInstanceServesHTTPS(t *testing.T) {
	origin, _ := tu.StartOrigin(t, nil)
	inst := startInstance(t, model.ProxyConfig{RemoteAddress: origin.URL, UseHTTPS: true})

	var peer *tls.ConnectionState
	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed
		ForceAttemptHTTP2: true,
	}}
	resp, err := client.Get("https://" + inst.Addr().String() + "/")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	peer = resp.TLS

	require.NotNil(t, peer)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HTTP/2.0", resp.Proto)
	require.NotEmpty(t, peer.PeerCertificates)
	assert.NotEmpty(t, inst.Fingerprint())
}

func TestInstanceThroughSOCKS5Relay(t *testing.T) {
	origin, seen := tu.StartOrigin(t, nil)
	relay := tu.StartSOCKS5Relay(t, socks5.Auth{Username: "user", Password: "secret"})

	inst := startInstance(t, model.ProxyConfig{
		RemoteAddress:      origin.URL,
		RewriteHostHeaders: true,
		SOCKS5Proxy:        "socks5://user:secret@" + relay.Addr(),
	})

	status, _ := get(t, http.DefaultClient, "http://"+inst.Addr().String()+"/via-relay")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/via-relay", (<-seen).Path)
	assert.Equal(t, int64(1), relay.Connects())
}

func TestInstanceSurvivesUpstreamFailure(t *testing.T) {
	origin, _ := tu.StartOrigin(t, nil)
	dead := tu.FreePort(t)

	broken := startInstance(t, model.ProxyConfig{ID: "broken", RemoteAddress: "http://127.0.0.1:" + strconv.Itoa(dead)})
	healthy := startInstance(t, model.ProxyConfig{ID: "healthy", RemoteAddress: origin.URL})

	for range 3 {
		status, _ := get(t, http.DefaultClient, "http://"+broken.Addr().String()+"/")
		assert.Equal(t, http.StatusBadGateway, status)
	}

	status, _ := get(t, http.DefaultClient, "http://"+healthy.Addr().String()+"/")
	assert.Equal(t, http.StatusOK, status)

	select {
	case <-broken.Done():
		t.Fatal("instance stopped after upstream failures")
	default:
	}
}

func TestInstanceShutdownWaitsForInFlight(t *testing.T) {
	started := make(chan struct{})
	origin, _ := tu.StartOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		_, _ = io.WriteString(w, "done")
	})
	inst := startInstance(t, model.ProxyConfig{RemoteAddress: origin.URL})

	result := make(chan string, 1)
	go func() {
		resp, err := http.Get("http://" + inst.Addr().String() + "/")
		if err != nil {
			result <- err.Error()
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		result <- string(b)
	}()

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, inst.Shutdown(ctx))

	assert.Equal(t, "done", <-result)
	assert.NoError(t, inst.Err())
}

func TestInstanceShutdownForcesAfterGrace(t *testing.T) {
	started := make(chan struct{})
	origin, _ := tu.StartOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	})
	inst := startInstance(t, model.ProxyConfig{RemoteAddress: origin.URL})

	go func() {
		resp, err := http.Get("http://" + inst.Addr().String() + "/")
		if err == nil {
			resp.Body.Close()
		}
	}()

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := inst.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	// The port is released.
	ln, err := net.Listen("tcp", inst.Addr().String())
	require.NoError(t, err)
	_ = ln.Close()
}

func TestBindPortInUse(t *testing.T) {
	_, port := tu.Occupy(t)

	_, err := Bind(context.Background(), "127.0.0.1:"+strconv.Itoa(port), net.KeepAliveConfig{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindPortInUse, apperr.KindOf(err))
}

func TestNewInstanceRejectsMismatchedTLS(t *testing.T) {
	pc := prepared(t, model.ProxyConfig{RemoteAddress: "http://127.0.0.1:1", UseHTTPS: true})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = NewInstance(pc, ln, nil, testConfig(), zap.NewNop(), nil)
	require.Error(t, err)
}

func TestInstanceAcceptFailureIsReported(t *testing.T) {
	pc := prepared(t, model.ProxyConfig{RemoteAddress: "http://127.0.0.1:1"})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	inst, err := NewInstance(pc, ln, nil, testConfig(), zap.NewNop(), nil)
	require.NoError(t, err)
	inst.Serve()

	require.NoError(t, ln.Close())

	select {
	case <-inst.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("accept loop did not exit")
	}
	assert.Error(t, inst.Err())
}
