package dialer

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/revproxy/internal/apperr"
	"github.com/die-net/revproxy/internal/model"
	"github.com/die-net/revproxy/internal/testutil"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		relay    *model.Relay
		wantType any
	}{
		{name: "no relay", wantType: &directDialer{}},
		{name: "socks5 relay", relay: &model.Relay{Host: "relay.example", Port: 1080}, wantType: &SOCKS5ProxyDialer{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(Config{}, tt.relay)
			require.NotNil(t, d)
			assert.Equal(t, reflect.TypeOf(tt.wantType), reflect.TypeOf(d))
		})
	}
}

func TestDirectDialerEcho(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)

	conn, err := NewDirectDialer(Config{DialTimeout: time.Second}).DialContext(ctx, "tcp", echoLn.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	testutil.AssertEcho(t, conn, conn, []byte("hello"))
}

func TestDirectDialerRefused(t *testing.T) {
	port := testutil.FreePort(t)

	_, err := NewDirectDialer(Config{DialTimeout: time.Second}).DialContext(context.Background(), "tcp", net.JoinHostPort("127.0.0.1", itoa(port)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.UpstreamConnect), "got %v", err)
}

func TestDialUnsupportedNetwork(t *testing.T) {
	_, err := NewDirectDialer(Config{}).DialContext(context.Background(), "udp", "127.0.0.1:53")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamConnect, apperr.KindOf(err))
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, isTimeout(context.DeadlineExceeded))
	assert.True(t, isTimeout(&net.OpError{Op: "dial", Err: timeoutErr{}}))
	assert.False(t, isTimeout(errors.New("refused")))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
