package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holochain/hc-http-gw/internal/config"
	"github.com/holochain/hc-http-gw/internal/conductor"
	"github.com/holochain/hc-http-gw/internal/gwerrors"
)

type fakeAdmin struct {
	port uint16
}

func (f *fakeAdmin) ListAppInterfaces(ctx context.Context) ([]conductor.AppInterface, error) {
	return []conductor.AppInterface{{Port: f.port, AllowedOrigins: []string{conductor.OriginTag}}}, nil
}

func (f *fakeAdmin) IssueAppAuthToken(ctx context.Context, appID string) (conductor.AppAuthToken, error) {
	return conductor.AppAuthToken{Token: []byte(appID)}, nil
}

func (f *fakeAdmin) AuthorizeSigningCredentials(ctx context.Context, req conductor.AuthorizeSigningCredentialsRequest) (conductor.SigningCredentials, error) {
	return conductor.SigningCredentials{}, nil
}

func (f *fakeAdmin) AttachAppInterface(ctx context.Context, req conductor.AttachAppInterfaceRequest) (conductor.AppInterface, error) {
	return conductor.AppInterface{Port: f.port}, nil
}

type fakeAppClient struct {
	closed bool
	fn     func(module, fn string, payload []byte) ([]byte, error)
}

func (c *fakeAppClient) CallFunction(ctx context.Context, cellID conductor.CellID, module, fn string, payload []byte) ([]byte, error) {
	if c.fn != nil {
		return c.fn(module, fn, payload)
	}
	return []byte("ok"), nil
}

func (c *fakeAppClient) AppInfo() conductor.AppInfo { return conductor.AppInfo{} }
func (c *fakeAppClient) Close() error               { c.closed = true; return nil }

type fakeDialer struct {
	dialCount int
	dialErr   error
	onDial    func(appID string) conductor.AppClient
}

func (d *fakeDialer) DialAdmin(ctx context.Context, addr string) (conductor.AdminClient, error) {
	return nil, nil
}

func (d *fakeDialer) DialApp(ctx context.Context, addr string, port uint16, token conductor.AppAuthToken, origin string, timeout time.Duration) (conductor.AppClient, error) {
	d.dialCount++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return &fakeAppClient{}, nil
}

func testConfig(t *testing.T, maxConns string, apps ...string) *config.Configuration {
	fns := map[string]string{}
	for _, a := range apps {
		fns[a] = "*"
	}
	cfg, err := config.Parse("127.0.0.1:1234", "", "", fns, maxConns, "")
	require.NoError(t, err)
	return cfg
}

func TestGetOrConnectReusesPooledEntry(t *testing.T) {
	cfg := testConfig(t, "50")
	dialer := &fakeDialer{}
	p := New(cfg, &fakeAdmin{port: 1}, dialer, nil)

	_, err := p.GetOrConnect(context.Background(), "tapp")
	require.NoError(t, err)
	_, err = p.GetOrConnect(context.Background(), "tapp")
	require.NoError(t, err)

	assert.Equal(t, 1, dialer.dialCount)
}

func TestEvictionIsOldestFirst(t *testing.T) {
	cfg := testConfig(t, "2")
	dialer := &fakeDialer{}
	p := New(cfg, &fakeAdmin{port: 1}, dialer, nil)

	_, err := p.GetOrConnect(context.Background(), "a2")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = p.GetOrConnect(context.Background(), "a1")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = p.GetOrConnect(context.Background(), "a3")
	require.NoError(t, err)

	assert.Equal(t, 2, p.Len())
	assert.False(t, p.Has("a2"), "oldest entry should have been evicted")
	assert.True(t, p.Has("a1"))
	assert.True(t, p.Has("a3"))
}

func TestCallEvictsOnTransportErrorAndRetries(t *testing.T) {
	cfg := testConfig(t, "50")
	dialer := &fakeDialer{}
	p := New(cfg, &fakeAdmin{port: 1}, dialer, nil)

	calls := 0
	_, err := p.Call(context.Background(), "tapp", func(c conductor.AppClient) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, &conductor.TransportError{}
		}
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, dialer.dialCount, "eviction forces a fresh dial on the second attempt")
}

func TestCallReturnsUpstreamUnavailableAfterBoundedAttempts(t *testing.T) {
	cfg := testConfig(t, "50")
	dialer := &fakeDialer{}
	p := New(cfg, &fakeAdmin{port: 1}, dialer, nil)

	_, err := p.Call(context.Background(), "tapp", func(c conductor.AppClient) ([]byte, error) {
		return nil, &conductor.TransportError{}
	})
	require.Error(t, err)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindUpstreamUnavailable, gwErr.Kind)
	assert.Equal(t, MaxCallAttempts, dialer.dialCount)
}

func TestCallPropagatesNonTransportErrorImmediately(t *testing.T) {
	cfg := testConfig(t, "50")
	dialer := &fakeDialer{}
	p := New(cfg, &fakeAdmin{port: 1}, dialer, nil)

	sentinel := gwerrors.UnauthorizedFunction("tapp", "m", "f")
	_, err := p.Call(context.Background(), "tapp", func(c conductor.AppClient) ([]byte, error) {
		return nil, sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, dialer.dialCount)
}
