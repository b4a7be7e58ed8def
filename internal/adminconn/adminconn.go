// Package adminconn provides a single, lazily-connected, self-healing
// administrative WebSocket shared by every request handler.
package adminconn

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/holochain/hc-http-gw/internal/conductor"
	"github.com/holochain/hc-http-gw/internal/gwerrors"
)

// MaxRetries is the number of reconnect attempts permitted per call: one
// reconnect, no exponential backoff.
const MaxRetries = 1

// AdminConn owns the single administrative WebSocket connection.
type AdminConn struct {
	addr   string
	dialer conductor.Dialer
	log    *logrus.Entry

	mu     sync.RWMutex
	handle conductor.AdminClient
}

// New creates an unconnected AdminConn; it connects lazily on first use.
func New(addr string, dialer conductor.Dialer, log *logrus.Entry) *AdminConn {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &AdminConn{addr: addr, dialer: dialer, log: log}
}

// acquire returns the current handle, dialing one under the write lock if empty.
func (a *AdminConn) acquire(ctx context.Context) (conductor.AdminClient, error) {
	a.mu.RLock()
	h := a.handle
	a.mu.RUnlock()
	if h != nil {
		return h, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle != nil {
		return a.handle, nil
	}
	client, err := a.dialer.DialAdmin(ctx, a.addr)
	if err != nil {
		a.log.WithError(err).Warn("failed to connect to admin websocket")
		return nil, gwerrors.UpstreamUnavailable()
	}
	a.handle = client
	return client, nil
}

// clear drops the current handle so the next acquire reconnects.
func (a *AdminConn) clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handle = nil
}

// call runs f against the current admin connection, reconnecting and
// retrying exactly once if f fails with a transport-level error. Protocol
// errors from the Conductor propagate unchanged.
func call[T any](ctx context.Context, a *AdminConn, f func(conductor.AdminClient) (T, error)) (T, error) {
	var zero T
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		client, err := a.acquire(ctx)
		if err != nil {
			return zero, err
		}
		result, err := f(client)
		if err == nil {
			return result, nil
		}
		if conductor.IsTransportError(err) {
			a.log.WithError(err).Warn("admin websocket transport error, reconnecting")
			a.clear()
			if attempt < MaxRetries {
				continue
			}
			return zero, gwerrors.UpstreamUnavailable()
		}
		return zero, err
	}
	return zero, gwerrors.UpstreamUnavailable()
}

// ListAppInterfaces forwards to the admin client's capability of the same name.
func (a *AdminConn) ListAppInterfaces(ctx context.Context) ([]conductor.AppInterface, error) {
	return call(ctx, a, func(c conductor.AdminClient) ([]conductor.AppInterface, error) {
		return c.ListAppInterfaces(ctx)
	})
}

// IssueAppAuthToken forwards to the admin client's capability of the same name.
func (a *AdminConn) IssueAppAuthToken(ctx context.Context, appID string) (conductor.AppAuthToken, error) {
	return call(ctx, a, func(c conductor.AdminClient) (conductor.AppAuthToken, error) {
		return c.IssueAppAuthToken(ctx, appID)
	})
}

// AuthorizeSigningCredentials forwards to the admin client's capability of the same name.
func (a *AdminConn) AuthorizeSigningCredentials(ctx context.Context, req conductor.AuthorizeSigningCredentialsRequest) (conductor.SigningCredentials, error) {
	return call(ctx, a, func(c conductor.AdminClient) (conductor.SigningCredentials, error) {
		return c.AuthorizeSigningCredentials(ctx, req)
	})
}

// AttachAppInterface forwards to the admin client's capability of the same name.
func (a *AdminConn) AttachAppInterface(ctx context.Context, req conductor.AttachAppInterfaceRequest) (conductor.AppInterface, error) {
	return call(ctx, a, func(c conductor.AdminClient) (conductor.AppInterface, error) {
		return c.AttachAppInterface(ctx, req)
	})
}

// ListApps forwards to the admin client's capability of the same name.
func (a *AdminConn) ListApps(ctx context.Context, status conductor.AppStatusFilter) ([]conductor.AppInfo, error) {
	return call(ctx, a, func(c conductor.AdminClient) ([]conductor.AppInfo, error) {
		return c.ListApps(ctx, status)
	})
}
