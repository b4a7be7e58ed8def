// Package wsconductor is the concrete, gorilla/websocket-backed
// implementation of the conductor.Dialer/AdminClient/AppClient interfaces.
// It is deliberately minimal: correlate requests and responses by an
// incrementing id over the wire.Envelope framing, and classify any socket
// read/write/dial failure as a conductor.TransportError so AdminConn and
// AppConnPool can apply their bounded-retry rules.
package wsconductor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/holochain/hc-http-gw/internal/conductor"
	"github.com/holochain/hc-http-gw/internal/conductor/wire"
)

// Dialer is the default conductor.Dialer implementation.
type Dialer struct{}

func (Dialer) DialAdmin(ctx context.Context, addr string) (conductor.AdminClient, error) {
	return dialAdminClient(ctx, addr)
}

func (Dialer) DialApp(ctx context.Context, addr string, port uint16, token conductor.AppAuthToken, origin string, timeout time.Duration) (conductor.AppClient, error) {
	header := http.Header{}
	header.Set("Origin", origin)
	appAddr := fmt.Sprintf("%s:%d", stripPort(addr), port)
	c, err := dialWithTimeout(ctx, appAddr, header, timeout)
	if err != nil {
		return nil, err
	}
	if err := c.sendAuth(ctx, token); err != nil {
		_ = c.Close()
		return nil, err
	}
	info, err := c.fetchAppInfo(ctx)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return &appClient{conn: c, info: info}, nil
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// conn wraps a websocket connection with envelope-correlated request/response
// dispatch and a background reader.
type conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	nextID  uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan wire.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

func dial(ctx context.Context, addr string, header http.Header) (*conn, error) {
	return dialWithTimeout(ctx, addr, header, 10*time.Second)
}

func dialWithTimeout(ctx context.Context, addr string, header http.Header, timeout time.Duration) (*conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	u := url.URL{Scheme: "ws", Host: addr}
	ws, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, &conductor.TransportError{Cause: err}
	}
	c := &conn{
		ws:      ws,
		pending: make(map[uint64]chan wire.Envelope),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.failAllPending(err)
			return
		}
		env, err := wire.Decode(data)
		if err != nil {
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- env
		}
	}
}

func (c *conn) failAllPending(_ error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *conn) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	id := atomic.AddUint64(&c.nextID, 1)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	env := wire.Envelope{ID: id, Type: wire.TypeRequest, Method: method, Payload: body}
	encoded, err := wire.Encode(env)
	if err != nil {
		return nil, err
	}

	respCh := make(chan wire.Envelope, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	writeErr := c.ws.WriteMessage(websocket.TextMessage, encoded)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, &conductor.TransportError{Cause: writeErr}
	}

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, &conductor.TransportError{Cause: ctx.Err()}
	case resp, ok := <-respCh:
		if !ok {
			return nil, &conductor.TransportError{Cause: fmt.Errorf("connection closed while awaiting %s", method)}
		}
		if resp.Type == wire.TypeError {
			return nil, conductor.ErrProtocol(resp.Error)
		}
		return resp.Payload, nil
	}
}

func (c *conn) sendAuth(ctx context.Context, token conductor.AppAuthToken) error {
	_, err := c.call(ctx, "authenticate", map[string]any{"token": token.Token})
	return err
}

func (c *conn) fetchAppInfo(ctx context.Context) (conductor.AppInfo, error) {
	raw, err := c.call(ctx, "app_info", map[string]any{})
	if err != nil {
		return conductor.AppInfo{}, err
	}
	var info conductor.AppInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return conductor.AppInfo{}, &conductor.TransportError{Cause: err}
	}
	return info, nil
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

// adminClient implements conductor.AdminClient over conn.
type adminClient struct {
	*conn
}

func dialAdminClient(ctx context.Context, addr string) (conductor.AdminClient, error) {
	c, err := dial(ctx, addr, http.Header{})
	if err != nil {
		return nil, err
	}
	return &adminClient{conn: c}, nil
}

func (a *adminClient) ListAppInterfaces(ctx context.Context) ([]conductor.AppInterface, error) {
	raw, err := a.call(ctx, "list_app_interfaces", map[string]any{})
	if err != nil {
		return nil, err
	}
	var out []conductor.AppInterface
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &conductor.TransportError{Cause: err}
	}
	return out, nil
}

func (a *adminClient) IssueAppAuthToken(ctx context.Context, appID string) (conductor.AppAuthToken, error) {
	raw, err := a.call(ctx, "issue_app_auth_token", map[string]any{"installed_app_id": appID})
	if err != nil {
		return conductor.AppAuthToken{}, err
	}
	var out conductor.AppAuthToken
	if err := json.Unmarshal(raw, &out); err != nil {
		return conductor.AppAuthToken{}, &conductor.TransportError{Cause: err}
	}
	return out, nil
}

func (a *adminClient) AuthorizeSigningCredentials(ctx context.Context, req conductor.AuthorizeSigningCredentialsRequest) (conductor.SigningCredentials, error) {
	raw, err := a.call(ctx, "authorize_signing_credentials", req)
	if err != nil {
		return conductor.SigningCredentials{}, err
	}
	var out conductor.SigningCredentials
	if err := json.Unmarshal(raw, &out); err != nil {
		return conductor.SigningCredentials{}, &conductor.TransportError{Cause: err}
	}
	return out, nil
}

func (a *adminClient) AttachAppInterface(ctx context.Context, req conductor.AttachAppInterfaceRequest) (conductor.AppInterface, error) {
	raw, err := a.call(ctx, "attach_app_interface", req)
	if err != nil {
		return conductor.AppInterface{}, err
	}
	var out conductor.AppInterface
	if err := json.Unmarshal(raw, &out); err != nil {
		return conductor.AppInterface{}, &conductor.TransportError{Cause: err}
	}
	return out, nil
}

func (a *adminClient) ListApps(ctx context.Context, status conductor.AppStatusFilter) ([]conductor.AppInfo, error) {
	raw, err := a.call(ctx, "list_apps", map[string]any{"status": status})
	if err != nil {
		return nil, err
	}
	var out []conductor.AppInfo
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &conductor.TransportError{Cause: err}
	}
	return out, nil
}

// appClient implements conductor.AppClient over conn.
type appClient struct {
	conn *conn
	info conductor.AppInfo
}

func (a *appClient) CallFunction(ctx context.Context, cellID conductor.CellID, module, fn string, payload []byte) ([]byte, error) {
	raw, err := a.conn.call(ctx, "call_zome", map[string]any{
		"cell_id": cellID,
		"module":  module,
		"fn":      fn,
		"payload": payload,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Bytes []byte `json:"bytes"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &conductor.TransportError{Cause: err}
	}
	return out.Bytes, nil
}

func (a *appClient) AppInfo() conductor.AppInfo { return a.info }

func (a *appClient) Close() error { return a.conn.Close() }

var _ conductor.Dialer = Dialer{}
