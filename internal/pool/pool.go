// Package pool implements a bounded map from installed-application id to an
// authorized application WebSocket, with FIFO-by-open-time eviction and
// bounded retry on transport failure.
package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/holochain/hc-http-gw/internal/config"
	"github.com/holochain/hc-http-gw/internal/conductor"
	"github.com/holochain/hc-http-gw/internal/gwerrors"
)

// MaxCallAttempts bounds how many attempts Call makes (the first try plus
// retries) before giving up.
const MaxCallAttempts = 3

// AdminCaller is the subset of AdminConn the pool needs to establish
// connections: resolving ports, issuing tokens, authorizing credentials.
type AdminCaller interface {
	ListAppInterfaces(ctx context.Context) ([]conductor.AppInterface, error)
	IssueAppAuthToken(ctx context.Context, appID string) (conductor.AppAuthToken, error)
	AuthorizeSigningCredentials(ctx context.Context, req conductor.AuthorizeSigningCredentialsRequest) (conductor.SigningCredentials, error)
	AttachAppInterface(ctx context.Context, req conductor.AttachAppInterfaceRequest) (conductor.AppInterface, error)
}

type entry struct {
	client   conductor.AppClient
	openedAt time.Time
}

// Pool is a bounded set of authorized per-application WebSocket connections,
// keyed by installed-app id.
type Pool struct {
	cfg    *config.Configuration
	admin  AdminCaller
	dialer conductor.Dialer
	log    *logrus.Entry

	mu            sync.RWMutex
	clients       map[string]*entry
	cachedAppPort *uint16

	dialGroup singleflight.Group
}

// New builds an empty pool bounded by cfg.MaxAppConnections.
func New(cfg *config.Configuration, admin AdminCaller, dialer conductor.Dialer, log *logrus.Entry) *Pool {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pool{
		cfg:     cfg,
		admin:   admin,
		dialer:  dialer,
		log:     log,
		clients: make(map[string]*entry),
	}
}

// Len reports the current number of pooled connections (test/observability hook).
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// Has reports whether appID currently has a pooled connection.
func (p *Pool) Has(appID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.clients[appID]
	return ok
}

// Remove drops appID's pooled connection, if any, closing its client.
func (p *Pool) Remove(appID string) {
	p.mu.Lock()
	e, ok := p.clients[appID]
	if ok {
		delete(p.clients, appID)
	}
	p.mu.Unlock()
	if ok && e.client != nil {
		_ = e.client.Close()
	}
}

// GetOrConnect returns the pooled client for appID, connecting and
// authorizing one if none exists yet.
func (p *Pool) GetOrConnect(ctx context.Context, appID string) (conductor.AppClient, error) {
	p.mu.RLock()
	if e, ok := p.clients[appID]; ok {
		p.mu.RUnlock()
		return e.client, nil
	}
	p.mu.RUnlock()

	// singleflight collapses concurrent first-connect races for the same
	// app-id into one dial+authorize sequence.
	v, err, _ := p.dialGroup.Do(appID, func() (any, error) {
		p.mu.RLock()
		if e, ok := p.clients[appID]; ok {
			p.mu.RUnlock()
			return e.client, nil
		}
		p.mu.RUnlock()

		client, err := p.connect(ctx, appID)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.clients[appID] = &entry{client: client, openedAt: time.Now()}
		p.evictLocked()
		p.mu.Unlock()
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(conductor.AppClient), nil
}

// evictLocked removes the oldest-opened entry if the pool exceeds its bound.
// Must be called with p.mu held for writing; it never blocks on upstream I/O.
func (p *Pool) evictLocked() {
	if len(p.clients) <= p.cfg.MaxAppConnections {
		return
	}
	ids := make([]string, 0, len(p.clients))
	for id := range p.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ei, ej := p.clients[ids[i]], p.clients[ids[j]]
		if ei.openedAt.Equal(ej.openedAt) {
			return ids[i] < ids[j]
		}
		return ei.openedAt.Before(ej.openedAt)
	})
	oldest := ids[0]
	e := p.clients[oldest]
	delete(p.clients, oldest)
	if e.client != nil {
		_ = e.client.Close()
	}
}

func (p *Pool) connect(ctx context.Context, appID string) (conductor.AppClient, error) {
	port, err := p.resolveAppPort(ctx, appID)
	if err != nil {
		return nil, err
	}

	token, err := p.admin.IssueAppAuthToken(ctx, appID)
	if err != nil {
		return nil, err
	}

	client, err := p.dialer.DialApp(ctx, p.cfg.AdminSocketAddr, port, token, conductor.OriginTag, p.cfg.CallTimeout)
	if err != nil {
		p.clearCachedPort()
		p.log.WithError(err).WithField("app_id", appID).Warn("failed to connect app websocket")
		return nil, gwerrors.UpstreamUnavailable()
	}

	if err := p.authorizeCells(ctx, appID, client); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

func (p *Pool) resolveAppPort(ctx context.Context, appID string) (uint16, error) {
	p.mu.RLock()
	cached := p.cachedAppPort
	p.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	ifaces, err := p.admin.ListAppInterfaces(ctx)
	if err != nil {
		return 0, err
	}
	for _, iface := range ifaces {
		if iface.AllowsOrigin(conductor.OriginTag) && iface.MatchesApp(appID) {
			p.cachePort(iface.Port)
			return iface.Port, nil
		}
	}

	attached, err := p.admin.AttachAppInterface(ctx, conductor.AttachAppInterfaceRequest{
		AllowedOrigins: []string{conductor.OriginTag},
	})
	if err != nil {
		return 0, err
	}
	p.cachePort(attached.Port)
	return attached.Port, nil
}

func (p *Pool) cachePort(port uint16) {
	p.mu.Lock()
	p.cachedAppPort = &port
	p.mu.Unlock()
}

func (p *Pool) clearCachedPort() {
	p.mu.Lock()
	p.cachedAppPort = nil
	p.mu.Unlock()
}

func (p *Pool) authorizeCells(ctx context.Context, appID string, client conductor.AppClient) error {
	granted := grantedFunctions(p.cfg.AllowedFns[appID])
	for _, cellID := range client.AppInfo().ProvisionedCells() {
		creds, err := p.admin.AuthorizeSigningCredentials(ctx, conductor.AuthorizeSigningCredentialsRequest{
			CellID:    cellID,
			Functions: granted,
		})
		if err != nil {
			return err
		}
		_ = creds // not retained: AppClient exposes no signer to register them with
	}
	return nil
}

func grantedFunctions(fns config.AllowedFns) conductor.GrantedFunctions {
	if fns.All {
		return conductor.GrantedFunctions{All: true}
	}
	out := conductor.GrantedFunctions{Fns: make([]conductor.ModuleFn, 0, len(fns.Set))}
	for zf := range fns.Set {
		out.Fns = append(out.Fns, conductor.ModuleFn{Module: zf.Module, Fn: zf.Fn})
	}
	return out
}

// Call drives f against appID's pooled connection: up to MaxCallAttempts
// attempts, retrying when connecting fails with UpstreamUnavailable and
// removing the pool entry and retrying on a transport error from f,
// returning any other error immediately.
func (p *Pool) Call(ctx context.Context, appID string, f func(conductor.AppClient) ([]byte, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < MaxCallAttempts; attempt++ {
		client, err := p.GetOrConnect(ctx, appID)
		if err != nil {
			if gw, ok := gwerrors.As(err); ok && gw.Kind == gwerrors.KindUpstreamUnavailable {
				lastErr = err
				continue
			}
			return nil, err
		}

		resp, err := f(client)
		if err == nil {
			return resp, nil
		}
		if conductor.IsTransportError(err) {
			p.log.WithError(err).WithField("app_id", appID).Warn("transport error during call, evicting connection")
			p.Remove(appID)
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr != nil {
		p.log.WithError(lastErr).WithField("app_id", appID).Warn("upstream unavailable after bounded retries")
	}
	return nil, gwerrors.UpstreamUnavailable()
}
