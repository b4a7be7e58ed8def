// Package selector resolves a (network-id, app-id) pair to the single
// matching, allow-listed application descriptor, backed by a read-hot,
// refresh-on-miss cache.
package selector

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/holochain/hc-http-gw/internal/config"
	"github.com/holochain/hc-http-gw/internal/conductor"
	"github.com/holochain/hc-http-gw/internal/gwerrors"
)

// AdminLister is the subset of AdminConn the selector needs.
type AdminLister interface {
	ListApps(ctx context.Context, status conductor.AppStatusFilter) ([]conductor.AppInfo, error)
}

// Cache holds the most recently fetched application list. Reads take a
// read lock; a refresh takes the write lock only for the duration of the
// in-memory swap.
type Cache struct {
	mu   sync.RWMutex
	apps []conductor.AppInfo
}

func (c *Cache) snapshot() []conductor.AppInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apps
}

func (c *Cache) replace(apps []conductor.AppInfo) {
	c.mu.Lock()
	c.apps = apps
	c.mu.Unlock()
}

// Selector resolves (networkID, appID) pairs against the cache, refreshing
// from the admin connection on a cache miss.
type Selector struct {
	cfg   *config.Configuration
	admin AdminLister
	cache *Cache

	refreshGroup singleflight.Group
}

// New builds a Selector with an empty cache.
func New(cfg *config.Configuration, admin AdminLister) *Selector {
	return &Selector{cfg: cfg, admin: admin, cache: &Cache{}}
}

func find(apps []conductor.AppInfo, networkID [39]byte, appID string) (matches []conductor.AppInfo) {
	for _, a := range apps {
		if a.InstalledAppID != appID {
			continue
		}
		if _, ok := a.CellForNetwork(networkID); ok {
			matches = append(matches, a)
		}
	}
	return matches
}

// Resolve looks up the single running, allow-listed application matching
// networkID and appID, refreshing the cache once on a miss.
func (s *Selector) Resolve(ctx context.Context, networkID [39]byte, appID string) (*conductor.AppInfo, error) {
	matches := find(s.cache.snapshot(), networkID, appID)

	if len(matches) == 0 {
		refreshed, err := s.refresh(ctx)
		if err != nil {
			return nil, err
		}
		matches = find(refreshed, networkID, appID)
		if len(matches) == 0 {
			return nil, gwerrors.NotInstalled(appID)
		}
	}

	if len(matches) > 1 {
		return nil, gwerrors.MultipleMatching(appID)
	}

	if !s.cfg.IsAppAllowed(appID) {
		return nil, gwerrors.NotAllowed(appID)
	}

	m := matches[0]
	return &m, nil
}

// refresh collapses all concurrent cache-miss refreshes, whatever the
// lookup, into a single admin.ListApps call.
func (s *Selector) refresh(ctx context.Context) ([]conductor.AppInfo, error) {
	v, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		apps, err := s.admin.ListApps(ctx, conductor.StatusRunning)
		if err != nil {
			return nil, err
		}
		s.cache.replace(apps)
		return apps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]conductor.AppInfo), nil
}
