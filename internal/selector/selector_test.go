package selector

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holochain/hc-http-gw/internal/config"
	"github.com/holochain/hc-http-gw/internal/conductor"
	"github.com/holochain/hc-http-gw/internal/gwerrors"
	"github.com/holochain/hc-http-gw/internal/hcid"
)

const h39 = "uhC0kAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQF-z86-"

func mustID(t *testing.T) [39]byte {
	id, err := hcid.Parse(h39)
	require.NoError(t, err)
	return [39]byte(id)
}

type fakeAdmin struct {
	apps      []conductor.AppInfo
	listCalls int
}

func (f *fakeAdmin) ListApps(ctx context.Context, status conductor.AppStatusFilter) ([]conductor.AppInfo, error) {
	f.listCalls++
	return f.apps, nil
}

func appInfo(appID string, networkID [39]byte) conductor.AppInfo {
	return conductor.AppInfo{
		InstalledAppID: appID,
		CellInfo: map[string][]conductor.CellInfo{
			"coord": {{Role: "coord", CellID: conductor.CellID{NetworkID: networkID}}},
		},
	}
}

func newTestConfig(t *testing.T, apps ...string) *config.Configuration {
	fns := map[string]string{}
	for _, a := range apps {
		fns[a] = "*"
	}
	cfg, err := config.Parse("127.0.0.1:1234", "", strings.Join(apps, ","), fns, "", "")
	require.NoError(t, err)
	return cfg
}

func TestResolveRefreshesOnMiss(t *testing.T) {
	nid := mustID(t)
	admin := &fakeAdmin{apps: []conductor.AppInfo{appInfo("tapp", nid)}}
	cfg := newTestConfig(t, "tapp")
	s := New(cfg, admin)

	info, err := s.Resolve(context.Background(), nid, "tapp")
	require.NoError(t, err)
	assert.Equal(t, "tapp", info.InstalledAppID)
	assert.Equal(t, 1, admin.listCalls)

	_, err = s.Resolve(context.Background(), nid, "tapp")
	require.NoError(t, err)
	assert.Equal(t, 1, admin.listCalls, "second lookup hits the cache")
}

func TestResolveNotInstalled(t *testing.T) {
	nid := mustID(t)
	admin := &fakeAdmin{apps: nil}
	cfg := newTestConfig(t, "tapp")
	s := New(cfg, admin)

	_, err := s.Resolve(context.Background(), nid, "tapp")
	require.Error(t, err)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindNotInstalled, gwErr.Kind)
}

func TestResolveNotAllowed(t *testing.T) {
	nid := mustID(t)
	admin := &fakeAdmin{apps: []conductor.AppInfo{appInfo("tapp", nid)}}
	cfg := newTestConfig(t) // tapp not in allow-list
	s := New(cfg, admin)

	_, err := s.Resolve(context.Background(), nid, "tapp")
	require.Error(t, err)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindNotAllowed, gwErr.Kind)
}

func TestResolveMultipleMatching(t *testing.T) {
	nid := mustID(t)
	admin := &fakeAdmin{apps: []conductor.AppInfo{appInfo("tapp", nid), appInfo("tapp", nid)}}
	cfg := newTestConfig(t, "tapp")
	s := New(cfg, admin)

	_, err := s.Resolve(context.Background(), nid, "tapp")
	require.Error(t, err)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindMultipleMatching, gwErr.Kind)
}
