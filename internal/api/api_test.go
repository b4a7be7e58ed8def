package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holochain/hc-http-gw/internal/config"
	"github.com/holochain/hc-http-gw/internal/conductor"
	"github.com/holochain/hc-http-gw/internal/gwerrors"
	"github.com/holochain/hc-http-gw/internal/hcid"
	"github.com/holochain/hc-http-gw/internal/pipeline"
)

const h39 = "uhC0kAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQF-z86-"

type fakeResolver struct {
	info *conductor.AppInfo
	err  error
}

func (f *fakeResolver) Resolve(ctx context.Context, networkID [39]byte, appID string) (*conductor.AppInfo, error) {
	return f.info, f.err
}

type fakeCaller struct {
	resp []byte
	err  error
}

func (f *fakeCaller) Call(ctx context.Context, appID string, fn func(conductor.AppClient) ([]byte, error)) ([]byte, error) {
	return f.resp, f.err
}

func descriptorFor(appID string) *conductor.AppInfo {
	id, _ := hcid.Parse(h39)
	return &conductor.AppInfo{
		InstalledAppID: appID,
		CellInfo: map[string][]conductor.CellInfo{
			"coord": {{Role: "coord", CellID: conductor.CellID{NetworkID: [39]byte(id)}}},
		},
	}
}

func newEngine(t *testing.T, resolver pipeline.Resolver, caller pipeline.Caller) http.Handler {
	cfg, err := config.Parse("127.0.0.1:1234", "", "tapp", map[string]string{"tapp": "*"}, "", "")
	require.NoError(t, err)
	p := pipeline.New(cfg, resolver, caller)
	return NewEngine(p)
}

func TestHealthEndpoint(t *testing.T) {
	engine := newEngine(t, &fakeResolver{}, &fakeCaller{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ok", rec.Body.String())
}

func TestHealthMethodNotAllowed(t *testing.T) {
	engine := newEngine(t, &fakeResolver{}, &fakeCaller{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestZomeCallHappyPath(t *testing.T) {
	resolver := &fakeResolver{info: descriptorFor("tapp")}
	caller := &fakeCaller{resp: []byte(`"return_value"`)}
	engine := newEngine(t, resolver, caller)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/"+h39+"/tapp/coord/get_thing", nil)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"return_value"`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestZomeCallInvalidHashReturns400(t *testing.T) {
	engine := newEngine(t, &fakeResolver{}, &fakeCaller{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/thisaintnodnahash/tapp/coord/get_thing", nil)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Request is malformed: Invalid DNA hash"}`, rec.Body.String())
}

func TestZomeCallNotInstalledReturns404(t *testing.T) {
	resolver := &fakeResolver{err: gwerrors.NotInstalled("tapp")}
	engine := newEngine(t, resolver, &fakeCaller{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/"+h39+"/tapp/coord/get_thing", nil)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestZomeCallUpstreamUnavailableReturns502(t *testing.T) {
	resolver := &fakeResolver{info: descriptorFor("tapp")}
	caller := &fakeCaller{err: gwerrors.UpstreamUnavailable()}
	engine := newEngine(t, resolver, caller)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/"+h39+"/tapp/coord/get_thing", nil)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"Could not connect to Holochain"}`, rec.Body.String())
}

func TestUnmatchedRouteReturns404(t *testing.T) {
	engine := newEngine(t, &fakeResolver{}, &fakeCaller{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/not/a/known/route/at/all", nil)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
