package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/api/handler"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/cache"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/config"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/ranking"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/repository"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/scheduler"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/service"
)

type firstPlaceRanker struct{}

func (firstPlaceRanker) LookupRanking(_ context.Context, l ranking.Lookup) (*ranking.Observation, error) {
	rank := 1
	return &ranking.Observation{
		TargetRank: &rank,
		TopEntities: []domain.RankedEntity{
			{Name: l.Target.Name, Rank: 1, IsTarget: true},
			{Name: "Rival Dental", ExternalID: "rival", Rank: 2},
		},
		APICalls: 1,
	}, nil
}

// queuedDispatcher records scan IDs; tests run them explicitly.
type queuedDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *queuedDispatcher) Dispatch(_ context.Context, scanID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, scanID)
	return nil
}

type testServer struct {
	router     *gin.Engine
	scans      *service.ScanService
	dispatcher *queuedDispatcher
}

func newTestServer(t *testing.T, checks map[string]handler.HealthCheck) *testServer {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:api_%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	campaignRepo := repository.NewCampaignRepository(db)
	scanRepo := repository.NewScanRepository(db)
	dispatcher := &queuedDispatcher{}
	scans := service.NewScanService(campaignRepo, scanRepo, firstPlaceRanker{}, nil, nil, &service.ScanConfig{MaxFanOut: 4})
	campaigns := service.NewCampaignService(campaignRepo, scans, dispatcher, nil, nil)

	router := SetupRouter(&Services{
		Campaigns:    campaigns,
		Scans:        scans,
		HealthChecks: checks,
		Scheduler:    scheduler.New(scheduler.FromConfig(config.DefaultClasses())),
		Cache:        cache.New(cache.NewMemoryStore(10), nil, nil),
	}, &config.ServerConfig{Mode: "test", CORS: config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}}}, nil)

	return &testServer{router: router, scans: scans, dispatcher: dispatcher}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func validCampaign() map[string]interface{} {
	return map[string]interface{}{
		"business_name": "Bright Smiles Dental",
		"latitude":      30.2672,
		"longitude":     -97.7431,
		"grid_size":     3,
		"radius_miles":  2,
		"keywords":      []string{"dentist", "emergency dentist"},
	}
}

func TestCampaignLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	w := srv.do(http.MethodPost, "/api/v1/campaigns", validCampaign())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	campaignID := decode(t, w)["id"].(string)
	require.NotEmpty(t, campaignID)

	w = srv.do(http.MethodGet, "/api/v1/campaigns/"+campaignID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "weekly", decode(t, w)["cadence"])

	w = srv.do(http.MethodGet, "/api/v1/campaigns", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["campaigns"], 1)

	// trigger, then a second trigger conflicts
	w = srv.do(http.MethodPost, "/api/v1/campaigns/"+campaignID+"/scans", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decode(t, w)
	scanID := body["scan_id"].(string)
	assert.Equal(t, "PENDING", body["status"])
	assert.EqualValues(t, 18, body["total_points"])
	assert.Equal(t, []string{scanID}, srv.dispatcher.ids)

	w = srv.do(http.MethodPost, "/api/v1/campaigns/"+campaignID+"/scans", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = srv.do(http.MethodGet, "/api/v1/scans/"+scanID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PENDING", decode(t, w)["status"])

	require.NoError(t, srv.scans.RunScan(context.Background(), scanID))

	w = srv.do(http.MethodGet, "/api/v1/scans/"+scanID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "COMPLETED", body["status"])
	assert.EqualValues(t, 100, body["progress"])
	assert.EqualValues(t, 18, body["points_completed"])
	assert.NotContains(t, body, "error_message")

	w = srv.do(http.MethodGet, "/api/v1/scans/"+scanID+"/results", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["results"], 18)

	w = srv.do(http.MethodGet, "/api/v1/scans/"+scanID+"/competitors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["competitors"])

	w = srv.do(http.MethodGet, "/api/v1/campaigns/"+campaignID+"/scans", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["scans"], 1)

	// finished scans cannot be cancelled
	w = srv.do(http.MethodPost, "/api/v1/scans/"+scanID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateCampaign_Validation(t *testing.T) {
	srv := newTestServer(t, nil)

	invalid := validCampaign()
	invalid["grid_size"] = 4
	w := srv.do(http.MethodPost, "/api/v1/campaigns", invalid)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "grid", decode(t, w)["field"])

	missing := validCampaign()
	delete(missing, "business_name")
	w = srv.do(http.MethodPost, "/api/v1/campaigns", missing)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = srv.do(http.MethodGet, "/api/v1/campaigns", nil)
	assert.Empty(t, decode(t, w)["campaigns"])
}

func TestCancelPendingScan(t *testing.T) {
	srv := newTestServer(t, nil)

	w := srv.do(http.MethodPost, "/api/v1/campaigns", validCampaign())
	require.Equal(t, http.StatusCreated, w.Code)
	campaignID := decode(t, w)["id"].(string)

	w = srv.do(http.MethodPost, "/api/v1/campaigns/"+campaignID+"/scans", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	scanID := decode(t, w)["scan_id"].(string)

	w = srv.do(http.MethodPost, "/api/v1/scans/"+scanID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = srv.do(http.MethodGet, "/api/v1/scans/"+scanID, nil)
	body := decode(t, w)
	assert.Equal(t, "FAILED", body["status"])
	assert.Equal(t, "scan cancelled by operator request", body["error_message"])

	// the campaign is free for a new scan
	w = srv.do(http.MethodPost, "/api/v1/campaigns/"+campaignID+"/scans", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestNotFound(t *testing.T) {
	srv := newTestServer(t, nil)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/campaigns/missing"},
		{http.MethodPost, "/api/v1/campaigns/missing/scans"},
		{http.MethodGet, "/api/v1/campaigns/missing/scans"},
		{http.MethodGet, "/api/v1/scans/missing"},
		{http.MethodPost, "/api/v1/scans/missing/cancel"},
		{http.MethodGet, "/api/v1/scans/missing/results"},
		{http.MethodGet, "/api/v1/scans/missing/competitors"},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			w := srv.do(p.method, p.path, nil)
			assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
		})
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, map[string]handler.HealthCheck{
		"database": func(context.Context) error { return nil },
	})
	w := srv.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["running_scans"])

	limiters, ok := body["limiters"].(map[string]interface{})
	require.True(t, ok, "limiter stats are reported")
	maps, ok := limiters[config.ClassMaps].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 0, maps["inflight"])
	assert.Contains(t, maps, "stopped")
	cacheStats, ok := body["cache"].(map[string]interface{})
	require.True(t, ok, "cache stats are reported")
	assert.Contains(t, cacheStats, "hits")
	assert.Contains(t, cacheStats, "store_errors")

	srv = newTestServer(t, map[string]handler.HealthCheck{
		"broker": func(context.Context) error { return errors.New("connection refused") },
	})
	w = srv.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decode(t, w)["status"])
}

func TestMiddleware(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/campaigns", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
