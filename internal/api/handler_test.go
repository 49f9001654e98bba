// internal/api/handler_test.go
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecosystem-harvester/internal/runner"
)

type fakeDiscovery struct {
	startErr error
	running  bool
	started  int
	ctx      context.Context
}

func (f *fakeDiscovery) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.ctx = ctx
	f.started++
	return nil
}
func (f *fakeDiscovery) Running() bool { return f.running }

type fakeActivity struct {
	startErr  error
	running   bool
	backfills []bool
}

func (f *fakeActivity) Start(ctx context.Context, backfill bool) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.backfills = append(f.backfills, backfill)
	return nil
}
func (f *fakeActivity) Running() bool { return f.running }

func setupRouter(discovery *fakeDiscovery, activity *fakeActivity) http.Handler {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewRouter(context.Background(), discovery, activity, logger)
}

func doRequest(t *testing.T, router http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestHealthCheck(t *testing.T) {
	router := setupRouter(&fakeDiscovery{}, &fakeActivity{})

	rr := doRequest(t, router, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeBody(t, rr)["status"])
}

func TestReadiness(t *testing.T) {
	router := setupRouter(&fakeDiscovery{running: true}, &fakeActivity{})

	rr := doRequest(t, router, http.MethodGet, "/ready")

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "running", body["discovery"])
	assert.Equal(t, "idle", body["activity"])
}

func TestTriggerDiscovery(t *testing.T) {
	discovery := &fakeDiscovery{}
	router := setupRouter(discovery, &fakeActivity{})

	rr := doRequest(t, router, http.MethodPost, "/v1/runs/discovery")

	assert.Equal(t, http.StatusAccepted, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "discovery", body["run"])
	assert.Equal(t, "started", body["status"])
	assert.Equal(t, 1, discovery.started)
}

func TestTriggerDiscovery_Conflict(t *testing.T) {
	router := setupRouter(&fakeDiscovery{startErr: runner.ErrAlreadyRunning}, &fakeActivity{})

	rr := doRequest(t, router, http.MethodPost, "/v1/runs/discovery")

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, decodeBody(t, rr)["error"], "already in progress")
}

func TestTriggerActivityAndBackfill(t *testing.T) {
	activity := &fakeActivity{}
	router := setupRouter(&fakeDiscovery{}, activity)

	rr := doRequest(t, router, http.MethodPost, "/v1/runs/activity")
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = doRequest(t, router, http.MethodPost, "/v1/runs/backfill")
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "backfill", decodeBody(t, rr)["run"])

	assert.Equal(t, []bool{false, true}, activity.backfills)
}

func TestTriggeredRunsStopWithApplication(t *testing.T) {
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	discovery := &fakeDiscovery{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	router := NewRouter(appCtx, discovery, &fakeActivity{}, logger)

	rr := doRequest(t, router, http.MethodPost, "/v1/runs/discovery")
	require.Equal(t, http.StatusAccepted, rr.Code)

	// The run's context outlives the request but not the application.
	require.NotNil(t, discovery.ctx)
	assert.NoError(t, discovery.ctx.Err())
	cancel()
	assert.ErrorIs(t, discovery.ctx.Err(), context.Canceled)
}
