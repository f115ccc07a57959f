package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/agroflow-systems/agroflow/internal/metrics" // register expvar counters
	"github.com/agroflow-systems/agroflow/internal/testutil"
	"github.com/agroflow-systems/agroflow/pkg/types"
)

func setupTestServer(t *testing.T) (*httptest.Server, *testutil.MemWarehouse) {
	t.Helper()
	return setupTestServerWithOpts(t, "", 0)
}

func setupTestServerWithOpts(t *testing.T, apiKey string, maxBody int64) (*httptest.Server, *testutil.MemWarehouse) {
	t.Helper()
	wh := testutil.NewMemWarehouse()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(":0", wh, apiKey, maxBody, log)

	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)
	return ts, wh
}

func seedBatch(t *testing.T, wh *testutil.MemWarehouse, id string, status types.BatchStatus, started time.Time) {
	t.Helper()
	require.NoError(t, wh.InsertAudit(context.Background(), types.AuditRecord{
		BatchID:      id,
		PipelineName: "weather",
		Status:       types.BatchRunning,
		StartTime:    started,
	}))
	if status != types.BatchRunning {
		require.NoError(t, wh.CompleteAudit(context.Background(), id, status, "", started.Add(time.Minute)))
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestListBatches(t *testing.T) {
	ts, wh := setupTestServer(t)

	now := time.Now().UTC()
	seedBatch(t, wh, "01BATCHOLD0000000000000000", types.BatchSuccess, now.Add(-48*time.Hour))
	seedBatch(t, wh, "01BATCHNEW0000000000000000", types.BatchFailed, now.Add(-time.Hour))

	resp, err := http.Get(ts.URL + "/api/batches")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var batches []types.AuditRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&batches))
	require.Len(t, batches, 2)
	assert.Equal(t, "01BATCHNEW0000000000000000", batches[0].BatchID, "newest first")

	// Narrowed window drops the older batch.
	since := now.Add(-2 * time.Hour).Format(time.RFC3339)
	resp, err = http.Get(ts.URL + "/api/batches?since=" + since)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	batches = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&batches))
	require.Len(t, batches, 1)
	assert.Equal(t, "01BATCHNEW0000000000000000", batches[0].BatchID)
}

func TestListBatches_BadQuery(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/batches?since=yesterday")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/batches?limit=-3")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetBatch(t *testing.T) {
	ts, wh := setupTestServer(t)
	seedBatch(t, wh, "01BATCH0000000000000000000", types.BatchSuccess, time.Now().UTC())

	resp, err := http.Get(ts.URL + "/api/batches/01BATCH0000000000000000000")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var rec types.AuditRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, types.BatchSuccess, rec.Status)
	assert.Equal(t, "weather", rec.PipelineName)

	resp, err = http.Get(ts.URL + "/api/batches/no-such-batch")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListCropsEndpoint(t *testing.T) {
	ts, wh := setupTestServer(t)

	tmin := 15.0
	_, _, err := wh.UpsertCrop(context.Background(), types.CropRow{
		CropName:             "Wheat",
		OptimalTempMinC:      &tmin,
		ExtractionConfidence: 0.9,
	}, types.Fingerprint{Hash: "crop-wheat", EntityType: types.EntityCrop, EntityID: "Wheat"})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/crops")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var crops []types.CropRow
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&crops))
	require.Len(t, crops, 1)
	assert.Equal(t, "Wheat", crops[0].CropName)
}

func TestLocationVersionsEndpoint(t *testing.T) {
	ts, wh := setupTestServer(t)

	row := types.LocationRow{
		Latitude:      41.8781,
		Longitude:     -87.6298,
		LocationHash:  "abc123",
		EffectiveDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err := wh.InsertLocation(context.Background(), row, types.Fingerprint{
		Hash: "loc-v1", EntityType: types.EntityLocation, EntityID: "abc123",
	})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/locations/abc123/versions")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var versions []types.LocationRow
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&versions))
	require.Len(t, versions, 1)
	assert.True(t, versions[0].IsCurrent)

	resp, err = http.Get(ts.URL + "/api/locations/unknown/versions")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIKeyAuthentication(t *testing.T) {
	ts, _ := setupTestServerWithOpts(t, "secret", 0)

	// Health stays open.
	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Everything else requires the key.
	resp, err = http.Get(ts.URL + "/api/batches")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/batches", nil)
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExpvarEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/debug/vars")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var vars map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vars))
	assert.Contains(t, vars, "batches_started")
}

func TestRequestIDPropagation(t *testing.T) {
	ts, _ := setupTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}

func TestRequestIDMinted(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	id := resp.Header.Get("X-Request-ID")
	assert.Len(t, id, 26, "generated IDs are ULIDs, like batch IDs")
}

func TestAPIKeyHealthExemptionIsExact(t *testing.T) {
	ts, _ := setupTestServerWithOpts(t, "secret", 0)

	// Only the health endpoint itself is open; a path that merely ends in
	// "health" still needs the key.
	resp, err := http.Get(ts.URL + "/api/batches/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
