package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/datacube/runtime/executor"
	"github.com/opal-lang/datacube/runtime/export"
	"github.com/opal-lang/datacube/runtime/gdf"
	"github.com/opal-lang/datacube/runtime/snapshot"
)

func testServer(t *testing.T, store snapshot.Store) (*httptest.Server, *executor.Executor) {
	t.Helper()
	units, err := readUnits("testdata/units.json")
	require.NoError(t, err)
	src := gdf.NewMemorySource()
	for _, u := range units {
		require.NoError(t, src.Add(context.Background(), u))
	}
	reg, metrics := newMetrics()
	x := executor.New(src, executor.WithMetrics(metrics))
	ts := httptest.NewServer(newServer(x, store, reg, nil))
	t.Cleanup(ts.Close)
	return ts, x
}

func postPlan(t *testing.T, ts *httptest.Server, contentType, body string) (*http.Response, planResponse) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/plans", contentType, strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out planResponse
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = json.Unmarshal(data, &out)
	return resp, out
}

func TestServerPlanLifecycle(t *testing.T) {
	store, err := snapshot.NewDirStore(t.TempDir())
	require.NoError(t, err)
	ts, _ := testServer(t, store)

	planYAML, err := os.ReadFile("testdata/ndvi.yaml")
	require.NoError(t, err)

	resp, out := postPlan(t, ts, "application/yaml", string(planYAML))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, out.TasksRun)
	assert.Empty(t, out.Skipped)
	assert.Equal(t, 5, out.Saved)
	assert.True(t, strings.HasPrefix(out.Digest, "blake2b:"))
	require.Len(t, out.Timings, 5)
	assert.Equal(t, "median_t", out.Timings[4].Task)

	res, err := http.Get(ts.URL + "/entries")
	require.NoError(t, err)
	var list map[string][]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&list))
	res.Body.Close()
	assert.Equal(t, []string{"fetch", "masked", "median_t", "ndvi", "pq"}, list["entries"])

	res, err = http.Get(ts.URL + "/entries/median_t")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var entry struct {
		Dimensions []string `json:"dimensions"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&entry))
	res.Body.Close()
	assert.Equal(t, []string{"latitude", "longitude"}, entry.Dimensions)

	res, err = http.Get(ts.URL + "/entries/median_t?format=arrow")
	require.NoError(t, err)
	assert.Equal(t, "application/vnd.apache.arrow.stream", res.Header.Get("Content-Type"))
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	e, err := export.ReadArrow(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, e.Array().Shape())

	res, err = http.Get(ts.URL + "/entries/nope")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestServerServesSavedEntries(t *testing.T) {
	store, err := snapshot.NewDirStore(t.TempDir())
	require.NoError(t, err)

	first, _ := testServer(t, store)
	planYAML, err := os.ReadFile("testdata/ndvi.yaml")
	require.NoError(t, err)
	resp, _ := postPlan(t, first, "application/yaml", string(planYAML))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A fresh executor has an empty cache; the result comes from the store.
	second, x := testServer(t, store)
	assert.Equal(t, 0, x.Len())
	res, err := http.Get(second.URL + "/entries/ndvi")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestServerRejectsInvalidPlans(t *testing.T) {
	ts, _ := testServer(t, nil)

	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"malformed yaml", "application/yaml", "tasks: [unclosed"},
		{"unknown field", "application/json", `{"version": "v1.0.0", "tasks": [], "extra": 1}`},
		{"undefined input", "application/json", `{"version": "v1.0.0", "tasks": [
			{"name": "e", "operation_type": "expression", "array_input": ["nope"], "function": "x",
			 "array_output": {"no_data_value": -999}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/plans", tt.contentType, strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var out map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Equal(t, "invalid plan", out["error"])
		})
	}
}

func TestServerFailedRun(t *testing.T) {
	ts, _ := testServer(t, nil)
	body := `{"version": "v1.0.0", "tasks": [
		{"name": "fetch", "operation_type": "get_data",
		 "fetch": {"storage_type": "LS7ETM", "variables": ["band_30"]},
		 "array_output": {"no_data_value": -999}}]}`
	resp, out := postPlan(t, ts, "application/json", body)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, out.Error, `task "fetch"`)
	require.Len(t, out.Timings, 1)
	assert.Equal(t, "error", out.Timings[0].Status)
}

func TestServerHealthAndMetrics(t *testing.T) {
	ts, _ := testServer(t, nil)
	planYAML, err := os.ReadFile("testdata/ndvi.yaml")
	require.NoError(t, err)
	resp, _ := postPlan(t, ts, "application/yaml", string(planYAML))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&health))
	res.Body.Close()
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 5, health["entries"])

	res, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `datacube_executor_tasks_total{kind="reduction",status="ok"} 1`)
	assert.Contains(t, string(body), `datacube_executor_plans_total{status="ok"} 1`)
	assert.Contains(t, string(body), "datacube_executor_cache_entries 5")
}
