package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sab-crosswalk/internal/model"
	"github.com/sells-group/sab-crosswalk/internal/store"
)

func newServerWithRun(t *testing.T) (*httptest.Server, *store.Run) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	run, err := st.CreateRun(context.Background(), 2023)
	require.NoError(t, err)
	require.NoError(t, st.SaveResults(context.Background(), run.ID, []model.ResultRecord{{
		BoundaryID: "UT0001",
		Tier:       model.TierOne,
		Regions:    []string{"49"},
		Values:     map[string]*float64{"total_population": model.Float(1000)},
	}}))

	srv := httptest.NewServer(newRouter(st))
	t.Cleanup(srv.Close)
	return srv, run
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServe_Health(t *testing.T) {
	srv, _ := newServerWithRun(t)

	var body map[string]string
	code := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestServe_ListRuns(t *testing.T) {
	srv, run := newServerWithRun(t)

	var runs []store.Run
	code := getJSON(t, srv.URL+"/api/runs", &runs)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestServe_GetRun(t *testing.T) {
	srv, run := newServerWithRun(t)

	var got store.Run
	code := getJSON(t, srv.URL+"/api/runs/"+run.ID, &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, run.ID, got.ID)

	code = getJSON(t, srv.URL+"/api/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServe_Results(t *testing.T) {
	srv, run := newServerWithRun(t)

	var rows []model.ResultRecord
	code := getJSON(t, srv.URL+"/api/runs/"+run.ID+"/results", &rows)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, rows, 1)
	assert.Equal(t, "UT0001", rows[0].BoundaryID)
	assert.Equal(t, model.TierOne, rows[0].Tier)

	code = getJSON(t, srv.URL+"/api/runs/nope/results", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
