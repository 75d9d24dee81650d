package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/minfit/internal/store"
)

func setupTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()

	dataDir := t.TempDir()
	st, err := store.NewFSStore(dataDir)
	require.NoError(t, err)

	srv := NewServer("", st, dataDir)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, srv
}

func postJob(t *testing.T, ts *httptest.Server, config JobConfig) Job {
	t.Helper()

	body, err := json.Marshal(config)
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var job Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	require.NotEmpty(t, job.ID)
	return job
}

func waitForState(t *testing.T, srv *Server, jobID string, want JobState) {
	t.Helper()

	require.Eventually(t, func() bool {
		job, ok := srv.jobManager.GetJob(jobID)
		return ok && job.State == want
	}, 10*time.Second, 10*time.Millisecond, "job %s never reached state %s", jobID, want)
}

func TestCreateJobEndpoint(t *testing.T) {
	ts, srv := setupTestServer(t)

	job := postJob(t, ts, testJobConfig())
	waitForState(t, srv, job.ID, StateCompleted)

	resp, err := http.Get(ts.URL + "/api/v1/jobs/" + job.ID + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "completed", status["state"])
	assert.Equal(t, true, status["valid"])

	values, ok := status["values"].([]interface{})
	require.True(t, ok)
	require.Len(t, values, 2)
	assert.InDelta(t, 1, values[0].(float64), 1e-3)
	assert.InDelta(t, 2, values[1].(float64), 1e-3)
}

func TestGetJobResultEndpoint(t *testing.T) {
	ts, srv := setupTestServer(t)

	job := postJob(t, ts, testJobConfig())
	waitForState(t, srv, job.ID, StateCompleted)

	// the result is persisted after the state flips; poll briefly
	var result store.FitResult
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/v1/jobs/" + job.ID + "/result")
		if err != nil || resp.StatusCode != http.StatusOK {
			if resp != nil {
				resp.Body.Close()
			}
			return false
		}
		defer resp.Body.Close()
		return json.NewDecoder(resp.Body).Decode(&result) == nil
	}, 10*time.Second, 10*time.Millisecond)

	assert.Equal(t, job.ID, result.JobID)
	assert.Equal(t, []string{"c0", "c1"}, result.Names)
	assert.True(t, result.Valid)
	assert.NotNil(t, result.Covariance)
}

func TestCreateJobInvalidConfig(t *testing.T) {
	ts, _ := setupTestServer(t)

	cases := []JobConfig{
		{Model: "spline", X: []float64{1}, Y: []float64{1}},
		{Model: "polynomial", Degree: 1, X: []float64{1, 2}, Y: []float64{1}},
		{Model: "polynomial", Degree: 1},
		{Model: "polynomial", Degree: 3, X: []float64{1, 2}, Y: []float64{1, 2}},
		{Model: "polynomial", Loss: "huber", X: []float64{1, 2}, Y: []float64{1, 2}},
	}
	for _, config := range cases {
		body, err := json.Marshal(config)
		require.NoError(t, err)
		resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "config %+v", config)
	}
}

func TestCreateJobInvalidJSON(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", bytes.NewReader([]byte("{nope")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListJobsEndpoint(t *testing.T) {
	ts, srv := setupTestServer(t)

	job := postJob(t, ts, testJobConfig())
	waitForState(t, srv, job.ID, StateCompleted)

	resp, err := http.Get(ts.URL + "/api/v1/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var jobs []Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
}

func TestStatusUnknownJob(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/jobs/nope/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResultUnknownJob(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/jobs/nope/result")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := setupTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/jobs", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestIndexEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var index map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&index))
	assert.Equal(t, "minfit", index["service"])
}
