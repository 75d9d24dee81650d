package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary directory and returns an FSStore for testing.
func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	st, err := NewFSStore(tempDir)
	require.NoError(t, err, "Failed to create test store")
	return st, tempDir
}

// createTestResult builds a fit result with plausible data.
func createTestResult(jobID string) *FitResult {
	return &FitResult{
		JobID:            jobID,
		Names:            []string{"c0", "c1"},
		Values:           []float64{1.5, -0.25},
		Errors:           []float64{0.1, 0.02},
		Fval:             12.34,
		Edm:              1.2e-5,
		NCalls:           86,
		Valid:            true,
		HasAccurateCovar: true,
		Covariance:       [][]float64{{0.01, 0}, {0, 0.0004}},
		Timestamp:        time.Now(),
		Config: JobConfig{
			Model:    "polynomial",
			Degree:   1,
			Loss:     "linear",
			X:        []float64{0, 1, 2},
			Y:        []float64{1.4, 1.3, 1.1},
			Strategy: 1,
		},
	}
}

func TestNewFSStore(t *testing.T) {
	tempDir := t.TempDir()

	st, err := NewFSStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, st)

	_, err = os.Stat(tempDir)
	assert.NoError(t, err, "base directory must exist")
}

func TestSaveResult(t *testing.T) {
	st, tempDir := setupTestStore(t)

	jobID := "test-job-123"
	require.NoError(t, st.SaveResult(jobID, createTestResult(jobID)))

	expectedPath := filepath.Join(tempDir, "jobs", jobID, "result.json")
	_, err := os.Stat(expectedPath)
	assert.NoError(t, err, "result file must exist")

	// atomic write leaves no temp file behind
	_, err = os.Stat(expectedPath + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be gone after save")
}

func TestSaveResultEmptyJobID(t *testing.T) {
	st, _ := setupTestStore(t)
	assert.Error(t, st.SaveResult("", createTestResult("x")))
}

func TestSaveResultNil(t *testing.T) {
	st, _ := setupTestStore(t)
	assert.Error(t, st.SaveResult("job", nil))
}

func TestLoadResultRoundTrip(t *testing.T) {
	st, _ := setupTestStore(t)

	jobID := "round-trip"
	want := createTestResult(jobID)
	require.NoError(t, st.SaveResult(jobID, want))

	got, err := st.LoadResult(jobID)
	require.NoError(t, err)
	assert.Equal(t, want.JobID, got.JobID)
	assert.Equal(t, want.Names, got.Names)
	assert.Equal(t, want.Values, got.Values)
	assert.Equal(t, want.Errors, got.Errors)
	assert.Equal(t, want.Fval, got.Fval)
	assert.Equal(t, want.Valid, got.Valid)
	assert.Equal(t, want.Covariance, got.Covariance)
	assert.Equal(t, want.Config, got.Config)
}

func TestLoadResultNotFound(t *testing.T) {
	st, _ := setupTestStore(t)

	_, err := st.LoadResult("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "missing", nf.JobID)
}

func TestSaveResultOverwrite(t *testing.T) {
	st, _ := setupTestStore(t)

	jobID := "overwrite"
	first := createTestResult(jobID)
	require.NoError(t, st.SaveResult(jobID, first))

	second := createTestResult(jobID)
	second.Fval = 1.0
	require.NoError(t, st.SaveResult(jobID, second))

	got, err := st.LoadResult(jobID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Fval)
}

func TestListResults(t *testing.T) {
	st, _ := setupTestStore(t)

	infos, err := st.ListResults()
	require.NoError(t, err)
	assert.Empty(t, infos)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.SaveResult(id, createTestResult(id)))
	}

	infos, err = st.ListResults()
	require.NoError(t, err)
	assert.Len(t, infos, 3)
	for _, info := range infos {
		assert.Equal(t, "polynomial", info.Model)
		assert.Equal(t, 2, info.NParams)
		assert.True(t, info.Valid)
	}
}

func TestListResultsSkipsCorrupted(t *testing.T) {
	st, tempDir := setupTestStore(t)

	require.NoError(t, st.SaveResult("good", createTestResult("good")))

	badDir := filepath.Join(tempDir, "jobs", "bad")
	require.NoError(t, os.MkdirAll(badDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, "result.json"), []byte("{not json"), 0644))

	infos, err := st.ListResults()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "good", infos[0].JobID)
}

func TestDeleteResult(t *testing.T) {
	st, tempDir := setupTestStore(t)

	jobID := "doomed"
	require.NoError(t, st.SaveResult(jobID, createTestResult(jobID)))

	tw, err := NewTraceWriter(tempDir, jobID, false)
	require.NoError(t, err)
	require.NoError(t, tw.Write(TraceEntry{Round: 1, Fval: 2, Timestamp: time.Now()}))
	require.NoError(t, tw.Close())

	require.NoError(t, st.DeleteResult(jobID))

	_, err = os.Stat(filepath.Join(tempDir, "jobs", jobID))
	assert.True(t, os.IsNotExist(err), "job directory must be gone")

	_, err = st.LoadResult(jobID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteResultNotFound(t *testing.T) {
	st, _ := setupTestStore(t)
	assert.ErrorIs(t, st.DeleteResult("missing"), ErrNotFound)
}
