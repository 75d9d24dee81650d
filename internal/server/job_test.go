package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJobConfig() JobConfig {
	return JobConfig{
		Model:    "polynomial",
		Degree:   1,
		Loss:     "linear",
		X:        []float64{0, 1, 2, 3, 4},
		Y:        []float64{1, 3, 5, 7, 9},
		Strategy: 1,
	}
}

func TestCreateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(testJobConfig())
	require.NotNil(t, job)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatePending, job.State)
	assert.False(t, job.StartTime.IsZero())

	got, exists := jm.GetJob(job.ID)
	require.True(t, exists)
	assert.Equal(t, job, got)
}

func TestGetJobMissing(t *testing.T) {
	jm := NewJobManager()
	_, exists := jm.GetJob("nope")
	assert.False(t, exists)
}

func TestListJobs(t *testing.T) {
	jm := NewJobManager()
	assert.Empty(t, jm.ListJobs())

	jm.CreateJob(testJobConfig())
	jm.CreateJob(testJobConfig())
	assert.Len(t, jm.ListJobs(), 2)
}

func TestUpdateJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig())

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Fval = 2.5
	})
	require.NoError(t, err)

	got, _ := jm.GetJob(job.ID)
	assert.Equal(t, StateRunning, got.State)
	assert.Equal(t, 2.5, got.Fval)
}

func TestUpdateJobMissing(t *testing.T) {
	jm := NewJobManager()
	assert.Error(t, jm.UpdateJob("nope", func(j *Job) {}))
}

func TestGetRunningJobs(t *testing.T) {
	jm := NewJobManager()
	a := jm.CreateJob(testJobConfig())
	jm.CreateJob(testJobConfig())

	require.NoError(t, jm.UpdateJob(a.ID, func(j *Job) { j.State = StateRunning }))

	running := jm.GetRunningJobs()
	require.Len(t, running, 1)
	assert.Equal(t, a.ID, running[0].ID)
}

func TestBroadcasterSubscribe(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job-1")
	eb.Broadcast(ProgressEvent{JobID: "job-1", Round: 3, Fval: 1.5})

	ev := <-ch
	assert.Equal(t, 3, ev.Round)
	assert.Equal(t, 1.5, ev.Fval)

	eb.Unsubscribe("job-1", ch)
	_, open := <-ch
	assert.False(t, open, "channel must be closed after unsubscribe")
}

func TestBroadcasterReplaysLastEvent(t *testing.T) {
	eb := NewEventBroadcaster()

	eb.Broadcast(ProgressEvent{JobID: "job-1", Round: 7})

	// a late subscriber still sees the last event
	ch := eb.Subscribe("job-1")
	ev := <-ch
	assert.Equal(t, 7, ev.Round)

	eb.CleanupJob("job-1")
	_, open := <-ch
	assert.False(t, open)
}
