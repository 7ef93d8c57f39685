package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhruv2003/Scrapper/internal/config"
	"github.com/dhruv2003/Scrapper/internal/types"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := &config.RedisConfig{
		Host:           mr.Host(),
		Port:           mr.Port(),
		MaxConnections: 10,
	}
	client := New(cfg, nil)
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestClient_EnsureConnection(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	assert.True(t, client.EnsureConnection(ctx))
	// Idempotent on a live handle.
	assert.True(t, client.EnsureConnection(ctx))

	mr.Close()
	assert.False(t, client.EnsureConnection(ctx))
}

func TestClient_EnsureConnection_Unreachable(t *testing.T) {
	cfg := &config.RedisConfig{Host: "127.0.0.1", Port: "1", MaxConnections: 1}
	client := New(cfg, nil)

	assert.False(t, client.EnsureConnection(context.Background()))
}

func TestClient_EnqueueSetsInitialStatus(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	job := &types.Job{Email: "a@x.com", EntityName: "ACME", EntityType: "Producer"}
	jobID, err := client.Enqueue(ctx, "pwmr_jobs", job)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)
	assert.Equal(t, jobID, job.JobID)

	status, err := client.GetStatus(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, types.StatusQueued, status.Status)
	assert.Equal(t, "a@x.com", status.Email)
	assert.Equal(t, "ACME", status.EntityName)
	assert.Equal(t, "pwmr_jobs", status.Queue)
	assert.NotEmpty(t, status.CreatedAt)
}

func TestClient_EnqueueGeneratesUniqueIDs(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		jobID, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
		require.NoError(t, err)
		assert.False(t, seen[jobID], "job id %s issued twice", jobID)
		seen[jobID] = true
	}
}

func TestClient_DequeueReturnsEnqueuedJob(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	jobID, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
	require.NoError(t, err)

	got, err := client.DequeueBlocking(ctx, "pwmr_jobs", time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, jobID, got.JobID)
	assert.Equal(t, "a@x.com", got.Email)

	// The pop removed the item; the queue is now empty.
	n, err := client.QueueLength(ctx, "pwmr_jobs")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClient_DequeueTimeoutIsNotAnError(t *testing.T) {
	client, _ := setupTestClient(t)

	job, err := client.DequeueBlocking(context.Background(), "empty_queue", time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClient_DequeueDropsMalformedPayload(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	_, err := mr.Lpush("pwmr_jobs", "{not json")
	require.NoError(t, err)

	job, err := client.DequeueBlocking(ctx, "pwmr_jobs", time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)

	// The malformed item is permanently gone.
	n, err := client.QueueLength(ctx, "pwmr_jobs")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClient_DequeueIsFIFO(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	first, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "first@x.com"})
	require.NoError(t, err)
	second, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "second@x.com"})
	require.NoError(t, err)

	got1, err := client.DequeueBlocking(ctx, "pwmr_jobs", time.Second)
	require.NoError(t, err)
	got2, err := client.DequeueBlocking(ctx, "pwmr_jobs", time.Second)
	require.NoError(t, err)

	assert.Equal(t, first, got1.JobID)
	assert.Equal(t, second, got2.JobID)
}

func TestClient_UpdateStatusIsIdempotent(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	jobID, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
	require.NoError(t, err)

	require.NoError(t, client.UpdateStatus(ctx, jobID, types.StatusCompleted, "done"))
	require.NoError(t, client.UpdateStatus(ctx, jobID, types.StatusCompleted, "done"))

	status, err := client.GetStatus(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, types.StatusCompleted, status.Status)
	assert.Equal(t, "done", status.Message)
	assert.NotEmpty(t, status.UpdatedAt)
}

func TestClient_UpdateStatusRejectsBackwardTransition(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	jobID, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
	require.NoError(t, err)

	require.NoError(t, client.UpdateStatus(ctx, jobID, types.StatusProcessing, "working"))
	require.NoError(t, client.UpdateStatus(ctx, jobID, types.StatusFailed, "lease expired"))

	// A late worker finish must not resurrect a job the reaper failed.
	err = client.UpdateStatus(ctx, jobID, types.StatusCompleted, "done")
	require.ErrorIs(t, err, ErrInvalidTransition)

	err = client.UpdateStatus(ctx, jobID, types.StatusProcessing, "working")
	require.ErrorIs(t, err, ErrInvalidTransition)

	status, err := client.GetStatus(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, types.StatusFailed, status.Status)
	assert.Equal(t, "lease expired", status.Message)
}

func TestClient_StatusExpiresAfterTTL(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	jobID, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
	require.NoError(t, err)

	mr.FastForward(25 * time.Hour)

	status, err := client.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestClient_GetStatusUnknownJob(t *testing.T) {
	client, _ := setupTestClient(t)

	status, err := client.GetStatus(context.Background(), "no-such-job")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestClient_PeekQueueDoesNotConsume(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	_, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
	require.NoError(t, err)
	_, err = client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "b@x.com"})
	require.NoError(t, err)

	jobs, err := client.PeekQueue(ctx, "pwmr_jobs")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	n, err := client.QueueLength(ctx, "pwmr_jobs")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestClient_ListStatuses(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	id1, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
	require.NoError(t, err)
	id2, err := client.Enqueue(ctx, "bwmr_jobs", &types.Job{Email: "b@x.com"})
	require.NoError(t, err)

	statuses, err := client.ListStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byID := map[string]*types.JobStatus{}
	for _, st := range statuses {
		byID[st.JobID] = st
	}
	assert.Equal(t, "pwmr_jobs", byID[id1].Queue)
	assert.Equal(t, "bwmr_jobs", byID[id2].Queue)
}

func TestClient_OperationsFailWhenServerDown(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	require.True(t, client.EnsureConnection(ctx))
	mr.Close()

	_, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
	assert.ErrorIs(t, err, ErrQueueUnavailable)

	_, err = client.GetStatus(ctx, "some-id")
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}

func TestClient_ReapExpiredFailsAbandonedJobs(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	abandoned, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
	require.NoError(t, err)
	live, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "b@x.com"})
	require.NoError(t, err)

	require.NoError(t, client.UpdateStatus(ctx, abandoned, types.StatusProcessing, "Scraping in progress..."))
	require.NoError(t, client.UpdateStatus(ctx, live, types.StatusProcessing, "Scraping in progress..."))

	// The abandoned job's lease is already in the past; the live one is not.
	require.NoError(t, client.RefreshLease(ctx, abandoned, -time.Minute))
	require.NoError(t, client.RefreshLease(ctx, live, 10*time.Minute))

	reaped, err := client.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	st, err := client.GetStatus(ctx, abandoned)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, st.Status)
	assert.Contains(t, st.Message, "lease expired")

	st, err = client.GetStatus(ctx, live)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, st.Status)
}

func TestClient_SweepFailedDeletesAgedRecords(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	aged, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
	require.NoError(t, err)
	recent, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "b@x.com"})
	require.NoError(t, err)

	require.NoError(t, client.UpdateStatus(ctx, aged, types.StatusFailed, "Scraping failed: boom"))
	require.NoError(t, client.UpdateStatus(ctx, recent, types.StatusFailed, "Scraping failed: boom"))

	// Age the first record past the sweep threshold.
	old := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)
	mr.HSet(StatusKeyPrefix+aged, "updated_at", old)

	deleted, err := client.SweepFailed(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	st, err := client.GetStatus(ctx, aged)
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = client.GetStatus(ctx, recent)
	require.NoError(t, err)
	require.NotNil(t, st)
}
