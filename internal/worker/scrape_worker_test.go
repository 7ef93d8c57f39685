package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhruv2003/Scrapper/internal/config"
	"github.com/dhruv2003/Scrapper/internal/pipeline"
	"github.com/dhruv2003/Scrapper/internal/queue"
	"github.com/dhruv2003/Scrapper/internal/storage"
	"github.com/dhruv2003/Scrapper/internal/types"
)

type fakeRunner struct {
	mu    sync.Mutex
	jobs  []*types.Job
	err   error
	reply *pipeline.Summary
}

func (f *fakeRunner) Run(_ context.Context, job *types.Job) (*pipeline.Summary, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.reply != nil {
		return f.reply, nil
	}
	return &pipeline.Summary{JobID: job.JobID, SectionsSaved: 1, RowsSaved: 2}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type fakeCredentials map[string]map[string]string

func (f fakeCredentials) Lookup(email string) (map[string]string, bool) {
	params, ok := f[email]
	return params, ok
}

func testWorkerConfig() *config.WorkerConfig {
	return &config.WorkerConfig{
		QueueName:       "pwmr_jobs",
		DequeueTimeout:  time.Second,
		ReconnectDelay:  10 * time.Millisecond,
		ReconnectMax:    50 * time.Millisecond,
		DBErrorCooldown: 10 * time.Millisecond,
		LeaseTTL:        time.Minute,
		HeartbeatEvery:  10 * time.Millisecond,
	}
}

func setupWorker(t *testing.T, runner JobRunner, creds fakeCredentials) (*ScrapeWorker, *queue.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := queue.New(&config.RedisConfig{
		Host:           mr.Host(),
		Port:           mr.Port(),
		MaxConnections: 10,
	}, nil)
	t.Cleanup(func() { _ = client.Close() })

	w, err := NewScrapeWorker(&ScrapeWorkerConfig{
		ID:          "test-worker",
		Queue:       client,
		Credentials: creds,
		Runner:      runner,
		Config:      testWorkerConfig(),
	})
	require.NoError(t, err)

	return w, client, mr
}

func waitForStatus(t *testing.T, client *queue.Client, jobID string, want types.JobStatusValue) *types.JobStatus {
	t.Helper()

	var got *types.JobStatus
	require.Eventually(t, func() bool {
		status, err := client.GetStatus(context.Background(), jobID)
		if err != nil || status == nil {
			return false
		}
		got = status
		return status.Status == want
	}, 10*time.Second, 20*time.Millisecond, "job %s never reached status %s", jobID, want)
	return got
}

func TestScrapeWorker_CompletesJob(t *testing.T) {
	runner := &fakeRunner{}
	w, client, _ := setupWorker(t, runner, fakeCredentials{
		"a@x.com": {"password": "pw"},
	})
	ctx := context.Background()

	jobID, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop(ctx) }()

	status := waitForStatus(t, client, jobID, types.StatusCompleted)
	assert.Contains(t, status.Message, "Scraping completed for a@x.com")
	assert.Contains(t, status.Message, "1 sections, 2 rows")
	assert.Equal(t, 1, runner.count())

	// The backfilled password never leaves the worker; the runner saw it.
	runner.mu.Lock()
	assert.Equal(t, "pw", runner.jobs[0].Password)
	runner.mu.Unlock()
}

func TestScrapeWorker_MissingCredentialsFailsWithoutScraping(t *testing.T) {
	runner := &fakeRunner{}
	w, client, _ := setupWorker(t, runner, fakeCredentials{})
	ctx := context.Background()

	jobID, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "ghost@x.com"})
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop(ctx) }()

	status := waitForStatus(t, client, jobID, types.StatusFailed)
	assert.Contains(t, status.Message, "No credentials found for ghost@x.com")
	assert.Zero(t, runner.count(), "scraper must not run without credentials")
}

func TestScrapeWorker_PayloadPasswordSkipsLookup(t *testing.T) {
	runner := &fakeRunner{}
	w, client, _ := setupWorker(t, runner, fakeCredentials{})
	ctx := context.Background()

	jobID, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com", Password: "inline"})
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop(ctx) }()

	waitForStatus(t, client, jobID, types.StatusCompleted)
	assert.Equal(t, 1, runner.count())
}

func TestScrapeWorker_RunnerFailureMarksJobFailed(t *testing.T) {
	runner := &fakeRunner{err: errors.New("portal timed out")}
	w, client, _ := setupWorker(t, runner, fakeCredentials{
		"a@x.com": {"password": "pw"},
	})
	ctx := context.Background()

	jobID, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop(ctx) }()

	status := waitForStatus(t, client, jobID, types.StatusFailed)
	assert.Contains(t, status.Message, "Scraping failed: portal timed out")
}

func TestScrapeWorker_OperationalErrorCoolsDownAndContinues(t *testing.T) {
	runner := &fakeRunner{err: &storage.OperationalError{Op: "create scrape job", Err: errors.New("connection refused")}}
	w, client, _ := setupWorker(t, runner, fakeCredentials{
		"a@x.com": {"password": "pw"},
	})
	ctx := context.Background()

	first, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
	require.NoError(t, err)
	second, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop(ctx) }()

	// Both jobs fail, but the worker survives the cooldown and keeps
	// draining the queue.
	waitForStatus(t, client, first, types.StatusFailed)
	waitForStatus(t, client, second, types.StatusFailed)
	assert.Equal(t, 2, runner.count())
}

func TestScrapeWorker_ProcessingStatusAndLeaseAreSet(t *testing.T) {
	block := make(chan struct{})
	runner := &blockingRunner{release: block}
	w, client, _ := setupWorker(t, runner, fakeCredentials{
		"a@x.com": {"password": "pw"},
	})
	ctx := context.Background()

	jobID, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop(ctx) }()

	status := waitForStatus(t, client, jobID, types.StatusProcessing)
	assert.Equal(t, "Scraping in progress...", status.Message)
	assert.NotEmpty(t, status.LeaseExpires)

	close(block)
	waitForStatus(t, client, jobID, types.StatusCompleted)
}

func TestScrapeWorker_SurvivesQueueRestart(t *testing.T) {
	runner := &fakeRunner{}
	w, client, mr := setupWorker(t, runner, fakeCredentials{
		"a@x.com": {"password": "pw"},
	})
	ctx := context.Background()

	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop(ctx) }()

	// Simulate a Redis restart under the idling worker.
	require.True(t, client.EnsureConnection(ctx))
	mr.Restart()

	jobID, err := client.Enqueue(ctx, "pwmr_jobs", &types.Job{Email: "a@x.com"})
	require.NoError(t, err)

	waitForStatus(t, client, jobID, types.StatusCompleted)
}

func TestScrapeWorker_StartTwiceFails(t *testing.T) {
	runner := &fakeRunner{}
	w, _, _ := setupWorker(t, runner, fakeCredentials{})
	ctx := context.Background()

	require.NoError(t, w.Start(ctx))
	assert.Error(t, w.Start(ctx))
	require.NoError(t, w.Stop(ctx))
}

type blockingRunner struct {
	release chan struct{}
}

func (b *blockingRunner) Run(_ context.Context, job *types.Job) (*pipeline.Summary, error) {
	<-b.release
	return &pipeline.Summary{JobID: job.JobID}, nil
}
