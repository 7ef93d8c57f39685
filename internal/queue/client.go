// Package queue implements the Redis-backed job queue and status store.
//
// Jobs are plain JSON payloads on a Redis list; each job has a companion
// status hash under "job_status:<id>" that expires 24 hours after its
// last write. The blocking pop is the only cross-process synchronization
// primitive: exactly one worker receives any given queued job.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dhruv2003/Scrapper/internal/config"
	"github.com/dhruv2003/Scrapper/internal/logging"
	"github.com/dhruv2003/Scrapper/internal/types"
)

// StatusKeyPrefix prefixes every job status hash key.
const StatusKeyPrefix = "job_status:"

// DefaultStatusTTL is how long a status record outlives its last write.
const DefaultStatusTTL = 24 * time.Hour

// Client provides a resilient interface over the job queue and status
// store. It owns the underlying connection handle; callers never see
// transport-level objects. A Client is safe for concurrent use.
type Client struct {
	cfg       *config.RedisConfig
	logger    *logging.Logger
	statusTTL time.Duration

	mu     sync.Mutex
	client *redis.Client
}

// New creates a queue client. No connection is attempted until the
// first operation.
func New(cfg *config.RedisConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Global()
	}
	return &Client{
		cfg:       cfg,
		logger:    logger,
		statusTTL: DefaultStatusTTL,
	}
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// EnsureConnection makes sure a live connection exists, dialing if
// needed and verifying liveness with a ping. It never returns an error:
// on failure the client is left disconnected and false is returned so
// callers can back off and retry. A handle that fails a fresh ping is
// discarded and the dial is retried once.
func (c *Client) EnsureConnection(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureConnectionLocked(ctx)
}

func (c *Client) ensureConnectionLocked(ctx context.Context) bool {
	if c.client == nil {
		c.logger.Infof("Connecting to Redis at %s", c.cfg.Addr())
		client := redis.NewClient(&redis.Options{
			Addr:         c.cfg.Addr(),
			Password:     c.cfg.Password,
			DB:           c.cfg.DB,
			PoolSize:     c.cfg.MaxConnections,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			c.logger.WithError(err).Error("Redis connection failed")
			_ = client.Close()
			return false
		}

		c.client = client
		return true
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		c.logger.Warn("Redis connection lost, attempting to reconnect")
		_ = c.client.Close()
		c.client = nil
		return c.ensureConnectionLocked(ctx)
	}
	return true
}

// handle returns the live connection, ensuring one first.
func (c *Client) handle(ctx context.Context) (*redis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ensureConnectionLocked(ctx) {
		return nil, unavailable("connect", errors.New("connection not available"))
	}
	return c.client, nil
}

// invalidate discards a handle believed broken so the next operation
// dials fresh instead of reusing it.
func (c *Client) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}
}

// statusKey returns the status hash key for a job id.
func statusKey(jobID string) string {
	return StatusKeyPrefix + jobID
}

// Enqueue generates a fresh job id, stamps it into the payload, writes
// the initial "queued" status record with a 24-hour expiry and appends
// the serialized payload to the tail of the named queue.
func (c *Client) Enqueue(ctx context.Context, queueName string, job *types.Job) (string, error) {
	rdb, err := c.handle(ctx)
	if err != nil {
		return "", err
	}

	jobID := uuid.New().String()
	job.JobID = jobID
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	payload, err := job.Marshal()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	key := statusKey(jobID)
	now := time.Now().UTC().Format(time.RFC3339)

	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"status":      string(types.StatusQueued),
		"message":     "Job queued, waiting for worker",
		"created_at":  now,
		"email":       job.Email,
		"entity_name": job.EntityName,
		"entity_type": job.EntityType,
		"queue":       queueName,
	})
	pipe.Expire(ctx, key, c.statusTTL)
	pipe.LPush(ctx, queueName, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		c.invalidate()
		return "", unavailable("enqueue", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"jobID": jobID,
		"queue": queueName,
	}).Info("Job queued")
	return jobID, nil
}

// DequeueBlocking pops from the head of the queue, blocking up to
// timeout. A timeout is not an error: (nil, nil) is returned so the
// caller's loop can re-check for shutdown. A popped item that fails to
// deserialize is logged and dropped; the queue is at-most-once with no
// replay.
func (c *Client) DequeueBlocking(ctx context.Context, queueName string, timeout time.Duration) (*types.Job, error) {
	rdb, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}

	vals, err := rdb.BRPop(ctx, timeout, queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		c.invalidate()
		return nil, unavailable("dequeue", err)
	}
	// BRPop returns [key, value]
	if len(vals) < 2 {
		return nil, nil
	}

	job, err := types.UnmarshalJob([]byte(vals[1]))
	if err != nil {
		c.logger.WithError(err).Error("Dropping malformed job payload")
		return nil, nil
	}
	return job, nil
}

// UpdateStatus overwrites the status fields of a job record and stamps
// updated_at. The lifecycle is monotonic: a write that would move the
// job backwards, or out of a terminal state, is rejected with
// ErrInvalidTransition. The writes are pipelined so readers never
// observe a partially updated record. The record's expiry is refreshed
// so it survives 24 hours past this write.
func (c *Client) UpdateStatus(ctx context.Context, jobID string, status types.JobStatusValue, message string) error {
	rdb, err := c.handle(ctx)
	if err != nil {
		return err
	}

	key := statusKey(jobID)

	current, err := rdb.HGet(ctx, key, "status").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.invalidate()
		return unavailable("update status", err)
	}
	// An expired record has no current status; accept the write so a
	// late finish still leaves a terminal record behind.
	if err == nil {
		if cur := types.JobStatusValue(current); !cur.CanTransitionTo(status) {
			return fmt.Errorf("job %s: %w: %s -> %s", jobID, ErrInvalidTransition, cur, status)
		}
	}

	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"status":     string(status),
		"message":    message,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
	pipe.Expire(ctx, key, c.statusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.invalidate()
		return unavailable("update status", err)
	}
	return nil
}

// GetStatus returns the status record for a job, or nil if the key does
// not exist or has expired.
func (c *Client) GetStatus(ctx context.Context, jobID string) (*types.JobStatus, error) {
	rdb, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}

	fields, err := rdb.HGetAll(ctx, statusKey(jobID)).Result()
	if err != nil {
		c.invalidate()
		return nil, unavailable("get status", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return statusFromHash(jobID, fields), nil
}

// ListStatuses returns the status records of every known job.
func (c *Client) ListStatuses(ctx context.Context) ([]*types.JobStatus, error) {
	rdb, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}

	var statuses []*types.JobStatus
	iter := rdb.Scan(ctx, 0, StatusKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := rdb.HGetAll(ctx, key).Result()
		if err != nil {
			c.invalidate()
			return nil, unavailable("list statuses", err)
		}
		if len(fields) == 0 {
			continue
		}
		statuses = append(statuses, statusFromHash(strings.TrimPrefix(key, StatusKeyPrefix), fields))
	}
	if err := iter.Err(); err != nil {
		c.invalidate()
		return nil, unavailable("list statuses", err)
	}
	return statuses, nil
}

// PeekQueue returns the jobs currently waiting in the queue without
// consuming them, head of the queue last (LPUSH order).
func (c *Client) PeekQueue(ctx context.Context, queueName string) ([]*types.Job, error) {
	rdb, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}

	items, err := rdb.LRange(ctx, queueName, 0, -1).Result()
	if err != nil {
		c.invalidate()
		return nil, unavailable("peek queue", err)
	}

	jobs := make([]*types.Job, 0, len(items))
	for _, item := range items {
		job, err := types.UnmarshalJob([]byte(item))
		if err != nil {
			c.logger.WithError(err).Error("Skipping malformed job payload in queue")
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// QueueLength returns the number of jobs waiting in the named queue.
func (c *Client) QueueLength(ctx context.Context, queueName string) (int64, error) {
	rdb, err := c.handle(ctx)
	if err != nil {
		return 0, err
	}

	n, err := rdb.LLen(ctx, queueName).Result()
	if err != nil {
		c.invalidate()
		return 0, unavailable("queue length", err)
	}
	return n, nil
}

// RefreshLease stamps a new lease expiry onto a job's status record.
// The owning worker calls this periodically while processing so a
// reaper can tell a live job from one abandoned by a dead worker.
func (c *Client) RefreshLease(ctx context.Context, jobID string, ttl time.Duration) error {
	rdb, err := c.handle(ctx)
	if err != nil {
		return err
	}

	expires := time.Now().UTC().Add(ttl).Format(time.RFC3339)
	if err := rdb.HSet(ctx, statusKey(jobID), "lease_expires_at", expires).Err(); err != nil {
		c.invalidate()
		return unavailable("refresh lease", err)
	}
	return nil
}

// ReapExpired fails every processing job whose lease has lapsed. A
// worker killed mid-job leaves its status stuck at processing forever;
// the reaper converts those to failed so callers polling the status see
// a terminal state. Jobs are not requeued, preserving at-most-once
// dispatch. Returns the number of jobs reaped.
func (c *Client) ReapExpired(ctx context.Context) (int, error) {
	statuses, err := c.ListStatuses(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	reaped := 0
	for _, st := range statuses {
		if st.Status != types.StatusProcessing || st.LeaseExpires == "" {
			continue
		}
		expires, err := time.Parse(time.RFC3339, st.LeaseExpires)
		if err != nil || now.Before(expires) {
			continue
		}
		msg := fmt.Sprintf("Worker lease expired at %s; job abandoned", st.LeaseExpires)
		if err := c.UpdateStatus(ctx, st.JobID, types.StatusFailed, msg); err != nil {
			return reaped, err
		}
		c.logger.WithField("jobID", st.JobID).Warn("Reaped abandoned job")
		reaped++
	}
	return reaped, nil
}

// SweepFailed deletes failed status records older than maxAge, keyed on
// their last update. Returns the number of records deleted.
func (c *Client) SweepFailed(ctx context.Context, maxAge time.Duration) (int, error) {
	statuses, err := c.ListStatuses(ctx)
	if err != nil {
		return 0, err
	}

	rdb, err := c.handle(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	deleted := 0
	for _, st := range statuses {
		if st.Status != types.StatusFailed {
			continue
		}
		stamp := st.UpdatedAt
		if stamp == "" {
			stamp = st.CreatedAt
		}
		when, err := time.Parse(time.RFC3339, stamp)
		if err != nil || when.After(cutoff) {
			continue
		}
		if err := rdb.Del(ctx, statusKey(st.JobID)).Err(); err != nil {
			c.invalidate()
			return deleted, unavailable("sweep failed", err)
		}
		deleted++
	}
	return deleted, nil
}

func statusFromHash(jobID string, fields map[string]string) *types.JobStatus {
	return &types.JobStatus{
		JobID:        jobID,
		Status:       types.JobStatusValue(fields["status"]),
		Message:      fields["message"],
		CreatedAt:    fields["created_at"],
		UpdatedAt:    fields["updated_at"],
		Email:        fields["email"],
		EntityName:   fields["entity_name"],
		EntityType:   fields["entity_type"],
		Queue:        fields["queue"],
		LeaseExpires: fields["lease_expires_at"],
	}
}
