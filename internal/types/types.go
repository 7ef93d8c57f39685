// Package types defines the shared domain types for the scrape coordinator.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatusValue represents the lifecycle state of a scrape job.
type JobStatusValue string

const (
	StatusQueued     JobStatusValue = "queued"
	StatusProcessing JobStatusValue = "processing"
	StatusCompleted  JobStatusValue = "completed"
	StatusFailed     JobStatusValue = "failed"
)

// statusRank orders states along the allowed transition sequence.
// Terminal states share the highest rank so neither can replace the other.
var statusRank = map[JobStatusValue]int{
	StatusQueued:     0,
	StatusProcessing: 1,
	StatusCompleted:  2,
	StatusFailed:     2,
}

// IsValid reports whether the value is a known job status.
func (s JobStatusValue) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether the status is completed or failed.
func (s JobStatusValue) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the
// lifecycle monotonic (queued -> processing -> completed|failed).
// Re-asserting the current state is allowed so updates stay idempotent.
func (s JobStatusValue) CanTransitionTo(next JobStatusValue) bool {
	if !next.IsValid() {
		return false
	}
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// Record types name the compliance report each scrape targets. Each
// type has its own portal and its own job queue.
const (
	RecordTypePlastic = "pwmr"
	RecordTypeBattery = "bwmr"
	RecordTypeEWaste  = "ewmr"
)

// ValidRecordType reports whether rt names a supported record type.
func ValidRecordType(rt string) bool {
	switch rt {
	case RecordTypePlastic, RecordTypeBattery, RecordTypeEWaste:
		return true
	}
	return false
}

// QueueForRecord returns the job queue serving a record type.
func QueueForRecord(rt string) string {
	return rt + "_jobs"
}

// Job is the payload placed on the queue. The identifier is stamped in
// by the queue client at enqueue time and is never reused.
type Job struct {
	JobID      string            `json:"job_id,omitempty"`
	Email      string            `json:"email"`
	Password   string            `json:"password,omitempty"`
	EntityName string            `json:"entity_name,omitempty"`
	EntityType string            `json:"entity_type,omitempty"`
	CreatedAt  time.Time         `json:"created_at,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// Param returns a scrape parameter by key, checking the well-known
// fields before the free-form parameter map.
func (j *Job) Param(key string) string {
	switch key {
	case "email":
		return j.Email
	case "password":
		return j.Password
	case "entity_name":
		return j.EntityName
	case "entity_type":
		return j.EntityType
	}
	return j.Params[key]
}

// SetParam stores a scrape parameter, routing well-known keys to their
// struct fields. Existing non-empty values are never overwritten, so
// payload-supplied values win over backfilled credentials.
func (j *Job) SetParam(key, value string) {
	switch key {
	case "email":
		if j.Email == "" {
			j.Email = value
		}
	case "password":
		if j.Password == "" {
			j.Password = value
		}
	case "entity_name":
		if j.EntityName == "" {
			j.EntityName = value
		}
	case "entity_type":
		if j.EntityType == "" {
			j.EntityType = value
		}
	default:
		if j.Params == nil {
			j.Params = make(map[string]string)
		}
		if _, exists := j.Params[key]; !exists {
			j.Params[key] = value
		}
	}
}

// Marshal serializes the job for the queue.
func (j *Job) Marshal() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize job: %w", err)
	}
	return data, nil
}

// UnmarshalJob deserializes a queue payload.
func UnmarshalJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to deserialize job: %w", err)
	}
	return &job, nil
}

// JobStatus is the mutable per-job status record held in the status
// store. One record exists per job id, expiring 24 hours after the
// last write.
type JobStatus struct {
	JobID        string         `json:"job_id"`
	Status       JobStatusValue `json:"status"`
	Message      string         `json:"message"`
	CreatedAt    string         `json:"created_at,omitempty"`
	UpdatedAt    string         `json:"updated_at,omitempty"`
	Email        string         `json:"email,omitempty"`
	EntityName   string         `json:"entity_name,omitempty"`
	EntityType   string         `json:"entity_type,omitempty"`
	Queue        string         `json:"queue,omitempty"`
	LeaseExpires string         `json:"lease_expires_at,omitempty"`
}

// ServiceError represents a service-level error with a stable code.
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
