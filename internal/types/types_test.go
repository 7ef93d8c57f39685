package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusValue_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from JobStatusValue
		to   JobStatusValue
		want bool
	}{
		{"queued to processing", StatusQueued, StatusProcessing, true},
		{"processing to completed", StatusProcessing, StatusCompleted, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"queued to failed", StatusQueued, StatusFailed, true},
		{"processing to queued", StatusProcessing, StatusQueued, false},
		{"completed to processing", StatusCompleted, StatusProcessing, false},
		{"completed to failed", StatusCompleted, StatusFailed, false},
		{"failed to completed", StatusFailed, StatusCompleted, false},
		{"idempotent completed", StatusCompleted, StatusCompleted, true},
		{"idempotent processing", StatusProcessing, StatusProcessing, true},
		{"unknown target", StatusQueued, JobStatusValue("cancelled"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestRecordTypes(t *testing.T) {
	for _, rt := range []string{RecordTypePlastic, RecordTypeBattery, RecordTypeEWaste} {
		assert.True(t, ValidRecordType(rt))
		assert.Equal(t, rt+"_jobs", QueueForRecord(rt))
	}
	assert.False(t, ValidRecordType(""))
	assert.False(t, ValidRecordType("cwmr"))
}

func TestJob_RoundTrip(t *testing.T) {
	job := &Job{
		JobID:      "abc-123",
		Email:      "a@x.com",
		Password:   "hunter2",
		EntityName: "XYZ Pvt Ltd",
		EntityType: "Producer",
		Params:     map[string]string{"portal": "plastic"},
	}

	data, err := job.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalJob(data)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)
	assert.Equal(t, job.Email, got.Email)
	assert.Equal(t, job.Password, got.Password)
	assert.Equal(t, "plastic", got.Params["portal"])
}

func TestJob_SetParamDoesNotOverwrite(t *testing.T) {
	job := &Job{Email: "a@x.com", Password: "fromjob"}

	job.SetParam("password", "fromcreds")
	job.SetParam("entity_name", "ACME")
	job.SetParam("gst_number", "27AAAAA0000A1Z5")
	job.SetParam("gst_number", "other")

	assert.Equal(t, "fromjob", job.Password)
	assert.Equal(t, "ACME", job.EntityName)
	assert.Equal(t, "27AAAAA0000A1Z5", job.Param("gst_number"))
}

func TestUnmarshalJob_Malformed(t *testing.T) {
	_, err := UnmarshalJob([]byte("{not json"))
	assert.Error(t, err)
}
