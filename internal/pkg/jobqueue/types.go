package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeNotifyUser     JobType = "notify_user"
	JobTypeArchivePayload JobType = "archive_webhook_payload"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// NotifyUserPayload carries one user notification.
type NotifyUserPayload struct {
	UserID uint              `json:"user_id"`
	Kind   string            `json:"kind"`
	Data   map[string]string `json:"data,omitempty"`
}

// ToMap converts the payload to a map for storage
func (p NotifyUserPayload) ToMap() map[string]interface{} {
	data := make(map[string]interface{}, len(p.Data))
	for k, v := range p.Data {
		data[k] = v
	}
	return map[string]interface{}{
		"user_id": p.UserID,
		"kind":    p.Kind,
		"data":    data,
	}
}

func NotifyUserPayloadFromMap(data map[string]interface{}) (*NotifyUserPayload, error) {
	var payload NotifyUserPayload
	if err := decodePayload(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ArchivePayload points at the audit log entry whose raw body is archived.
type ArchivePayload struct {
	AttemptID uint   `json:"attempt_id"`
	Provider  string `json:"provider"`
}

func (p ArchivePayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"attempt_id": p.AttemptID,
		"provider":   p.Provider,
	}
}

func ArchivePayloadFromMap(data map[string]interface{}) (*ArchivePayload, error) {
	var payload ArchivePayload
	if err := decodePayload(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func decodePayload(data map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, out)
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
