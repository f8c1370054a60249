package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeSendNotification    JobType = "send_notification"
	JobTypeExpireSubscriptions JobType = "expire_subscriptions"
	JobTypePruneLedger         JobType = "prune_ledger"
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

// NotificationJobPayload carries one billing notification to the mail worker.
type NotificationJobPayload struct {
	Kind     string     `json:"kind"`
	UserID   uint       `json:"user_id"`
	Email    string     `json:"email"`
	Tier     string     `json:"tier"`
	Provider string     `json:"provider"`
	TrialEnd *time.Time `json:"trial_end,omitempty"`
}

// ToMap converts the payload to a map for storage
func (p NotificationJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"kind":     p.Kind,
		"user_id":  p.UserID,
		"email":    p.Email,
		"tier":     p.Tier,
		"provider": p.Provider,
	}
	if p.TrialEnd != nil {
		m["trial_end"] = p.TrialEnd.UTC().Format(time.RFC3339)
	}
	return m
}

func NotificationJobPayloadFromMap(data map[string]interface{}) (*NotificationJobPayload, error) {
	var payload NotificationJobPayload
	err := decodePayload(data, &payload)
	return &payload, err
}

// ExpiryJobPayload bounds one expiry sweep.
type ExpiryJobPayload struct {
	Limit int `json:"limit"`
}

func (p ExpiryJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{"limit": p.Limit}
}

func ExpiryJobPayloadFromMap(data map[string]interface{}) (*ExpiryJobPayload, error) {
	var payload ExpiryJobPayload
	err := decodePayload(data, &payload)
	return &payload, err
}

// PruneLedgerJobPayload removes ledger entries older than RetentionSeconds, BatchSize at a time.
type PruneLedgerJobPayload struct {
	RetentionSeconds int64 `json:"retention_seconds"`
	BatchSize        int   `json:"batch_size"`
}

func (p PruneLedgerJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"retention_seconds": p.RetentionSeconds,
		"batch_size":        p.BatchSize,
	}
}

func PruneLedgerJobPayloadFromMap(data map[string]interface{}) (*PruneLedgerJobPayload, error) {
	var payload PruneLedgerJobPayload
	err := decodePayload(data, &payload)
	return &payload, err
}

func decodePayload(data map[string]interface{}, dst interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, dst)
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
