package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeSettlementGenerate  JobType = "settlement_generate"
	JobTypeSettlementStatement JobType = "settlement_statement"
	JobTypeWebhookReplay       JobType = "webhook_replay"
	JobTypeRefundSync          JobType = "refund_sync"
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

// SettlementGenerateJobPayload settles one vendor, or every eligible vendor
// when VendorID is empty, for [PeriodStart, PeriodEnd).
type SettlementGenerateJobPayload struct {
	VendorID    string    `json:"vendor_id,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

func (p SettlementGenerateJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"period_start": p.PeriodStart.UTC().Format(time.RFC3339Nano),
		"period_end":   p.PeriodEnd.UTC().Format(time.RFC3339Nano),
	}
	if p.VendorID != "" {
		m["vendor_id"] = p.VendorID
	}
	if p.Currency != "" {
		m["currency"] = p.Currency
	}
	return m
}

// SettlementStatementJobPayload archives the statement of a completed settlement.
type SettlementStatementJobPayload struct {
	SettlementID string `json:"settlement_id"`
}

func (p SettlementStatementJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{"settlement_id": p.SettlementID}
}

// WebhookReplayJobPayload replays one stored event, or a batch of stale
// unprocessed events when EventID is zero.
type WebhookReplayJobPayload struct {
	EventID          uint `json:"event_id,omitempty"`
	OlderThanSeconds int  `json:"older_than_seconds,omitempty"`
	Limit            int  `json:"limit,omitempty"`
}

func (p WebhookReplayJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"event_id":           p.EventID,
		"older_than_seconds": p.OlderThanSeconds,
		"limit":              p.Limit,
	}
}

// RefundSyncJobPayload polls the gateway for one refund, or for a batch of
// refunds still pending or processing when RefundID is empty.
type RefundSyncJobPayload struct {
	RefundID         string `json:"refund_id,omitempty"`
	OlderThanSeconds int    `json:"older_than_seconds,omitempty"`
	Limit            int    `json:"limit,omitempty"`
}

func (p RefundSyncJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"older_than_seconds": p.OlderThanSeconds,
		"limit":              p.Limit,
	}
	if p.RefundID != "" {
		m["refund_id"] = p.RefundID
	}
	return m
}

// PayloadFromMap decodes a stored job payload into T.
func PayloadFromMap[T any](data map[string]interface{}) (*T, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload T
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
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
