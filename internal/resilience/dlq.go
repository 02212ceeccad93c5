package resilience

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// DefaultMaxRetries bounds redelivery of a dead-lettered message.
const DefaultMaxRetries = 3

// DLQEntry is a pipeline message whose handler failed, parked for later
// redelivery.
type DLQEntry struct {
	ID           string          `json:"id"`
	Topic        model.Topic     `json:"topic"`
	Key          string          `json:"key,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	Error        string          `json:"error"`
	ErrorType    string          `json:"error_type"` // "transient" or "permanent"
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	NextRetryAt  time.Time       `json:"next_retry_at"`
	CreatedAt    time.Time       `json:"created_at"`
	LastFailedAt time.Time       `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType string      `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Topic     model.Topic `json:"topic,omitempty"`
	Limit     int         `json:"limit,omitempty"`
}

// NewDLQEntry parks one failed message, classifying the error for retry
// eligibility. Transient failures are eligible immediately.
func NewDLQEntry(topic model.Topic, key string, payload []byte, err error) DLQEntry {
	now := time.Now().UTC()
	return DLQEntry{
		ID:           uuid.New().String(),
		Topic:        topic,
		Key:          key,
		Payload:      payload,
		Error:        err.Error(),
		ErrorType:    ClassifyError(err),
		MaxRetries:   DefaultMaxRetries,
		NextRetryAt:  now,
		CreatedAt:    now,
		LastFailedAt: now,
	}
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ReadyForRetry reports whether the entry may be redelivered now.
func (e *DLQEntry) ReadyForRetry(now time.Time) bool {
	return e.CanRetry() && !now.Before(e.NextRetryAt)
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
