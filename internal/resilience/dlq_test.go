package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/sells-group/signal-pipeline/internal/model"
)

func TestDLQEntry_CanRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		want       bool
	}{
		{"below max", 0, 3, true},
		{"at max", 3, 3, false},
		{"above max", 5, 3, false},
		{"one below max", 2, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := DLQEntry{
				RetryCount: tt.retryCount,
				MaxRetries: tt.maxRetries,
			}
			if got := e.CanRetry(); got != tt.want {
				t.Errorf("CanRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"transient error", NewTransientError(errors.New("503"), 503), "transient"},
		{"permanent error", errors.New("invalid input"), "permanent"},
		{"connection reset", errors.New("connection reset by peer"), "transient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewDLQEntry(t *testing.T) {
	err := NewTransientError(errors.New("broker unavailable"), 503)
	e := NewDLQEntry(model.TopicCleanEvents, "42", []byte(`{"company_id":42}`), err)

	if e.ID == "" {
		t.Error("expected generated id")
	}
	if e.Topic != model.TopicCleanEvents {
		t.Errorf("Topic = %q, want %q", e.Topic, model.TopicCleanEvents)
	}
	if e.ErrorType != "transient" {
		t.Errorf("ErrorType = %q, want transient", e.ErrorType)
	}
	if e.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", e.MaxRetries, DefaultMaxRetries)
	}
	if !e.ReadyForRetry(time.Now().UTC()) {
		t.Error("fresh transient entry should be ready for retry")
	}
}

func TestDLQEntry_ReadyForRetry(t *testing.T) {
	now := time.Now().UTC()
	e := DLQEntry{RetryCount: 0, MaxRetries: 3, NextRetryAt: now.Add(time.Hour)}
	if e.ReadyForRetry(now) {
		t.Error("entry with future NextRetryAt should not be ready")
	}
	e.NextRetryAt = now.Add(-time.Minute)
	if !e.ReadyForRetry(now) {
		t.Error("entry with past NextRetryAt should be ready")
	}
	e.RetryCount = 3
	if e.ReadyForRetry(now) {
		t.Error("exhausted entry should not be ready")
	}
}
