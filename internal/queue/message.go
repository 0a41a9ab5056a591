package queue

import (
	"fmt"
	"strings"
	"time"
)

// RetryMessage asks a worker to process one due schedule of an attempt.
type RetryMessage struct {
	AttemptID     string    `json:"attemptId"`
	TenantID      string    `json:"tenantId"`
	AttemptNumber int       `json:"attemptNumber"`
	DueAt         time.Time `json:"dueAt"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

func (m RetryMessage) Validate() error {
	if strings.TrimSpace(m.AttemptID) == "" {
		return fmt.Errorf("attemptId is required")
	}
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("tenantId is required")
	}
	if m.AttemptNumber < 1 {
		return fmt.Errorf("invalid attemptNumber %d", m.AttemptNumber)
	}
	return nil
}

// MessageID is stable per schedule so broker-side duplicates can be spotted.
func (m RetryMessage) MessageID() string {
	return fmt.Sprintf("%s:%d:%d", m.AttemptID, m.AttemptNumber, m.DueAt.UTC().Unix())
}
