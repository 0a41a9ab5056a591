package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/dunning-engine/internal/domain"
)

// Notifier is the outbound customer and admin messaging port.
type Notifier interface {
	Send(ctx context.Context, msg Message) (*Response, error)
}

// Message is one rendered notification.
type Message struct {
	To       string
	Subject  string
	Body     string
	Channel  domain.Channel
	TenantID string
	// Kind is the notification type recorded on the attempt (failure, success, ...).
	Kind string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, m.Channel)
	}
	if strings.TrimSpace(m.Body) == "" {
		return fmt.Errorf("%w: body is required", domain.ErrValidation)
	}
	return nil
}

// Response stores delivery metadata for logs.
type Response struct {
	StatusCode int
	Body       string
	MessageID  string
	Attempts   int
}
