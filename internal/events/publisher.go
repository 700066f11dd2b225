package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"portal-auth/internal/client"
	"portal-auth/internal/util"
)

// Auth event types published to the audit topic.
const (
	TypeLoginSucceeded  = "login_succeeded"
	TypeLoginFailed     = "login_failed"
	TypeOTPIssued       = "otp_issued"
	TypeOTPResent       = "otp_resent"
	TypeSessionCreated  = "session_created"
	TypeSessionReused   = "session_reused"
	TypeSessionRevoked  = "session_revoked"
	TypeAccountRegister = "account_registered"
	TypeGoogleLinked    = "google_linked"
)

// AuthEvent is the audit record for a single auth-flow transition.
type AuthEvent struct {
	Type      string    `json:"type"`
	Email     string    `json:"email,omitempty"`
	AccountID uint      `json:"account_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits auth audit events. Failures are logged, never surfaced to
// the login path; the audit stream is best-effort.
type Publisher interface {
	Publish(ctx context.Context, event AuthEvent)
}

type kafkaPublisher struct {
	producer *client.KafkaProducer
	logger   *zap.Logger
}

func NewKafkaPublisher(producer *client.KafkaProducer, logger *zap.Logger) Publisher {
	return &kafkaPublisher{producer: producer, logger: logger}
}

func (p *kafkaPublisher) Publish(ctx context.Context, event AuthEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal auth event", util.ErrorField(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.producer.WriteMessage(ctx, []byte(event.Type), payload); err != nil {
		p.logger.Warn("Failed to publish auth event",
			util.String("type", event.Type),
			util.ErrorField(err))
	}
}

// NopPublisher drops events; used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, AuthEvent) {}
