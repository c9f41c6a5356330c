package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verify-service/internal/client"
	"verify-service/internal/util"
)

// Event types emitted by the OTP core.
const (
	EventOTPStarted      = "otp_started"
	EventOTPDispatched   = "otp_dispatched"
	EventDeliveryFailed  = "otp_delivery_failed"
	EventOTPVerified     = "otp_verified"
	EventOTPRejected     = "otp_rejected"
	EventSessionConsumed = "session_consumed"
	EventRateLimited     = "rate_limited"
	EventBotDetected     = "bot_detected"
)

// Event is one security/abuse record. IP is retained for abuse analysis.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher ships events to Kafka best-effort. A nil producer downgrades to
// log-only mode; emitting never blocks or fails the request path.
type Publisher struct {
	producer *client.KafkaProducer
	topic    string
}

func NewPublisher(producer *client.KafkaProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

func (p *Publisher) Emit(ctx context.Context, evt Event) {
	evt.ID = uuid.NewString()
	evt.At = time.Now().UTC()

	if p == nil || p.producer == nil {
		util.Debug("Audit event (log only)",
			zap.String("type", evt.Type),
			zap.String("session_id", evt.SessionID),
			zap.String("ip", evt.IP))
		return
	}

	buf, err := json.Marshal(evt)
	if err != nil {
		util.Error("Failed to marshal audit event", zap.Error(err))
		return
	}

	if err := p.producer.ProduceMessage(ctx, p.topic, []byte(evt.SessionID), buf, nil); err != nil {
		util.Error("Failed to publish audit event",
			zap.String("type", evt.Type),
			zap.Error(err))
	}
}
