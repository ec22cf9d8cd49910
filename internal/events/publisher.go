package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Event types
const (
	EventAccountCreated   = "onboarding.account.created"
	EventVendorCreated    = "onboarding.vendor.created"
	EventSessionCompleted = "onboarding.session.completed"
	EventSessionAbandoned = "onboarding.session.abandoned"
)

// AccountCreatedEvent is published when a personal account has been created
type AccountCreatedEvent struct {
	EventType string    `json:"event_type"`
	SessionID string    `json:"session_id"`
	AccountID string    `json:"account_id"`
	Handle    string    `json:"handle"`
	Timestamp time.Time `json:"timestamp"`
}

// VendorCreatedEvent is published when a vendor account has been created
type VendorCreatedEvent struct {
	EventType string    `json:"event_type"`
	SessionID string    `json:"session_id"`
	VendorID  string    `json:"vendor_id"`
	Handle    string    `json:"handle"`
	StoreURL  string    `json:"store_url"`
	StoreType string    `json:"store_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionCompletedEvent is published after terminal creation succeeds.
// Downstream consumers (KYC review, notification) pick the session up from here.
type SessionCompletedEvent struct {
	EventType string    `json:"event_type"`
	SessionID string    `json:"session_id"`
	Variant   string    `json:"variant"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionAbandonedEvent is published when a session is explicitly abandoned
type SessionAbandonedEvent struct {
	EventType string    `json:"event_type"`
	SessionID string    `json:"session_id"`
	Variant   string    `json:"variant"`
	LastStep  string    `json:"last_step"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher wraps the NATS connection for onboarding lifecycle events
type Publisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
}

// NewPublisher connects to NATS and ensures the onboarding event stream exists
func NewPublisher(url string, logger *logrus.Logger) (*Publisher, error) {
	entry := logger.WithField("component", "events")

	opts := []nats.Option{
		nats.Name("onboarding-service"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			entry.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			entry.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:        "ONBOARDING_EVENTS",
		Description: "Stream for onboarding lifecycle events",
		Subjects:    []string{"onboarding.>"},
		Storage:     nats.FileStorage,
		Retention:   nats.LimitsPolicy,
		MaxAge:      24 * time.Hour * 7,
		MaxMsgs:     100000,
		Discard:     nats.DiscardOld,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		entry.WithError(err).Warn("Could not create stream (may already exist)")
	}

	entry.WithField("url", url).Info("Connected to NATS")

	return &Publisher{
		conn:   conn,
		js:     js,
		logger: entry,
	}, nil
}

// PublishAccountCreated publishes an account created event with retry
func (p *Publisher) PublishAccountCreated(ctx context.Context, event *AccountCreatedEvent) error {
	if p == nil || p.js == nil {
		return fmt.Errorf("NATS publisher not initialized")
	}
	event.EventType = EventAccountCreated
	event.Timestamp = time.Now().UTC()
	return p.publish(ctx, EventAccountCreated, event)
}

// PublishVendorCreated publishes a vendor created event with retry
func (p *Publisher) PublishVendorCreated(ctx context.Context, event *VendorCreatedEvent) error {
	if p == nil || p.js == nil {
		return fmt.Errorf("NATS publisher not initialized")
	}
	event.EventType = EventVendorCreated
	event.Timestamp = time.Now().UTC()
	return p.publish(ctx, EventVendorCreated, event)
}

// PublishSessionCompleted publishes a session completed event
func (p *Publisher) PublishSessionCompleted(ctx context.Context, event *SessionCompletedEvent) error {
	if p == nil || p.js == nil {
		p.log().Debug("Publisher not initialized, skipping publish")
		return nil
	}
	event.EventType = EventSessionCompleted
	event.Timestamp = time.Now().UTC()
	return p.publish(ctx, EventSessionCompleted, event)
}

// PublishSessionAbandoned publishes a session abandoned event
func (p *Publisher) PublishSessionAbandoned(ctx context.Context, event *SessionAbandonedEvent) error {
	if p == nil || p.js == nil {
		p.log().Debug("Publisher not initialized, skipping publish")
		return nil
	}
	event.EventType = EventSessionAbandoned
	event.Timestamp = time.Now().UTC()
	return p.publish(ctx, EventSessionAbandoned, event)
}

// publish marshals and publishes an event with exponential backoff retry
func (p *Publisher) publish(ctx context.Context, subject string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var ack *nats.PubAck
	maxRetries := 3
	for attempt := 1; attempt <= maxRetries; attempt++ {
		ack, err = p.js.Publish(subject, data)
		if err == nil {
			break
		}
		p.log().WithError(err).WithFields(logrus.Fields{
			"subject": subject,
			"attempt": attempt,
		}).Warn("Failed to publish event")
		if attempt < maxRetries {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while retrying publish: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
	}
	if err != nil {
		return fmt.Errorf("failed to publish event after %d attempts: %w", maxRetries, err)
	}

	p.log().WithFields(logrus.Fields{
		"subject":  subject,
		"sequence": ack.Sequence,
	}).Info("Published event")
	return nil
}

// Close closes the NATS connection
func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}

// IsConnected returns true if the publisher is connected
func (p *Publisher) IsConnected() bool {
	return p != nil && p.conn != nil && p.conn.IsConnected()
}

func (p *Publisher) log() *logrus.Entry {
	if p != nil && p.logger != nil {
		return p.logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
