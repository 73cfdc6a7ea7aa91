package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/userhub/pkg/logger"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url, name string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject)

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

// NopPublisher drops every event. Used when NATS is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }
func (NopPublisher) Close() error                                      { return nil }

// AuditLogger logs every identity event it receives.
func AuditLogger(sub Subscriber) error {
	return sub.Subscribe(IdentityAll, func(msg *Message) {
		logger.Info("identity event", "subject", msg.Subject, "payload", string(msg.Data))
	})
}

const (
	IdentityRegistered = "identity.registered"
	IdentityVerified   = "identity.verified"
	IdentityUpdated    = "identity.updated"
	IdentityDeleted    = "identity.deleted"
	IdentityAll        = "identity.>"

	OTPRequested = "otp.requested"
)

type IdentityEvent struct {
	IdentityID string    `json:"identity_id"`
	Role       string    `json:"role,omitempty"`
	Flow       string    `json:"flow,omitempty"`
	Changes    []string  `json:"changes,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// OTPRequestedEvent never carries the code.
type OTPRequestedEvent struct {
	Channel    string    `json:"channel"`
	Delivered  bool      `json:"delivered"`
	OccurredAt time.Time `json:"occurred_at"`
}
