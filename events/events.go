// Package events announces issue lifecycle changes to other services.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/nats-io/nats.go"
)

const (
	SubjectIssueReported     = "issues.reported"
	SubjectIssueMerged       = "issues.merged"
	SubjectIssueStatus       = "issues.status"
	SubjectAssignmentCreated = "assignments.created"
	SubjectAssignmentDone    = "assignments.completed"
)

// Event is the envelope of every message.
type Event struct {
	Subject    string            `json:"subject"`
	IssueID    string            `json:"issueId,omitempty"`
	CrewID     string            `json:"crewId,omitempty"`
	Assignment string            `json:"assignmentId,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Publisher delivers events. Delivery is best effort: callers log failures
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type NATSConfig struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

type NATS struct {
	conn *nats.Conn
}

func NewNATS(cfg NATSConfig) (*NATS, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect to NATS", goerr.V("url", cfg.URL))
	}
	return &NATS{conn: conn}, nil
}

func (n *NATS) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal event", goerr.V("subject", e.Subject))
	}
	if err := n.conn.Publish(e.Subject, payload); err != nil {
		return goerr.Wrap(err, "failed to publish event", goerr.V("subject", e.Subject))
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() {
	_ = n.conn.Drain()
}

type Nop struct{}

func (Nop) Publish(ctx context.Context, e Event) error { return nil }

// Buffer keeps published events in memory.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

func (b *Buffer) Publish(ctx context.Context, e Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// Subjects lists the subjects of published events in order.
func (b *Buffer) Subjects() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.Subject
	}
	return out
}
