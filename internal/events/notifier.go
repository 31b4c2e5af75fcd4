package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/edgefleet/authcore/pkg/logger"
	"github.com/edgefleet/authcore/pkg/metrics"
)

// Subjects follow <service>.<entity>.<action>.
const (
	SubjectPermissionGranted    = "authz.permission.granted"
	SubjectPermissionRevoked    = "authz.permission.revoked"
	SubjectSharingCreated       = "sharing.resource.created"
	SubjectSharingStatusChanged = "sharing.resource.status_changed"
	SubjectSharingMemberGranted = "sharing.member.granted"
	SubjectSharingMemberRevoked = "sharing.member.revoked"
	SubjectCreditConsumed       = "billing.credit.consumed"
	SubjectCreditInsufficient   = "billing.credit.insufficient"
)

// Notifier publishes domain events best-effort. Implementations must never
// fail the caller: a broken broker is logged and the event dropped.
type Notifier interface {
	Publish(ctx context.Context, subject string, payload map[string]any)
}

// NATSNotifier publishes events to a NATS broker.
type NATSNotifier struct {
	conn *nats.Conn
	log  *zap.Logger
}

// NewNATSNotifier wraps an established NATS connection.
func NewNATSNotifier(conn *nats.Conn) *NATSNotifier {
	return &NATSNotifier{
		conn: conn,
		log:  logger.WithModule("events"),
	}
}

// Publish marshals the payload and hands it to the broker. Failures are
// logged and swallowed so business operations never fail on event delivery.
func (n *NATSNotifier) Publish(ctx context.Context, subject string, payload map[string]any) {
	data, err := json.Marshal(stampPayload(payload))
	if err != nil {
		n.log.Warn("drop event: marshal payload", zap.String("subject", subject), zap.Error(err))
		metrics.EventsPublished.WithLabelValues(subject, "dropped").Inc()
		return
	}

	if n.conn == nil {
		n.log.Debug("drop event: no broker connection", zap.String("subject", subject))
		metrics.EventsPublished.WithLabelValues(subject, "dropped").Inc()
		return
	}

	if err := n.conn.Publish(subject, data); err != nil {
		n.log.Warn("drop event: publish failed", zap.String("subject", subject), zap.Error(err))
		metrics.EventsPublished.WithLabelValues(subject, "dropped").Inc()
		return
	}

	metrics.EventsPublished.WithLabelValues(subject, "ok").Inc()
}

func stampPayload(payload map[string]any) map[string]any {
	if payload == nil {
		payload = map[string]any{}
	}
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
	return payload
}

// Noop discards all events. Used when no broker is configured.
type Noop struct{}

// Publish implements Notifier.
func (Noop) Publish(context.Context, string, map[string]any) {}

// Recorded is one captured event.
type Recorded struct {
	Subject string
	Payload map[string]any
}

// Recorder captures published events in memory for assertions.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

// NewRecorder constructs an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish implements Notifier.
func (r *Recorder) Publish(_ context.Context, subject string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Subject: subject, Payload: stampPayload(payload)})
}

// Events returns a copy of the captured events.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// BySubject returns the captured events matching the subject.
func (r *Recorder) BySubject(subject string) []Recorded {
	var out []Recorded
	for _, ev := range r.Events() {
		if ev.Subject == subject {
			out = append(out, ev)
		}
	}
	return out
}
