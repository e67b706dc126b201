// Package bus publishes workflow lifecycle events (run completed, run
// failed) onto NATS subjects, propagating the OpenTelemetry trace context
// of the run that produced them so downstream consumers can correlate.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.TraceContext{}

// RunEvent is published after a workflow run reaches a terminal outcome.
type RunEvent struct {
	Workflow    string    `json:"workflow"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Succeeded   bool      `json:"succeeded"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Publisher publishes RunEvents onto a fixed NATS subject.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// NewPublisher returns a Publisher that publishes to subject over conn.
func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

// PublishRunEvent injects the current trace context into the message
// headers and publishes evt as JSON.
func (p *Publisher) PublishRunEvent(ctx context.Context, evt RunEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("bus: marshal run event: %w", err)
	}

	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))

	msg := &nats.Msg{Subject: p.subject, Data: data, Header: hdr}
	return p.conn.PublishMsg(msg)
}

// Subscribe wraps conn.Subscribe, extracting the publisher's trace context
// for each message and starting a consumer span around handler.
func Subscribe(conn *nats.Conn, subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	return conn.Subscribe(subject, func(m *nats.Msg) {
		ctx := propagator.Extract(context.Background(), propagation.HeaderCarrier(m.Header))
		tracer := otel.Tracer("flowengine-bus")
		ctx, span := tracer.Start(ctx, "bus.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		handler(ctx, m)
	})
}
