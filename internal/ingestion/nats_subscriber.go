package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"CageKeeper/internal/event"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// AuditTail replays and follows the audit stream, handing every envelope to
// a handler in stream order. It backs the operator's audit command.
type AuditTail struct {
	js       jetstream.JetStream
	logger   zerolog.Logger
	consumer jetstream.ConsumeContext
}

// TailOptions narrows what is delivered.
type TailOptions struct {
	// Kind limits delivery to one envelope kind, e.g. "cage"; empty means all
	Kind string

	// Since starts delivery at the first envelope stored at or after it;
	// zero replays the whole stream
	Since time.Time
}

func NewAuditTail(js jetstream.JetStream, logger zerolog.Logger) *AuditTail {
	return &AuditTail{js: js, logger: logger}
}

// Subject returns the filter subject for opts.
func (o TailOptions) Subject() string {
	if o.Kind == "" {
		return AuditSubjects
	}
	return "cage.keeper." + o.Kind
}

// Start creates an ephemeral ordered consumer and begins delivery. Messages
// that fail to decode are logged and skipped.
func (t *AuditTail) Start(ctx context.Context, opts TailOptions, handle func(event.Envelope)) error {
	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{opts.Subject()},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if !opts.Since.IsZero() {
		since := opts.Since
		cfg.DeliverPolicy = jetstream.DeliverByStartTimePolicy
		cfg.OptStartTime = &since
	}

	consumer, err := t.js.OrderedConsumer(ctx, AuditStream, cfg)
	if err != nil {
		return fmt.Errorf("create audit consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		env, err := DecodeEnvelope(msg.Data())
		if err != nil {
			t.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("undecodable audit message")
			return
		}
		handle(env)
	})
	if err != nil {
		return fmt.Errorf("consume audit stream: %w", err)
	}
	t.consumer = cc
	t.logger.Info().Str("subject", opts.Subject()).Msg("following audit stream")
	return nil
}

// Stop stops delivery.
func (t *AuditTail) Stop() {
	if t.consumer != nil {
		t.consumer.Stop()
	}
}

// DecodeEnvelope parses a published envelope.
func DecodeEnvelope(data []byte) (event.Envelope, error) {
	var env event.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return event.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Kind == "" {
		return event.Envelope{}, fmt.Errorf("decode envelope: missing kind")
	}
	env.EventType = event.ParseEventType(env.Kind)
	return env, nil
}
