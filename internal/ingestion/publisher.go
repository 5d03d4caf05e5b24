package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"CageKeeper/internal/event"
	"CageKeeper/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// StreamPublisher is the subset of jetstream.JetStream used for publishing.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// AuditPublisher publishes the keeper's audit envelopes to JetStream on
// cage.keeper.{kind}. Record never blocks the keeper: when the buffer is
// full the envelope is dropped and counted.
type AuditPublisher struct {
	js      StreamPublisher
	ch      chan event.Envelope
	timeout time.Duration
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewAuditPublisher(js StreamPublisher, buffer int, logger zerolog.Logger, metrics *observability.Metrics) *AuditPublisher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &AuditPublisher{
		js:      js,
		ch:      make(chan event.Envelope, buffer),
		timeout: 5 * time.Second,
		logger:  logger,
		metrics: metrics,
	}
}

// Record queues e for publishing.
func (p *AuditPublisher) Record(e event.Envelope) {
	select {
	case p.ch <- e:
	default:
		if p.metrics != nil {
			p.metrics.AuditDrops.Inc()
		}
		p.logger.Warn().
			Int64("sequence", e.Sequence).
			Str("kind", e.Kind).
			Msg("audit buffer full; envelope dropped")
	}
}

// Run publishes queued envelopes until ctx is cancelled, then drains what
// is already buffered.
func (p *AuditPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return nil

		case e := <-p.ch:
			p.publishOne(ctx, e)
		}
	}
}

func (p *AuditPublisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	for {
		select {
		case e := <-p.ch:
			p.publishOne(ctx, e)
		default:
			return
		}
	}
}

func (p *AuditPublisher) publishOne(ctx context.Context, e event.Envelope) {
	if err := p.publish(ctx, e); err != nil {
		// Non-fatal: every action is also in the keeper's logs
		p.logger.Warn().Err(err).Int64("sequence", e.Sequence).Str("kind", e.Kind).Msg("audit publish failed")
		return
	}
	if p.metrics != nil {
		p.metrics.AuditPublished.Inc()
	}
}

func (p *AuditPublisher) publish(ctx context.Context, e event.Envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// The envelope id doubles as the JetStream dedup id
	_, err = p.js.Publish(pubCtx, e.Subject(), data, jetstream.WithMsgID(e.ID.String()))
	return err
}
