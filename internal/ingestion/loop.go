package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"PositionVault/internal/core"
	"PositionVault/internal/event"
	"PositionVault/internal/observability"
	"PositionVault/internal/vault"
)

// CommandProcessor applies a typed command. *core.Processor satisfies it.
type CommandProcessor interface {
	Process(ctx context.Context, evt event.Event) (*core.Outcome, error)
}

// Loop drains raw NATS messages into the processor one at a time.
type Loop struct {
	in      <-chan RawEvent
	proc    CommandProcessor
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewLoop(in <-chan RawEvent, proc CommandProcessor, metrics *observability.Metrics, logger zerolog.Logger) *Loop {
	return &Loop{
		in:      in,
		proc:    proc,
		metrics: metrics,
		logger:  logger,
	}
}

// Run returns when ctx is cancelled or the input channel closes.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-l.in:
			if !ok {
				return nil
			}
			l.handle(ctx, raw)
		}
	}
}

// handle settles a message exactly once. Only a command interrupted by
// cancellation is nak'd; every other outcome is final for the same input.
func (l *Loop) handle(ctx context.Context, raw RawEvent) {
	evt, err := ParseRawEvent(raw, raw.EventType)
	if err != nil {
		l.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
		settle(raw.AckFunc)
		return
	}

	outcome, err := l.proc.Process(ctx, evt)
	if err != nil {
		cat := vault.CategoryOf(err)
		l.logger.Info().Err(err).
			Str("subject", raw.Subject).
			Str("event_type", raw.EventType).
			Str("category", cat.String()).
			Msg("command rejected")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			settle(raw.NakFunc)
			return
		}
		settle(raw.AckFunc)
		return
	}

	if l.metrics != nil && !outcome.Duplicate && !raw.Timestamp.IsZero() {
		l.metrics.IngestToApply.WithLabelValues(raw.EventType).Observe(time.Since(raw.Timestamp).Seconds())
	}
	settle(raw.AckFunc)
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}
