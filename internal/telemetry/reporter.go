package telemetry

import (
	"context"

	"codeberg.org/mutker/profilectl/internal/errors"
	"codeberg.org/mutker/profilectl/internal/logger"
)

// DefaultEvery is the emission period in ticks.
const DefaultEvery = 10

// Publisher receives status records.
type Publisher interface {
	Publish(ctx context.Context, s Status) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, s Status) error

func (f PublisherFunc) Publish(ctx context.Context, s Status) error {
	return f(ctx, s)
}

// Reporter emits a status every few ticks and on every transition. Sinks
// see only emitted records; observers see every tick.
type Reporter struct {
	every     uint64
	log       logger.Logger
	sinks     []Publisher
	observers []Publisher
	last      *Status
	emitted   uint64
}

// NewReporter emits every n ticks.
func NewReporter(every int, log logger.Logger) (*Reporter, error) {
	if every < 1 {
		return nil, errors.New().WithData(ErrInvalidConfig, struct{ LogEvery int }{every})
	}

	return &Reporter{every: uint64(every), log: log}, nil
}

// AddSink registers a publisher for emitted records.
func (r *Reporter) AddSink(p Publisher) {
	r.sinks = append(r.sinks, p)
}

// AddObserver registers a publisher for every tick.
func (r *Reporter) AddObserver(p Publisher) {
	r.observers = append(r.observers, p)
}

// Report fills in the changes since the previous tick, notifies observers
// and, when due, the sinks. It reports whether the record was emitted.
// Publisher failures are logged; status output never stops the loop.
func (r *Reporter) Report(ctx context.Context, s Status) bool {
	due := r.last == nil || s.Tick%r.every == 0
	if r.last != nil {
		s.Changes = changes(*r.last, s)
	}
	r.last = &s

	r.publish(ctx, r.observers, s)

	if !due && len(s.Changes) == 0 {
		return false
	}

	r.publish(ctx, r.sinks, s)
	r.emitted++

	return true
}

// Emitted counts emitted records.
func (r *Reporter) Emitted() uint64 {
	return r.emitted
}

// Last returns the most recent status, if any.
func (r *Reporter) Last() (Status, bool) {
	if r.last == nil {
		return Status{}, false
	}
	return *r.last, true
}

func (r *Reporter) publish(ctx context.Context, to []Publisher, s Status) {
	for _, p := range to {
		if err := p.Publish(ctx, s); err != nil {
			r.log.Warn().Err(errors.New().Wrap(ErrPublish, err)).Uint64("tick", s.Tick).Msg("Status publish failed")
		}
	}
}
