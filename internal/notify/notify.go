package notify

import (
	"context"

	"github.com/dennisdiepolder/leaddesk/internal/metrics"
	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/rs/zerolog"
)

// Sink delivers an event to one destination
type Sink interface {
	Name() string
	Send(ctx context.Context, event types.AssignmentEvent) error
}

// Fanout forwards every event to all sinks. Sink failures are logged and
// counted; they never reach the caller, whose write is already committed.
type Fanout struct {
	sinks  []Sink
	logger zerolog.Logger
}

// NewFanout creates a fan-out over the given sinks; nil sinks are skipped
func NewFanout(logger zerolog.Logger, sinks ...Sink) *Fanout {
	f := &Fanout{logger: logger.With().Str("component", "notify").Logger()}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Publish implements distribution.Notifier
func (f *Fanout) Publish(ctx context.Context, event types.AssignmentEvent) {
	for _, s := range f.sinks {
		err := s.Send(ctx, event)
		metrics.Get().RecordEventPublished(s.Name(), err)
		if err != nil {
			f.logger.Error().
				Err(err).
				Str("sink", s.Name()).
				Str("event", event.Type).
				Str("course_id", event.CourseID).
				Msg("failed to publish assignment event")
		}
	}
}

// Sinks returns the names of the configured sinks
func (f *Fanout) Sinks() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return names
}
