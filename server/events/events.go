// Package events implements the change-event sink: fire-and-forget
// publication of change events with at-least-once semantics. A publish
// failure is logged and never fails the operation that produced the
// event.
package events

import (
	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/commit"
	"github.com/gear6io/icecatalog/server/config"
	"github.com/rs/zerolog"
)

var ErrSinkConfig = errors.MustNewCode("events.sink_config")

// Sink is an EventPublisher with a shutdown hook for backends that hold
// connections (kafka).
type Sink interface {
	commit.EventPublisher
	Close() error
}

// NewSink selects the event-sink backend from configuration. The
// variant list is closed; `nats` is a recognized name with no backend
// in this build, so selecting it fails startup loudly instead of being
// silently absorbed into another sink.
func NewSink(cfg config.EventsConfig, logger zerolog.Logger) (Sink, error) {
	switch cfg.Sink {
	case "", "none":
		return &noneSink{}, nil
	case "cloudevents-log":
		return &logSink{log: logger}, nil
	case "kafka":
		return newKafkaSink(cfg, logger)
	case "nats":
		return nil, errors.New(ErrSinkConfig, "nats event sink is recognized but not built into this binary")
	default:
		return nil, errors.Newf(ErrSinkConfig, "unknown event sink %q", cfg.Sink)
	}
}
