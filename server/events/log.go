package events

import (
	"context"
	"encoding/json"

	"github.com/gear6io/icecatalog/server/commit"
	"github.com/rs/zerolog"
)

// logSink emits each event as one structured log line in a loose
// CloudEvents shape. Useful in development and as the audit trail of
// last resort when no broker is configured.
type logSink struct {
	log zerolog.Logger
}

func (s *logSink) Publish(_ context.Context, event commit.Event) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		payload = []byte(`"unserializable"`)
	}
	s.log.Info().
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Str("entity_type", event.EntityType).
		Str("entity_id", event.EntityID).
		Str("warehouse_id", event.WarehouseID).
		Str("project_id", event.ProjectID).
		Str("actor", event.ActorID).
		Str("correlation_id", event.CorrelationID).
		Int64("timestamp_ms", event.TimestampMs).
		RawJSON("payload", payload).
		Msg("catalog change event")
}

func (s *logSink) Close() error { return nil }

// noneSink drops every event.
type noneSink struct{}

func (s *noneSink) Publish(context.Context, commit.Event) {}
func (s *noneSink) Close() error                          { return nil }
