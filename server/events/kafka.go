package events

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/gear6io/icecatalog/pkg/errors"
	"github.com/gear6io/icecatalog/server/commit"
	"github.com/gear6io/icecatalog/server/config"
	"github.com/rs/zerolog"
)

// kafkaSink publishes events through an async sarama producer. Events
// are keyed by entity id so all changes to one tabular land in one
// partition in commit order; delivery errors are drained into the log
// and never propagate.
type kafkaSink struct {
	producer sarama.AsyncProducer
	topic    string
	log      zerolog.Logger
}

func newKafkaSink(cfg config.EventsConfig, logger zerolog.Logger) (*kafkaSink, error) {
	if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "" {
		return nil, errors.New(ErrSinkConfig, "kafka event sink requires brokers and a topic")
	}

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.KafkaBrokers, sc)
	if err != nil {
		return nil, errors.Wrap(ErrSinkConfig, err, "failed to start kafka producer")
	}

	s := &kafkaSink{producer: producer, topic: cfg.KafkaTopic, log: logger}
	go s.drainErrors()
	return s, nil
}

func (s *kafkaSink) drainErrors() {
	for err := range s.producer.Errors() {
		s.log.Warn().Err(err.Err).Msg("event publish failed")
	}
}

func (s *kafkaSink) Publish(_ context.Context, event commit.Event) {
	body, err := json.Marshal(event)
	if err != nil {
		s.log.Warn().Err(err).Str("event_id", event.ID).Msg("event not serializable, dropped")
		return
	}
	s.producer.Input() <- &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(event.EntityID),
		Value: sarama.ByteEncoder(body),
	}
}

func (s *kafkaSink) Close() error {
	return s.producer.Close()
}
