package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
)

// Header names set on every session event.
const (
	HeaderEventType = "event_type"
	HeaderProvider  = "provider_id"
)

const flushTimeoutMs = 5000

// ConfluentProducer publishes session lifecycle events with confluent-kafka-go.
type ConfluentProducer struct {
	producer *kafka.Producer
	topic    string
	done     chan struct{}
}

// NewConfluentProducer connects to brokers and makes sure topic exists.
func NewConfluentProducer(brokers, topic string, partitions int) (*ConfluentProducer, error) {
	l := pkglog.Component("kafka")

	if err := createTopic(brokers, topic, partitions); err != nil {
		l.Warn().Err(err).Str("topic", topic).Msg("could not create session event topic")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"client.id":          "session-service",
		"acks":               "all",
		"enable.idempotence": true,
		"linger.ms":          5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	cp := &ConfluentProducer{producer: p, topic: topic, done: make(chan struct{})}
	go cp.watchDeliveries()
	return cp, nil
}

func createTopic(brokers, topic string, partitions int) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{"bootstrap.servers": brokers})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return err
	}
	for _, r := range results {
		switch r.Error.Code() {
		case kafka.ErrNoError, kafka.ErrTopicAlreadyExists:
		default:
			return fmt.Errorf("topic %s: %v", r.Topic, r.Error)
		}
	}
	return nil
}

func (cp *ConfluentProducer) watchDeliveries() {
	defer close(cp.done)
	l := pkglog.Component("kafka")
	for e := range cp.producer.Events() {
		m, ok := e.(*kafka.Message)
		if !ok || m.TopicPartition.Error == nil {
			continue
		}
		l.Error().Err(m.TopicPartition.Error).
			Str(pkglog.FieldSessionID, string(m.Key)).
			Msg("session event not delivered")
	}
}

// sessionMessage builds the record for event. Records are keyed by session
// id so one session's events keep their order on a single partition.
func sessionMessage(topic string, event *SessionEvent) (*kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session event: %w", err)
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.SessionID),
		Value:          value,
		Timestamp:      time.Unix(event.Timestamp, 0),
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(event.Type)},
			{Key: HeaderProvider, Value: []byte(event.ProviderID)},
		},
	}, nil
}

// ProduceSessionEvent enqueues event; delivery failures are logged.
func (cp *ConfluentProducer) ProduceSessionEvent(ctx context.Context, event *SessionEvent) error {
	msg, err := sessionMessage(cp.topic, event)
	if err != nil {
		return err
	}
	if err := cp.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce %s: %w", event.Type, err)
	}
	return nil
}

// Close flushes queued events and waits for the delivery watcher.
func (cp *ConfluentProducer) Close() error {
	if left := cp.producer.Flush(flushTimeoutMs); left > 0 {
		l := pkglog.Component("kafka")
		l.Warn().Int("pending", left).Msg("closing with undelivered session events")
	}
	cp.producer.Close()
	<-cp.done
	return nil
}
