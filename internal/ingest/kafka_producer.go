package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ehailing/internal/models"
)

// Locations written by the API carry this header so the location consumer
// does not apply them a second time.
const (
	OriginHeader = "origin"
	OriginAPI    = "api"
)

// KafkaProducer publishes driver locations and ride events. Either writer
// may be nil when its topic is not configured.
type KafkaProducer struct {
	locations *kafka.Writer
	rides     *kafka.Writer
}

func NewKafkaProducer(brokers []string, locationTopic, rideTopic string) *KafkaProducer {
	p := &KafkaProducer{}
	if locationTopic != "" {
		p.locations = newWriter(brokers, locationTopic)
	}
	if rideTopic != "" {
		p.rides = newWriter(brokers, rideTopic)
	}
	return p
}

// batchTimeout bounds how long a synchronous write waits for its batch to fill.
const batchTimeout = 10 * time.Millisecond

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: batchTimeout,
	}
}

// PublishLocation keys by driver so one driver's positions stay ordered.
func (k *KafkaProducer) PublishLocation(ctx context.Context, p models.Presence) error {
	if k.locations == nil {
		return nil
	}
	return write(ctx, k.locations, p.UID, p, kafka.Header{Key: OriginHeader, Value: []byte(OriginAPI)})
}

// PublishRideEvent keys by ride id.
func (k *KafkaProducer) PublishRideEvent(ctx context.Context, ev models.RideEvent) error {
	if k.rides == nil {
		return nil
	}
	return write(ctx, k.rides, ev.Ride.ID, ev)
}

func write(ctx context.Context, w *kafka.Writer, key string, v interface{}, headers ...kafka.Header) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b, Headers: headers})
}

func (k *KafkaProducer) Close() error {
	var err error
	for _, w := range []*kafka.Writer{k.locations, k.rides} {
		if w == nil {
			continue
		}
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
