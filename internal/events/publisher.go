package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	applog "bazaar/internal/log"
)

// Publisher delivers one already-encoded event.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// KafkaPublisher keeps one synchronous writer per topic so the relay only
// marks a row sent after the broker acknowledged it.
type KafkaPublisher struct {
	brokers []string
	prefix  string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewKafkaPublisher(brokers []string, topicPrefix string) *KafkaPublisher {
	return &KafkaPublisher{brokers: brokers, prefix: topicPrefix, writers: map[string]*kafka.Writer{}}
}

func (p *KafkaPublisher) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.writers[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:                   kafka.TCP(p.brokers...),
			Topic:                  p.prefix + topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
		p.writers[topic] = w
	}
	return w
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	return p.writer(topic).WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, w := range p.writers {
		errs = append(errs, w.Close())
	}
	p.writers = map[string]*kafka.Writer{}
	return errors.Join(errs...)
}

// LogPublisher writes events to the application log. Used when no brokers
// are configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	applog.Info(nil, "event.publish", map[string]any{"topic": topic, "key": key, "bytes": len(value)})
	return nil
}

func (LogPublisher) Close() error { return nil }
