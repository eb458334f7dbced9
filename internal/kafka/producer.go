package kafka

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer buffers messages in an inbox channel and writes them from a single
// goroutine so request handlers never block on the broker.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		// Writes use a fresh context so queued messages still flush after the
		// request context is gone.
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				log.Printf("kafka write: %v", err)
			}
		}
		_ = p.w.Close()
		close(p.closeCh)
	}()
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	p.inbox <- kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Close stops accepting messages; the writer goroutine flushes what is left.
func (p *Producer) Close() { close(p.inbox) }

// WaitClosed blocks until the flush is done.
func (p *Producer) WaitClosed() { <-p.closeCh }
