package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer is fire-and-forget: Publish never blocks the caller. Messages go
// into a buffered inbox drained by one goroutine; when the inbox is full
// the message is dropped and logged.
type Producer struct {
	w       messageWriter
	inbox   chan kafka.Message
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
	log     *zap.Logger
}

// NewProducer writes to whatever topic each message names, so one producer
// serves every event topic.
func NewProducer(brokers []string, buf int, log *zap.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}, buf, log)
}

func newProducer(w messageWriter, buf int, log *zap.Logger) *Producer {
	if buf <= 0 {
		buf = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{
		w:     w,
		inbox: make(chan kafka.Message, buf),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log,
	}
}

func (p *Producer) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(p.done)
		for {
			select {
			case m := <-p.inbox:
				p.write(m)
			case <-p.quit:
				p.drain()
				return
			case <-ctx.Done():
				p.drain()
				return
			}
		}
	}()
}

// drain nge-flush sisa pesan di inbox lalu tutup writer.
func (p *Producer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			if err := p.w.Close(); err != nil {
				p.log.Warn("kafka writer close", zap.Error(err))
			}
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.Warn("kafka publish failed",
			zap.String("topic", m.Topic), zap.ByteString("key", m.Key), zap.Error(err))
	}
}

// Publish reports whether the message was queued.
func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) bool {
	select {
	case <-p.quit:
		return false
	default:
	}
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
		return true
	default:
		p.log.Warn("producer inbox full, dropping message", zap.String("topic", topic), zap.ByteString("key", key))
		return false
	}
}

// Close stops accepting messages, flushes the inbox and waits for the writer
// to close. Safe to call more than once.
func (p *Producer) Close() {
	p.once.Do(func() { close(p.quit) })
	if p.started.Load() {
		<-p.done
	}
}
