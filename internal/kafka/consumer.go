package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	workers int
	topic   string
	log     *zap.Logger

	// Attempts is how many times a failing message is handled before it is
	// given up on; Backoff is the pause between tries.
	Attempts int
	Backoff  time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, topic, workers, log)
}

func newConsumer(r messageReader, topic string, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, topic: topic, log: log, Attempts: 3, Backoff: 200 * time.Millisecond}
}

// Start blocks until ctx is cancelled or the reader fails. A failing message
// is retried in place up to Attempts times and then left uncommitted. Commits
// are not ordered across workers, so a later offset of the same partition
// commits past it: it comes back only if the group rebalances or restarts
// before that happens. Handlers must tolerate both the redelivery and the loss.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, 1024)
	var wg sync.WaitGroup

	// workers
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for m := range jobs {
				if err := c.handle(ctx, h, m); err != nil {
					c.log.Error("message given up",
						zap.Int("worker", id), zap.String("topic", m.Topic), zap.Int("partition", m.Partition),
						zap.Int64("offset", m.Offset), zap.Error(err))
					continue
				}
				// commit on success
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					c.log.Warn("commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
				}
			}
		}(i)
	}

	stop := func(err error) error {
		close(jobs)
		wg.Wait()
		return err
	}

	// dispatcher loop
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			// kecilkan noise saat shutdown
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return stop(nil)
			}
			return stop(err)
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			return stop(nil)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) error {
	var err error
	for i := 0; i < c.Attempts; i++ {
		if err = h(ctx, m); err == nil {
			return nil
		}
		c.log.Warn("handler failed",
			zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(c.Backoff): // backoff ringan
		}
	}
	return err
}
