package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Topics used by the drip pipeline.
const (
	TopicSweep     = "drip.sweep"
	TopicEscalated = "conversation.escalated"
	TopicReply     = "conversation.reply"
)

var (
	ErrNoSubscribers = errors.New("no subscribers for topic")
	ErrClosed        = errors.New("queue is closed")
)

// Handler processes one JSON job body. A non-nil error asks for a retry.
type Handler func(ctx context.Context, body []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(topic string, handler Handler) error
	Close() error
}

// InMemoryQueue delivers jobs to in-process subscribers with retry and
// linear backoff.
type InMemoryQueue struct {
	MaxRetries int
	Backoff    time.Duration
	Log        logrus.FieldLogger

	mu       sync.Mutex
	handlers map[string][]Handler
	closed   bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log logrus.FieldLogger) *InMemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryQueue{
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		Log:        log,
		handlers:   make(map[string][]Handler),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(_ context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s job: %w", topic, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	handlers := q.handlers[topic]
	if len(handlers) == 0 {
		return fmt.Errorf("%w %s", ErrNoSubscribers, topic)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(topic, handler, body)
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(topic string, handler Handler, body []byte) {
	defer q.wg.Done()
	log := q.Log.WithField("topic", topic)

	for attempt := 1; ; attempt++ {
		err := handler(q.ctx, body)
		if err == nil {
			log.WithField("attempt", attempt).Debug("✅ Job processed")
			return
		}

		if attempt > q.MaxRetries {
			log.WithError(err).Errorf("❌ Job permanently failed after %d attempts", attempt)
			return
		}
		log.WithError(err).Warnf("⚠️ Job failed (attempt %d/%d)", attempt, q.MaxRetries+1)

		select {
		case <-q.ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * q.Backoff):
		}
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Close stops retries and waits for running handlers to return.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)
