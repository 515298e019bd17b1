package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

const retryHeader = "x-retry-count"

// AMQPQueue is a Queue on RabbitMQ. Every topic is a durable queue on the
// default exchange. Failed jobs are republished with an incremented retry
// header until MaxRetries, then dropped.
type AMQPQueue struct {
	MaxRetries int
	Log        logrus.FieldLogger

	conn   *amqp.Connection
	mu     sync.Mutex
	pubCh  *amqp.Channel
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// DialAMQP connects to RabbitMQ and opens the publishing channel.
func DialAMQP(url string, log logrus.FieldLogger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &AMQPQueue{
		MaxRetries: 3,
		Log:        log,
		conn:       conn,
		pubCh:      ch,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func declare(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return err
}

func (q *AMQPQueue) Publish(_ context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s job: %w", topic, err)
	}
	return q.publish(topic, body, 0)
}

func (q *AMQPQueue) publish(topic string, body []byte, retry int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := declare(q.pubCh, topic); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}
	return q.pubCh.Publish(
		"",
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      amqp.Table{retryHeader: int32(retry)},
			Body:         body,
		},
	)
}

// Subscribe starts a consumer on its own channel. Deliveries are acked
// manually, one in flight at a time.
func (q *AMQPQueue) Subscribe(topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := declare(ch, topic); err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return err
	}

	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		log := q.Log.WithField("topic", topic)
		for d := range msgs {
			q.handleDelivery(log, topic, d, handler)
		}
		log.Debug("consumer stopped")
	}()
	return nil
}

func (q *AMQPQueue) handleDelivery(log logrus.FieldLogger, topic string, d amqp.Delivery, handler Handler) {
	err := handler(q.ctx, d.Body)
	if err == nil {
		d.Ack(false)
		return
	}

	retry := retryCount(d.Headers)
	if retry >= q.MaxRetries {
		log.WithError(err).Errorf("❌ Job permanently failed after %d retries", retry)
		d.Ack(false)
		return
	}

	log.WithError(err).Warnf("⚠️ Job failed, requeueing (retry %d/%d)", retry+1, q.MaxRetries)
	if perr := q.publish(topic, d.Body, retry+1); perr != nil {
		// Let the broker redeliver the original instead of losing it.
		log.WithError(perr).Error("failed to republish job")
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

// retryCount reads the retry header whatever integer type the broker decoded.
func retryCount(headers amqp.Table) int {
	switch v := headers[retryHeader].(type) {
	case int:
		return v
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

// Close shuts the connection down, which ends every consumer loop.
func (q *AMQPQueue) Close() error {
	q.cancel()
	err := q.conn.Close()
	q.wg.Wait()
	return err
}

var _ Queue = (*AMQPQueue)(nil)
