package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/MagnunAVF/shortlink-service/internal/logger"
)

// Job is the message carried through the delay queue.
type Job struct {
	Key         string    `json:"key"`
	Attempt     int       `json:"attempt"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// Publisher is the part of *amqp091.Channel the scheduler publishes with.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// RabbitMQ delays jobs by publishing them with a per-message TTL to a
// queue nobody consumes. Expired messages are dead-lettered onto the ready
// queue, where Consume picks them up.
//
// RabbitMQ only expires messages at the head of a queue, so a long delay
// holds back shorter ones queued behind it. First attempts all share one
// delay and stay in deadline order; a retry may wait behind them, which only
// postpones it.
type RabbitMQ struct {
	pub        Publisher
	delayQueue string
	readyQueue string
	opts       Options

	mu sync.Mutex
}

func NewRabbitMQ(pub Publisher, delayQueue, readyQueue string, opts Options) *RabbitMQ {
	return &RabbitMQ{
		pub:        pub,
		delayQueue: delayQueue,
		readyQueue: readyQueue,
		opts:       opts.withDefaults(),
	}
}

// DeclareTopology declares the durable ready queue and the delay queue that
// dead-letters into it.
func DeclareTopology(ch *amqp091.Channel, delayQueue, readyQueue string) error {
	if _, err := ch.QueueDeclare(
		readyQueue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("declare queue %q: %w", readyQueue, err)
	}

	if _, err := ch.QueueDeclare(
		delayQueue,
		true, false, false, false,
		amqp091.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": readyQueue,
		},
	); err != nil {
		return fmt.Errorf("declare queue %q: %w", delayQueue, err)
	}
	return nil
}

func (r *RabbitMQ) Schedule(ctx context.Context, key string, delay time.Duration) error {
	return r.publish(ctx, Job{Key: key, Attempt: 1, ScheduledAt: time.Now().UTC()}, delay)
}

func (r *RabbitMQ) publish(ctx context.Context, job Job, delay time.Duration) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if delay < 0 {
		delay = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.pub.PublishWithContext(ctx,
		"", r.delayQueue, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
			Timestamp:    job.ScheduledAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish job %q: %w", job.Key, err)
	}
	return nil
}

// Consume runs handler for every job arriving on the ready queue until ctx
// is cancelled or the delivery channel closes.
func (r *RabbitMQ) Consume(ctx context.Context, ch *amqp091.Channel, prefetch int, handler Handler) error {
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(
		r.readyQueue, "", false, false, false, false, nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			r.HandleDelivery(ctx, d, handler)
		}
	}
}

// HandleDelivery runs one job. Failed jobs are re-published to the delay
// queue with RetryDelay and the original is acked; if re-publishing fails
// the original is requeued instead.
func (r *RabbitMQ) HandleDelivery(ctx context.Context, d amqp091.Delivery, handler Handler) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil || job.Key == "" {
		logger.FromContext(ctx).Error("malformed job, rejecting", "err", err)
		_ = d.Reject(false)
		return
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	log := logger.FromContext(ctx).With("key", job.Key, "attempt", job.Attempt)

	runCtx, cancel := context.WithTimeout(ctx, r.opts.HandlerTimeout)
	err := handler(runCtx, job.Key)
	cancel()

	if err == nil {
		_ = d.Ack(false)
		return
	}

	if r.opts.exhausted(job.Attempt) {
		log.Error("scheduled job failed, giving up", "err", err)
		_ = d.Ack(false)
		return
	}

	log.Warn("scheduled job failed, retrying", "err", err, "retry_in", r.opts.RetryDelay.String())
	retry := Job{Key: job.Key, Attempt: job.Attempt + 1, ScheduledAt: time.Now().UTC()}
	if perr := r.publish(ctx, retry, r.opts.RetryDelay); perr != nil {
		log.Error("could not re-publish job, requeueing", "err", perr)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}
