package bundleamqp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/k11v/airgap/internal/amqputil"
	"github.com/k11v/airgap/internal/bundle"
)

// DefaultRetryDelay is how long a consumer holds a task that asked to be retried before requeueing it.
const DefaultRetryDelay = 5 * time.Second

// Handler processes one task.
// An error wrapping bundle.ErrRetry requeues the delivery after a delay.
// Any other error rejects the delivery to the dead-letter queue.
type Handler interface {
	Handle(ctx context.Context, task *bundle.Task) error
}

type HandlerFunc func(ctx context.Context, task *bundle.Task) error

func (f HandlerFunc) Handle(ctx context.Context, task *bundle.Task) error {
	return f(ctx, task)
}

// Consumer delivers the tasks of one target to a handler one at a time.
type Consumer struct {
	client  *amqputil.Client // required
	target  bundle.Target    // required
	handler Handler          // required
	log     *slog.Logger

	retryDelay time.Duration
}

func NewConsumer(client *amqputil.Client, target bundle.Target, handler Handler, log *slog.Logger) *Consumer {
	return &Consumer{
		client:  client,
		target:  target,
		handler: handler,
		log:     log.With("component", "consumer", "queue", QueueName(target)),

		retryDelay: DefaultRetryDelay,
	}
}

// Run consumes until ctx is done, reconnecting with backoff when the channel breaks.
// A task in progress when ctx is done runs to completion before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	retries := 0
	for {
		consumeErr := c.consume(ctx, func() {
			if retries > 0 {
				c.log.Info("recovered", "retries", retries)
				retries = 0
			}
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Error("didn't consume", "error", consumeErr)

		wait := amqputil.RetryWaitDuration(retries)
		retries++
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		c.log.Info("retrying", "retries", retries)
	}
}

func (c *Consumer) consume(ctx context.Context, onConsuming func()) error {
	ch, err := c.client.Channel()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := ch.Close(); closeErr != nil && !errors.Is(closeErr, amqp091.ErrClosed) {
			c.log.Error("didn't close channel", "error", closeErr)
		}
	}()

	q, err := amqputil.DeclareWithDeadLetter(ch, QueueName(c.target))
	if err != nil {
		return err
	}
	if err = ch.Qos(1, 0, false); err != nil {
		return err
	}
	messages, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.log.Info("starting consuming")
	onConsuming()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-messages:
			if !ok {
				return errors.New("delivery channel is closed")
			}
			if ctx.Err() != nil {
				c.requeue(c.log.With("message_id", m.MessageId), m)
				return ctx.Err()
			}
			c.handle(ctx, m)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m amqp091.Delivery) {
	log := c.log.With("message_id", m.MessageId)

	task, err := decodeTask(m.Body)
	if err != nil {
		log.Error("rejected message", "error", err)
		if nackErr := m.Nack(false, false); nackErr != nil {
			log.Error("didn't nack", "error", nackErr)
		}
		return
	}

	// A dispatched task isn't cancelled by shutdown.
	err = c.handler.Handle(context.WithoutCancel(ctx), task)
	if errors.Is(err, bundle.ErrRetry) {
		log.Warn("deferred task", "job_id", task.ID, "error", err)
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
		}
		c.requeue(log, m)
		return
	} else if err != nil {
		log.Error("rejected task", "job_id", task.ID, "error", err)
		if nackErr := m.Nack(false, false); nackErr != nil {
			log.Error("didn't nack", "error", nackErr)
		}
		return
	}

	if ackErr := m.Ack(false); ackErr != nil {
		log.Error("didn't ack", "error", ackErr)
	}
}

func (c *Consumer) requeue(log *slog.Logger, m amqp091.Delivery) {
	if nackErr := m.Nack(false, true); nackErr != nil {
		log.Error("didn't requeue", "error", nackErr)
	}
}

func decodeTask(body []byte) (*bundle.Task, error) {
	var task bundle.Task
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&task); err != nil {
		return nil, fmt.Errorf("invalid body: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid body: %w", errors.New("multiple top-level values"))
	}
	if task.ID == uuid.Nil {
		return nil, fmt.Errorf("missing %s body field", "id")
	}
	if task.Spec == nil {
		return nil, fmt.Errorf("missing %s body field", "spec")
	}
	return &task, nil
}
