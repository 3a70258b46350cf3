// Package bundleamqp carries bundle tasks over RabbitMQ, one durable queue per target.
package bundleamqp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/k11v/airgap/internal/amqputil"
	"github.com/k11v/airgap/internal/bundle"
)

// QueueName returns the queue tasks of target are published to.
func QueueName(target bundle.Target) string {
	return "bundles." + string(target)
}

var _ bundle.Broker = (*Broker)(nil)

type Broker struct {
	client *amqputil.Client // required
}

func NewBroker(client *amqputil.Client) *Broker {
	return &Broker{client: client}
}

// Enqueue publishes task as a persistent message and waits for the broker to confirm it.
func (b *Broker) Enqueue(ctx context.Context, task *bundle.Task) error {
	ch, err := b.client.Channel()
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	defer ch.Close()

	q, err := amqputil.DeclareWithDeadLetter(ch, QueueName(task.Target))
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	if err = ch.Confirm(false); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	body := &bytes.Buffer{}
	if err = json.NewEncoder(body).Encode(task); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    task.ID.String(),
		Timestamp:    time.Now().UTC(),
		Body:         body.Bytes(),
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		"",     // exchange
		q.Name, // routing key
		false,  // mandatory
		false,  // immediate
		msg,    // message
	)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	if !acked {
		return fmt.Errorf("enqueue: %w", errors.New("broker didn't confirm message"))
	}

	return nil
}
