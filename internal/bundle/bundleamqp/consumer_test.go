package bundleamqp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/k11v/airgap/internal/bundle"
)

const (
	ackAck     = "Ack"
	ackNack    = "Nack"
	ackRequeue = "Requeue"
)

var _ amqp091.Acknowledger = (*SpyAcknowledger)(nil)

// SpyAcknowledger records how a delivery was settled.
type SpyAcknowledger struct {
	Calls []string
}

func (a *SpyAcknowledger) Ack(tag uint64, multiple bool) error {
	a.Calls = append(a.Calls, ackAck)
	return nil
}

func (a *SpyAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	if requeue {
		a.Calls = append(a.Calls, ackRequeue)
	} else {
		a.Calls = append(a.Calls, ackNack)
	}
	return nil
}

func (a *SpyAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func newTestDelivery(t *testing.T, acknowledger amqp091.Acknowledger) amqp091.Delivery {
	t.Helper()
	body := `{"id":"aaaaaaaa-0000-0000-0000-000000000000","target":"docker","spec":{"target":"docker","images":[{"name":"redis"}]}}`
	return amqp091.Delivery{
		Acknowledger: acknowledger,
		MessageId:    "aaaaaaaa-0000-0000-0000-000000000000",
		Body:         []byte(body),
	}
}

func newTestConsumer(handler Handler) *Consumer {
	c := NewConsumer(nil, bundle.TargetDocker, handler, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.retryDelay = 10 * time.Millisecond
	return c
}

func TestConsumerHandle(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"acks a handled task", nil, ackAck},
		{"rejects a failed task", errors.New("pull failed"), ackNack},
		{"requeues a deferred task", fmt.Errorf("handle: %w: %w", bundle.ErrRetry, bundle.ErrLocked), ackRequeue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acknowledger := &SpyAcknowledger{}
			c := newTestConsumer(HandlerFunc(func(context.Context, *bundle.Task) error {
				return tt.err
			}))

			c.handle(context.Background(), newTestDelivery(t, acknowledger))

			if len(acknowledger.Calls) != 1 || acknowledger.Calls[0] != tt.want {
				t.Fatalf("got %v, want [%s]", acknowledger.Calls, tt.want)
			}
		})
	}

	t.Run("rejects an undecodable body", func(t *testing.T) {
		acknowledger := &SpyAcknowledger{}
		c := newTestConsumer(HandlerFunc(func(context.Context, *bundle.Task) error {
			t.Fatalf("didn't want handler call")
			return nil
		}))

		c.handle(context.Background(), amqp091.Delivery{Acknowledger: acknowledger, Body: []byte(`{`)})

		if len(acknowledger.Calls) != 1 || acknowledger.Calls[0] != ackNack {
			t.Fatalf("got %v, want [%s]", acknowledger.Calls, ackNack)
		}
	})

	t.Run("finishes a dispatched task on shutdown", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		acknowledger := &SpyAcknowledger{}
		var handlerCtxErr error
		c := newTestConsumer(HandlerFunc(func(ctx context.Context, task *bundle.Task) error {
			cancel()
			handlerCtxErr = ctx.Err()
			return nil
		}))

		c.handle(ctx, newTestDelivery(t, acknowledger))

		if handlerCtxErr != nil {
			t.Fatalf("got handler context error %q, want none", handlerCtxErr)
		}
		if len(acknowledger.Calls) != 1 || acknowledger.Calls[0] != ackAck {
			t.Fatalf("got %v, want [%s]", acknowledger.Calls, ackAck)
		}
	})

	t.Run("requeues a deferred task right away on shutdown", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		acknowledger := &SpyAcknowledger{}
		c := newTestConsumer(HandlerFunc(func(context.Context, *bundle.Task) error {
			return bundle.ErrRetry
		}))
		c.retryDelay = time.Hour

		c.handle(ctx, newTestDelivery(t, acknowledger))

		if len(acknowledger.Calls) != 1 || acknowledger.Calls[0] != ackRequeue {
			t.Fatalf("got %v, want [%s]", acknowledger.Calls, ackRequeue)
		}
	})
}
