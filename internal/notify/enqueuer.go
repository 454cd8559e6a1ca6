package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/equiplease/quote-api/internal/events"
)

// TaskWebhookDelivery is the asynq task type for webhook deliveries.
const TaskWebhookDelivery = "notify:webhook"

// QueueWebhooks is the asynq queue webhook tasks land on.
const QueueWebhooks = "webhooks"

// Enqueuer turns domain events into queued webhook delivery tasks. It
// implements events.Notifier; a nil asynq client disables delivery so the
// service runs without a worker in development.
type Enqueuer struct {
	Client    *asynq.Client
	Topics    map[string]bool
	MaxRetry  int
	RetainFor time.Duration
	Logger    zerolog.Logger
}

// NewEnqueuer subscribes the given topics; an empty list subscribes all
// canonical topics.
func NewEnqueuer(client *asynq.Client, topics []string, logger zerolog.Logger) *Enqueuer {
	if len(topics) == 0 {
		topics = events.DefaultTopics()
	}
	subscribed := make(map[string]bool, len(topics))
	for _, t := range topics {
		subscribed[t] = true
	}
	return &Enqueuer{Client: client, Topics: subscribed, MaxRetry: 6, RetainFor: 24 * time.Hour, Logger: logger}
}

// Notify implements events.Notifier.
func (e *Enqueuer) Notify(ctx context.Context, ev events.Event) error {
	if e == nil || e.Client == nil {
		return nil
	}
	if len(e.Topics) > 0 && !e.Topics[ev.Topic] {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	task := asynq.NewTask(TaskWebhookDelivery, payload)
	info, err := e.Client.EnqueueContext(ctx, task,
		asynq.Queue(QueueWebhooks),
		asynq.MaxRetry(e.MaxRetry),
		asynq.Retention(e.RetainFor),
	)
	if err != nil {
		return fmt.Errorf("notify: enqueue webhook task: %w", err)
	}
	e.Logger.Debug().
		Str("task_id", info.ID).
		Str("topic", ev.Topic).
		Msg("webhook delivery enqueued")
	return nil
}

// WebhookTaskHandler adapts a Deliverer to the asynq handler contract.
func WebhookTaskHandler(d Deliverer) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var ev events.Event
		if err := json.Unmarshal(task.Payload(), &ev); err != nil {
			// Malformed payloads can never succeed; skip retries.
			return fmt.Errorf("notify: decode task payload: %v: %w", err, asynq.SkipRetry)
		}
		return d.Deliver(ctx, ev)
	}
}
