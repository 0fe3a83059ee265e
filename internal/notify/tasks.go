package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/restoku/backend-resto/internal/events"
)

// TypeOrderNotification is the asynq task type for staff notifications.
const TypeOrderNotification = "notify:order"

// QueueName is the asynq queue notifications are routed to.
const QueueName = "notify"

type orderNotificationPayload struct {
	EventID     string          `json:"event_id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Enqueuer schedules notification deliveries on asynq. The task id is the
// event id, so re-emitting an event never produces a second delivery.
type Enqueuer struct {
	Client    *asynq.Client
	MaxRetry  int
	Retention time.Duration
}

// Schedule implements events.DeliveryScheduler.
func (e Enqueuer) Schedule(ctx context.Context, event events.Event) error {
	if e.Client == nil {
		return nil
	}
	body, err := json.Marshal(orderNotificationPayload{
		EventID:     event.ID.String(),
		Topic:       event.Topic,
		AggregateID: event.AggregateID.String(),
		Payload:     event.Payload,
		OccurredAt:  event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("notify: encode task: %w", err)
	}
	maxRetry := e.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 6
	}
	retention := e.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	task := asynq.NewTask(TypeOrderNotification, body)
	_, err = e.Client.EnqueueContext(ctx, task,
		asynq.Queue(QueueName),
		asynq.TaskID(event.ID.String()),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(retention),
	)
	if err == asynq.ErrTaskIDConflict {
		return nil
	}
	return err
}

// NewWorkerHandler returns the asynq handler that delivers notifications.
func NewWorkerHandler(t *Telegram) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload orderNotificationPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("notify: decode task: %w", err)
		}
		return t.SendEvent(ctx, payload.Topic, payload.Payload)
	}
}
