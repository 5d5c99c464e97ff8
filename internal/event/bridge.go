package event

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/taskbid/taskbid-backend/shared/rabbitmq"
)

// AMQPBridge republishes domain events onto RabbitMQ for out-of-process
// consumers (notification delivery, analytics). Publish failures are logged
// and dropped; the bridge never feeds back into the primary path.
type AMQPBridge struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewAMQPBridge wraps an established RabbitMQ client as a bus subscriber.
func NewAMQPBridge(client *rabbitmq.Client, logger *slog.Logger) *AMQPBridge {
	return &AMQPBridge{client: client, logger: logger}
}

type wireEvent struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

func (b *AMQPBridge) HandleJobModified(ctx context.Context, e JobModified) {
	b.forward(ctx, "job.modified", e)
}

func (b *AMQPBridge) HandleJobExpired(ctx context.Context, e JobExpired) {
	b.forward(ctx, "job.expired", e)
}

func (b *AMQPBridge) forward(ctx context.Context, name string, payload any) {
	body, err := json.Marshal(wireEvent{Event: name, Payload: payload})
	if err != nil {
		b.logger.Error("Failed to marshal event for AMQP",
			slog.String("event", name),
			slog.Any("error", err),
		)
		return
	}

	if err := b.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		b.logger.Error("Failed to forward event to RabbitMQ",
			slog.String("event", name),
			slog.Any("error", err),
		)
	}
}
