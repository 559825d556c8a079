package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"news-bundler/internal/infra/metrics"
)

// invalidationEvent — сообщение о внешней инвалидации кэша бандла.
type invalidationEvent struct {
	BundleID      string    `json:"bundle_id"`
	InvalidatedAt time.Time `json:"invalidated_at,omitempty"`
}

// RabbitInvalidations принимает события инвалидации кэша через RabbitMQ.
// Фоновые задачи публикуют {bundle_id}, воркер помечает кэш устаревшим.
type RabbitInvalidations struct {
	conn  *amqp.Connection
	queue string
}

// NewRabbitInvalidations подключается к RabbitMQ и объявляет очередь.
func NewRabbitInvalidations(amqpURL, queue string) (*RabbitInvalidations, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitInvalidations{conn: conn, queue: queue}, nil
}

// Publish отправляет событие инвалидации.
func (r *RabbitInvalidations) Publish(ctx context.Context, bundleID string) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	payload, err := json.Marshal(invalidationEvent{BundleID: bundleID, InvalidatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	start := time.Now()
	err = ch.PublishWithContext(ctx, "", r.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", r.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Consume читает события до отмены контекста. Сообщение подтверждается
// только после успешной обработки; при ошибке возвращается в очередь.
func (r *RabbitInvalidations) Consume(ctx context.Context, fn func(bundleID string) error) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(r.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp: канал доставки закрыт")
			}
			var event invalidationEvent
			if err := json.Unmarshal(d.Body, &event); err != nil || event.BundleID == "" {
				_ = d.Nack(false, false)
				continue
			}
			if err := fn(event.BundleID); err != nil {
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Close закрывает подключение.
func (r *RabbitInvalidations) Close() error {
	return r.conn.Close()
}
