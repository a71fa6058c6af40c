package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"adscraper/internal/domain"
)

// ErrNotVideo is returned for records that carry no YouTube video id.
var ErrNotVideo = errors.New("record has no youtube video")

// ErrNacked is returned when the broker refuses a published message.
var ErrNacked = errors.New("message nacked by broker")

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
	now        func() time.Time
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

// VideoAdMessage hands a video creative to the video enrichment consumer.
type VideoAdMessage struct {
	AdID         string    `json:"ad_id"`
	AdvertiserID string    `json:"advertiser_id"`
	YoutubeAdID  string    `json:"youtube_ad_id"`
	ObservedAt   time.Time `json:"observed_at"`
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// declare sets up a durable direct exchange with one durable queue bound to
// the video routing key.
func declare(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// Publish sends a video creative and waits for the broker to confirm it.
func (r *RabbitMQ) Publish(ctx context.Context, rec *domain.AdRecord) error {
	if rec.YoutubeAdID == nil || *rec.YoutubeAdID == "" {
		return fmt.Errorf("publish %s: %w", rec.AdID, ErrNotVideo)
	}

	msg := VideoAdMessage{
		AdID:         rec.AdID,
		AdvertiserID: rec.AdvertiserID,
		YoutubeAdID:  *rec.YoutubeAdID,
		ObservedAt:   r.now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	confirm, err := r.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    rec.AdID,
			Body:         body,
			Timestamp:    msg.ObservedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("publish %s: %w", rec.AdID, ErrNacked)
	}

	r.logger.Debug("published video ad",
		"ad_id", rec.AdID,
		"youtube_ad_id", msg.YoutubeAdID,
	)

	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
