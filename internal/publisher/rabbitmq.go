package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"boxtracker/internal/domain"
)

// RabbitMQ publishes sale and cycle events to a durable direct exchange.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
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

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		cfg.RoutingKey,
		cfg.Exchange,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	logger = logger.With("component", "publisher")
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
	}, nil
}

const (
	EventSaleCreated    = "sale.created"
	EventCycleCompleted = "cycle.completed"
)

// Message is the envelope of every event. Exactly one of Sale and Cycle is set.
type Message struct {
	Event     string        `json:"event"`
	Sale      *domain.Sale  `json:"sale,omitempty"`
	Cycle     *CycleSummary `json:"cycle,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type CycleSummary struct {
	CycleID         string                 `json:"cycle_id"`
	StartedAt       time.Time              `json:"started_at"`
	TotalFetched    int                    `json:"total_fetched"`
	BoxSales        int                    `json:"box_sales"`
	Filtered        int                    `json:"filtered"`
	Stale           int                    `json:"stale"`
	New             int                    `json:"new"`
	Duplicates      int                    `json:"duplicates"`
	ByVariant       map[domain.Variant]int `json:"by_variant"`
	Errors          []string               `json:"errors,omitempty"`
	DurationSeconds float64                `json:"duration_seconds"`
}

func NewCycleSummary(stats *domain.CycleStats) *CycleSummary {
	return &CycleSummary{
		CycleID:         stats.CycleID,
		StartedAt:       stats.StartedAt,
		TotalFetched:    stats.TotalFetched,
		BoxSales:        stats.BoxSales,
		Filtered:        stats.Filtered,
		Stale:           stats.Stale,
		New:             stats.New,
		Duplicates:      stats.Duplicates,
		ByVariant:       stats.ByVariant,
		Errors:          stats.Errors,
		DurationSeconds: stats.Duration.Seconds(),
	}
}

func (r *RabbitMQ) PublishSale(ctx context.Context, sale *domain.Sale) error {
	if err := r.publish(ctx, Message{Event: EventSaleCreated, Sale: sale}); err != nil {
		return err
	}
	r.logger.Debug("published sale", "unique_id", sale.UniqueID)
	return nil
}

func (r *RabbitMQ) PublishCycle(ctx context.Context, stats *domain.CycleStats) error {
	if err := r.publish(ctx, Message{Event: EventCycleCompleted, Cycle: NewCycleSummary(stats)}); err != nil {
		return err
	}
	r.logger.Debug("published cycle summary", "cycle_id", stats.CycleID)
	return nil
}

func (r *RabbitMQ) publish(ctx context.Context, msg Message) error {
	now := time.Now().UTC()
	msg.Timestamp = now

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Type:         msg.Event,
			Body:         body,
			Timestamp:    now,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Event, err)
	}
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
