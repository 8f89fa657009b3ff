package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/internal/metrics"
	"github.com/Checker-Finance/nftmarket/pkg/eventbus"
	"github.com/Checker-Finance/nftmarket/pkg/model"
)

const transport = "rabbitmq"

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes market events to a RabbitMQ topic exchange. The
// routing key is the event topic, e.g. item.bought.
type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher dials url and declares a durable topic exchange.
func NewPublisher(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := newPublisher(ch, exchange, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &Publisher{channel: ch, exchange: exchange, logger: logger}, nil
}

// Attach subscribes the publisher to bus.
func (p *Publisher) Attach(bus *eventbus.EventBus[model.MarketEvent]) (unsubscribe func()) {
	return bus.Subscribe("rabbitmq", func(ctx context.Context, evt model.MarketEvent) {
		_ = p.PublishEvent(ctx, evt)
	})
}

// PublishEvent publishes evt as an envelope. ItemBought is sent with a
// higher priority so settlement consumers see sales first.
func (p *Publisher) PublishEvent(ctx context.Context, evt model.MarketEvent) error {
	key := evt.Type.Topic()
	env, err := model.NewEnvelope(key, evt)
	if err != nil {
		metrics.IncError("rabbitmq", "marshal_failed")
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		metrics.IncError("rabbitmq", "marshal_failed")
		return err
	}

	var priority uint8
	if evt.Type == model.EventItemBought {
		priority = 10
	}

	start := time.Now()
	err = p.channel.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.ID.String(),
		CorrelationId: env.CorrelationID.String(),
		Timestamp:     env.Timestamp,
		Type:          env.EventType,
		Priority:      priority,
		Body:          body,
	})
	metrics.ObserveDuration(metrics.EventMessageLatency, start, transport, key)
	if err != nil {
		p.logger.Error("rabbitmq.publish_failed",
			zap.String("routing_key", key),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncEventMessage(transport, key, "error")
		return err
	}

	p.logger.Debug("rabbitmq.publish_success", zap.String("routing_key", key))
	metrics.IncEventMessage(transport, key, "ok")
	return nil
}

// Healthy reports whether the connection is open.
func (p *Publisher) Healthy() bool {
	return p.conn == nil || !p.conn.IsClosed()
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
