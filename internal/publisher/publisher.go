package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/internal/metrics"
	"github.com/Checker-Finance/nftmarket/pkg/model"
)

const transport = "nats"

// jetStream is the subset of nats.JetStreamContext the publisher needs.
type jetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher publishes market events to NATS JetStream as canonical envelopes.
type Publisher struct {
	nc      *nats.Conn
	js      jetStream
	prefix  string
	service string
	logger  *zap.Logger
}

// New creates a Publisher and makes sure stream captures prefix.>.
func New(nc *nats.Conn, stream, prefix, service string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	if stream != "" {
		if err := ensureStream(js, stream, prefix+".>"); err != nil {
			return nil, err
		}
	}
	return &Publisher{nc: nc, js: js, prefix: prefix, service: service, logger: logger}, nil
}

func ensureStream(js nats.JetStreamContext, stream, subject string) error {
	_, err := js.StreamInfo(stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", stream, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      stream,
		Subjects:  []string{subject},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", stream, err)
	}
	return nil
}

// Subject returns the full subject for an event type, e.g. evt.market.item.bought.
func (p *Publisher) Subject(t model.EventType) string {
	return p.prefix + "." + t.Topic()
}

// PublishEvent wraps evt in an envelope and publishes it.
func (p *Publisher) PublishEvent(ctx context.Context, evt model.MarketEvent) error {
	subject := p.Subject(evt.Type)
	env, err := model.NewEnvelope(subject, evt)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}
	return p.PublishEnvelope(ctx, subject, env)
}

// PublishEnvelope serializes and publishes a canonical event envelope.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("publisher.marshal_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			nats.MsgIdHdr:    []string{env.ID.String()},
		},
	}
	return p.publish(ctx, msg, env.EventType)
}

// Publish publishes a raw JSON payload on subject.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{"source": []string{p.service}},
	}
	return p.publish(ctx, msg, "")
}

func (p *Publisher) publish(ctx context.Context, msg *nats.Msg, eventType string) error {
	start := time.Now()
	_, err := p.js.PublishMsg(msg, nats.Context(ctx))
	metrics.ObserveDuration(metrics.EventMessageLatency, start, transport, msg.Subject)

	if err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", msg.Subject),
			zap.String("event_type", eventType),
			zap.Error(err))
		metrics.IncEventMessage(transport, msg.Subject, "error")
		return err
	}

	p.logger.Debug("publisher.publish_success",
		zap.String("subject", msg.Subject),
		zap.String("event_type", eventType))
	metrics.IncEventMessage(transport, msg.Subject, "ok")
	return nil
}

// Healthy reports whether the underlying connection is up.
func (p *Publisher) Healthy() bool {
	return p.nc == nil || p.nc.IsConnected()
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		_ = p.nc.Drain()
	}
}
