package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/pkg/model"
)

type mockJetStream struct {
	published []*nats.Msg
	fail      bool
}

func (m *mockJetStream) PublishMsg(msg *nats.Msg, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if m.fail {
		return nil, errors.New("mock publish error")
	}
	m.published = append(m.published, msg)
	return &nats.PubAck{Stream: "MARKET_EVENTS"}, nil
}

func newTestPublisher(js *mockJetStream) *Publisher {
	return &Publisher{js: js, prefix: "evt.market", service: "nftmarket", logger: zap.NewNop()}
}

func TestPublishEvent(t *testing.T) {
	js := &mockJetStream{}
	p := newTestPublisher(js)

	evt := model.MarketEvent{
		Type:       model.EventItemBought,
		Collection: "0x00000000000000000000000000000000000000c1",
		AssetID:    "0",
		Seller:     "0x00000000000000000000000000000000000000a1",
		Buyer:      "0x00000000000000000000000000000000000000b1",
		Price:      decimal.NewFromInt(100),
		OccurredAt: time.Unix(1_700_000_000, 0).UTC(),
	}
	require.NoError(t, p.PublishEvent(context.Background(), evt))
	require.Len(t, js.published, 1)

	msg := js.published[0]
	assert.Equal(t, "evt.market.item.bought", msg.Subject)
	assert.Equal(t, "ItemBought", msg.Header.Get("event_type"))
	assert.Equal(t, "nftmarket", msg.Header.Get("service"))
	assert.NotEmpty(t, msg.Header.Get(nats.MsgIdHdr))

	var env model.Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.Equal(t, "evt.market.item.bought", env.Topic)
	assert.Equal(t, env.ID.String(), msg.Header.Get(nats.MsgIdHdr))

	var payload model.MarketEvent
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, evt.Buyer, payload.Buyer)
	assert.True(t, payload.Price.Equal(evt.Price))
}

func TestPublishEventFailure(t *testing.T) {
	p := newTestPublisher(&mockJetStream{fail: true})
	err := p.PublishEvent(context.Background(), model.MarketEvent{Type: model.EventItemListed})
	assert.Error(t, err)
}

func TestPublishRaw(t *testing.T) {
	js := &mockJetStream{}
	p := newTestPublisher(js)

	require.NoError(t, p.Publish(context.Background(), "evt.market.snapshot", map[string]int{"listings": 2}))
	require.Len(t, js.published, 1)
	assert.Equal(t, "nftmarket", js.published[0].Header.Get("source"))
	assert.JSONEq(t, `{"listings":2}`, string(js.published[0].Data))
}

func TestPublishRawMarshalError(t *testing.T) {
	js := &mockJetStream{}
	p := newTestPublisher(js)
	err := p.Publish(context.Background(), "x", make(chan int))
	assert.Error(t, err)
	assert.Empty(t, js.published)
}

func TestSubjectPerEventType(t *testing.T) {
	p := newTestPublisher(&mockJetStream{})
	assert.Equal(t, "evt.market.item.listed", p.Subject(model.EventItemListed))
	assert.Equal(t, "evt.market.item.canceled", p.Subject(model.EventItemCanceled))
	assert.Equal(t, "evt.market.proceeds.withdrawn", p.Subject(model.EventProceedsWithdrawn))
}

func TestHealthyWithoutConnection(t *testing.T) {
	p := newTestPublisher(&mockJetStream{})
	assert.True(t, p.Healthy())
	p.Close()
}
