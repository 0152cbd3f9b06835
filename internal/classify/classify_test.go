package classify

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-relay/internal/dialect"
	"signal-relay/internal/signal"
)

const goldChannel = int64(-1001150362511)

func newClassifier(t *testing.T) *Classifier {
	t.Helper()
	reg, err := dialect.NewRegistry([]dialect.Route{
		{ChannelID: goldChannel, Dialect: "fx_gold_killer", Domain: "forex"},
		{ChannelID: -100200, Dialect: "lord_forex", Domain: "forex"},
	})
	require.NoError(t, err)
	return New(reg)
}

func replyTo(id int64) *int64 { return &id }

func TestScenarioLifecycleSharesOrderID(t *testing.T) {
	c := newClassifier(t)

	entry, binding, ok := c.Classify(signal.RawMessage{
		ChannelID: goldChannel,
		MessageID: 111,
		Text:      "PAIR BUY NOW, PRICE:100, TP1 102 TP2 104 TP3 106 TP4 108 TP5 110, SL:98",
	})
	require.True(t, ok)
	assert.Equal(t, "fx_gold_killer", binding.Dialect.Name())
	assert.Equal(t, signal.ActionNewSignal, entry.Action)
	assert.Equal(t, "-1001150362511_111", entry.OrderID)
	assert.Equal(t, "PAIR", entry.Pair)
	assert.Equal(t, signal.SideBuy, entry.Side)
	assert.Equal(t, signal.KindMarket, entry.Kind)
	assert.True(t, entry.EntryPrice.Decimal.Equal(decimal.NewFromInt(100)))
	assert.True(t, entry.StopLoss.Decimal.Equal(decimal.NewFromInt(98)))
	require.Len(t, entry.TakeProfit, 5)
	assert.True(t, entry.TakeProfit[4].Equal(decimal.NewFromInt(110)))

	tp, _, ok := c.Classify(signal.RawMessage{
		ChannelID:        goldChannel,
		MessageID:        150,
		ReplyToMessageID: replyTo(111),
		Text:             "TP3 HIT +60 PIPS",
	})
	require.True(t, ok)
	assert.Equal(t, signal.ActionTPHit, tp.Action)
	assert.Equal(t, 3, tp.TPLevel)
	require.NotNil(t, tp.Pips)
	assert.Equal(t, 60, *tp.Pips)
	assert.Equal(t, entry.OrderID, tp.OrderID)

	cancel, _, ok := c.Classify(signal.RawMessage{
		ChannelID:        goldChannel,
		MessageID:        151,
		ReplyToMessageID: replyTo(111),
		Text:             "Delete limit",
	})
	require.True(t, ok)
	assert.Equal(t, signal.ActionCancelled, cancel.Action)
	assert.Equal(t, entry.OrderID, cancel.OrderID)
}

func TestOutcomeTextWithoutReplyIsOther(t *testing.T) {
	c := newClassifier(t)
	event, _, ok := c.Classify(signal.RawMessage{ChannelID: goldChannel, MessageID: 5, Text: "TP3 HIT +60 PIPS"})
	require.True(t, ok)
	assert.Equal(t, signal.ActionOther, event.Action)
	assert.Empty(t, event.OrderID)
}

func TestEntryTextAsReplyIsNotNewSignal(t *testing.T) {
	c := newClassifier(t)
	event, _, ok := c.Classify(signal.RawMessage{
		ChannelID:        goldChannel,
		MessageID:        6,
		ReplyToMessageID: replyTo(1),
		Text:             "PAIR BUY NOW, PRICE:100, TP1 102, SL:98",
	})
	require.True(t, ok)
	assert.NotEqual(t, signal.ActionNewSignal, event.Action)
}

func TestUnroutableChannel(t *testing.T) {
	c := newClassifier(t)
	event, _, ok := c.Classify(signal.RawMessage{ChannelID: 99, MessageID: 1, Text: "PAIR BUY NOW, PRICE:100, TP1 102, SL:98"})
	assert.False(t, ok)
	assert.Equal(t, signal.ActionOther, event.Action)
	assert.Equal(t, int64(99), event.ChannelID)
}

func TestBodyKeyedOrderID(t *testing.T) {
	c := newClassifier(t)

	entry, _, ok := c.Classify(signal.RawMessage{
		ChannelID: -100200,
		MessageID: 10,
		Text:      "🔔 NEW ORDER - NAS100 - Sell 🔔\nEntry: 183.542\nTP @ 182.900\nSL @ 184.250\nID: 987654321",
	})
	require.True(t, ok)
	assert.Equal(t, signal.ActionNewSignal, entry.Action)
	assert.Equal(t, "lord:-100200_987654321", entry.OrderID)

	cancel, _, ok := c.Classify(signal.RawMessage{
		ChannelID: -100200,
		MessageID: 11,
		Text:      "❌ ORDER CANCELLED\nNAS100 Sell\nID: 987654321",
	})
	require.True(t, ok)
	assert.Equal(t, signal.ActionCancelled, cancel.Action)
	assert.Equal(t, entry.OrderID, cancel.OrderID)
}

func TestClassifyConcurrent(t *testing.T) {
	c := newClassifier(t)
	msg := signal.RawMessage{ChannelID: goldChannel, MessageID: 111, Text: "PAIR BUY NOW, PRICE:100, TP1 102, SL:98"}
	want, _, _ := c.Classify(msg)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _, _ := c.Classify(msg)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}
