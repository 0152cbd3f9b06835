package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-relay/internal/signal"
	"signal-relay/internal/storage"
)

const channel = int64(-1001150362511)

var base = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func newGate(t *testing.T) (*Gate, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewGate(store, store, zerolog.Nop()), store
}

func ptr(v int64) *int64 { return &v }

func entry(messageID int64) (signal.RawMessage, signal.Event) {
	msg := signal.RawMessage{ChannelID: channel, MessageID: messageID, Timestamp: base, ChangeKind: signal.ChangeNew, Text: "entry"}
	event := signal.Other(msg).WithEntry(signal.EntryFields{
		Pair:       "XAUUSD",
		Side:       signal.SideBuy,
		Kind:       signal.KindMarket,
		EntryPrice: decimal.NewNullDecimal(decimal.NewFromInt(100)),
		TakeProfit: []decimal.Decimal{decimal.NewFromInt(102)},
		Leverage:   1,
	})
	event.OrderID = "-1001150362511_111"
	return msg, event
}

func outcome(messageID int64, action signal.Action, at time.Time) (signal.RawMessage, signal.Event) {
	msg := signal.RawMessage{ChannelID: channel, MessageID: messageID, ReplyToMessageID: ptr(111), Timestamp: at, ChangeKind: signal.ChangeNew}
	event := signal.Other(msg).WithOutcome(action, signal.OutcomeFields{TPLevel: 1})
	event.OrderID = "-1001150362511_111"
	return msg, event
}

func TestEntryCreatesPendingOrder(t *testing.T) {
	gate, store := newGate(t)
	ctx := context.Background()

	msg, event := entry(111)
	d, err := gate.Apply(ctx, msg, event, "fx_gold_killer")
	require.NoError(t, err)
	assert.True(t, d.ShouldNotify)
	assert.True(t, d.OrderCreated)
	require.NotNil(t, d.Order)
	assert.Equal(t, storage.StatusPending, d.Order.Status)

	order, err := store.GetOrder(ctx, event.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "XAUUSD", order.Pair)
	assert.Equal(t, "fx_gold_killer", order.Dialect)
}

func TestRedeliveredEntryKeepsState(t *testing.T) {
	gate, store := newGate(t)
	ctx := context.Background()

	msg, event := entry(111)
	_, err := gate.Apply(ctx, msg, event, "fx_gold_killer")
	require.NoError(t, err)
	require.NoError(t, store.SetOutboundRef(ctx, event.OrderID, "-100", 9))

	tpMsg, tpEvent := outcome(150, signal.ActionTPHit, base.Add(time.Minute))
	_, err = gate.Apply(ctx, tpMsg, tpEvent, "fx_gold_killer")
	require.NoError(t, err)

	d, err := gate.Apply(ctx, msg, event, "fx_gold_killer")
	require.NoError(t, err)
	assert.False(t, d.OrderCreated)
	assert.False(t, d.ShouldNotify, "entry notification already delivered")
	assert.Equal(t, storage.StatusTPHit, d.Order.Status)
	assert.Equal(t, int64(9), d.Order.OutboundMessageID)
}

func TestRepeatedHitsAreSuppressed(t *testing.T) {
	gate, store := newGate(t)
	ctx := context.Background()

	msg, event := entry(111)
	_, err := gate.Apply(ctx, msg, event, "fx_gold_killer")
	require.NoError(t, err)

	steps := []struct {
		id     int64
		action signal.Action
		notify bool
	}{
		{150, signal.ActionTPHit, true},
		{151, signal.ActionTPHit, false},
		{152, signal.ActionSLHit, false},
		{153, signal.ActionInProfitUpdate, true},
		{154, signal.ActionSLHit, true},
		{155, signal.ActionBreakeven, true},
		{156, signal.ActionCancelled, true},
	}
	for i, step := range steps {
		at := base.Add(time.Duration(i+1) * time.Minute)
		m, e := outcome(step.id, step.action, at)
		d, err := gate.Apply(ctx, m, e, "fx_gold_killer")
		require.NoError(t, err)
		assert.Equal(t, step.notify, d.ShouldNotify, "message %d", step.id)
		assert.True(t, d.Transitioned)

		order, err := store.GetOrder(ctx, e.OrderID)
		require.NoError(t, err)
		assert.Equal(t, storage.OrderStatus(step.action), order.Status)
		assert.Equal(t, at, order.UpdatedAt)
	}
}

func TestOutcomeReapplyIsIdempotent(t *testing.T) {
	gate, _ := newGate(t)
	ctx := context.Background()

	msg, event := entry(111)
	_, err := gate.Apply(ctx, msg, event, "fx_gold_killer")
	require.NoError(t, err)

	at := base.Add(time.Minute)
	m, e := outcome(150, signal.ActionSLHit, at)
	first, err := gate.Apply(ctx, m, e, "fx_gold_killer")
	require.NoError(t, err)
	second, err := gate.Apply(ctx, m, e, "fx_gold_killer")
	require.NoError(t, err)

	assert.Equal(t, first.Order.Status, second.Order.Status)
	assert.Equal(t, first.Order.UpdatedAt, second.Order.UpdatedAt)
	assert.Equal(t, first.ShouldNotify, second.ShouldNotify)
}

func TestOutcomeForUnknownOrder(t *testing.T) {
	gate, store := newGate(t)
	m, e := outcome(150, signal.ActionTPHit, base)
	d, err := gate.Apply(context.Background(), m, e, "fx_gold_killer")
	require.NoError(t, err)
	assert.False(t, d.ShouldNotify)
	assert.False(t, d.Transitioned)

	rec, err := store.GetMessage(context.Background(), channel, 150)
	require.NoError(t, err, "the audit record is kept")
	assert.Equal(t, signal.ActionTPHit, rec.Action)
}

func TestOtherIsRecordedOnly(t *testing.T) {
	gate, store := newGate(t)
	msg := signal.RawMessage{ChannelID: channel, MessageID: 7, Text: "good morning", ChangeKind: signal.ChangeNew}
	d, err := gate.Apply(context.Background(), msg, signal.Other(msg), "fx_gold_killer")
	require.NoError(t, err)
	assert.False(t, d.ShouldNotify)
	assert.Nil(t, d.Order)

	rec, err := store.GetMessage(context.Background(), channel, 7)
	require.NoError(t, err)
	assert.Equal(t, signal.ActionOther, rec.Action)
	assert.Empty(t, rec.OrderID)
}

func TestEditUpdatesRecordWithoutTransition(t *testing.T) {
	gate, store := newGate(t)
	ctx := context.Background()

	msg, event := entry(111)
	_, err := gate.Apply(ctx, msg, event, "fx_gold_killer")
	require.NoError(t, err)

	m, e := outcome(150, signal.ActionTPHit, base.Add(time.Minute))
	m.ChangeKind = signal.ChangeEdited
	m.Text = "TP1 HIT"
	d, err := gate.Apply(ctx, m, e, "fx_gold_killer")
	require.NoError(t, err)
	assert.False(t, d.ShouldNotify)
	assert.False(t, d.Transitioned)

	order, err := store.GetOrder(ctx, event.OrderID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, order.Status)

	rec, err := store.GetMessage(ctx, channel, 150)
	require.NoError(t, err, "an edit of an unknown message is stored")
	assert.Equal(t, "TP1 HIT", rec.Text)
}

func TestDeleteRetractsNothing(t *testing.T) {
	gate, store := newGate(t)
	ctx := context.Background()

	msg, event := entry(111)
	_, err := gate.Apply(ctx, msg, event, "fx_gold_killer")
	require.NoError(t, err)

	del := signal.RawMessage{ChannelID: channel, MessageID: 111, ChangeKind: signal.ChangeDeleted}
	d, err := gate.Apply(ctx, del, signal.Other(del), "fx_gold_killer")
	require.NoError(t, err)
	assert.False(t, d.ShouldNotify)

	order, err := store.GetOrder(ctx, event.OrderID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, order.Status)
	rec, err := store.GetMessage(ctx, channel, 111)
	require.NoError(t, err)
	assert.Equal(t, signal.ActionNewSignal, rec.Action)

	unknown := signal.RawMessage{ChannelID: channel, MessageID: 999, ChangeKind: signal.ChangeDeleted}
	_, err = gate.Apply(ctx, unknown, signal.Other(unknown), "fx_gold_killer")
	assert.NoError(t, err)
}

func TestShouldNotifyTable(t *testing.T) {
	assert.True(t, ShouldNotify(signal.ActionClosed, signal.ActionTPHit))
	assert.True(t, ShouldNotify(signal.ActionTPHit, signal.ActionNewSignal))
	assert.True(t, ShouldNotify(signal.ActionSLHit, ""))
	assert.False(t, ShouldNotify(signal.ActionSLHit, signal.ActionTPHit))
	assert.False(t, ShouldNotify(signal.ActionOther, ""))
}
