// Package lifecycle applies classified messages to stored order state and
// decides which of them are worth re-broadcasting.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"signal-relay/internal/logging"
	"signal-relay/internal/signal"
	"signal-relay/internal/storage"
)

// Decision is the outcome of applying one message.
type Decision struct {
	Event        signal.Event
	Change       signal.ChangeKind
	Record       storage.MessageRecord
	Order        *storage.Order
	OrderCreated bool
	Transitioned bool
	ShouldNotify bool
	// Repeat is set when a TP/SL notification was suppressed.
	Repeat bool
}

// Gate is the order state machine. Order state lives in the stores; Apply
// serializes calls per channel so the read of the previous message and the
// writes that follow it are never interleaved within one process.
type Gate struct {
	messages storage.MessageStore
	orders   storage.OrderStore
	locks    *channelLocks
	now      func() time.Time
	logger   zerolog.Logger
}

// NewGate wires the gate to its stores.
func NewGate(messages storage.MessageStore, orders storage.OrderStore, logger zerolog.Logger) *Gate {
	return &Gate{
		messages: messages,
		orders:   orders,
		locks:    newChannelLocks(),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With().Str("component", "lifecycle").Logger(),
	}
}

// Apply records msg and its classification, then performs the transition its change kind calls for.
func (g *Gate) Apply(ctx context.Context, msg signal.RawMessage, event signal.Event, dialect string) (Decision, error) {
	log := logging.Event(logging.Message(g.logger.With(), msg), event, dialect).Logger()
	decision := Decision{Event: event, Change: msg.ChangeKind}

	unlock := g.locks.lock(msg.ChannelID)
	defer unlock()

	switch msg.ChangeKind {
	case signal.ChangeDeleted:
		return decision, g.applyDelete(ctx, msg, log)
	case signal.ChangeEdited:
		return g.applyEdit(ctx, msg, event, dialect, decision, log)
	}

	var previous signal.Action
	if event.OrderID != "" {
		prev, err := g.messages.LatestOrderMessage(ctx, event.OrderID, msg.ChannelID, msg.MessageID)
		switch {
		case err == nil:
			previous = prev.Action
		case !errors.Is(err, storage.ErrNotFound):
			return decision, fmt.Errorf("load previous message: %w", err)
		}
	}

	record, err := g.storeMessage(ctx, msg, event, dialect)
	if err != nil {
		return decision, err
	}
	decision.Record = record

	switch {
	case event.Action == signal.ActionNewSignal:
		return g.applyEntry(ctx, msg, event, dialect, decision, log)
	case event.Action.IsOutcome():
		return g.applyOutcome(ctx, msg, event, previous, decision, log)
	default:
		log.Debug().Msg("message recorded without classification")
		return decision, nil
	}
}

func (g *Gate) applyEntry(ctx context.Context, msg signal.RawMessage, event signal.Event, dialect string, decision Decision, log zerolog.Logger) (Decision, error) {
	created, err := g.orders.UpsertOrder(ctx, storage.Order{
		OrderID:    event.OrderID,
		ChannelID:  msg.ChannelID,
		Dialect:    dialect,
		Status:     storage.StatusPending,
		Pair:       event.Pair,
		Side:       event.Side,
		Kind:       event.Kind,
		Entry:      event.EntryPrice,
		StopLoss:   event.StopLoss,
		TakeProfit: event.TakeProfit,
		Leverage:   event.Leverage,
		CreatedAt:  g.timestamp(msg),
	})
	if err != nil {
		return decision, err
	}
	order, err := g.orders.GetOrder(ctx, event.OrderID)
	if err != nil {
		return decision, fmt.Errorf("reload order: %w", err)
	}

	decision.Order = &order
	decision.OrderCreated = created
	// a redelivered entry whose notification already went out stays quiet
	decision.ShouldNotify = created || !order.HasOutbound()
	log.Info().Bool("created", created).Bool("notify", decision.ShouldNotify).Msg("order opened")
	return decision, nil
}

func (g *Gate) applyOutcome(ctx context.Context, msg signal.RawMessage, event signal.Event, previous signal.Action, decision Decision, log zerolog.Logger) (Decision, error) {
	status, _ := storage.StatusFor(event.Action)
	err := g.orders.TransitionOrder(ctx, event.OrderID, status, g.timestamp(msg))
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn().Msg("outcome for unknown order ignored")
		return decision, nil
	}
	if err != nil {
		return decision, err
	}
	decision.Transitioned = true

	order, err := g.orders.GetOrder(ctx, event.OrderID)
	if err != nil {
		return decision, fmt.Errorf("reload order: %w", err)
	}
	decision.Order = &order

	decision.ShouldNotify = ShouldNotify(event.Action, previous)
	decision.Repeat = !decision.ShouldNotify
	log.Info().Str("status", string(status)).Str("previous", string(previous)).Bool("notify", decision.ShouldNotify).Msg("order transitioned")
	return decision, nil
}

func (g *Gate) applyEdit(ctx context.Context, msg signal.RawMessage, event signal.Event, dialect string, decision Decision, log zerolog.Logger) (Decision, error) {
	_, err := g.messages.GetMessage(ctx, msg.ChannelID, msg.MessageID)
	known := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return decision, fmt.Errorf("load edited message: %w", err)
	}

	record, err := g.storeMessage(ctx, msg, event, dialect)
	if err != nil {
		return decision, err
	}
	decision.Record = record
	log.Info().Bool("known", known).Msg("edit recorded without transition")
	return decision, nil
}

func (g *Gate) applyDelete(ctx context.Context, msg signal.RawMessage, log zerolog.Logger) error {
	prev, err := g.messages.GetMessage(ctx, msg.ChannelID, msg.MessageID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Info().Msg("deletion of unknown message")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load deleted message: %w", err)
	}
	log.Info().
		Str("prior_action", string(prev.Action)).
		Str("prior_order_id", prev.OrderID).
		Str("prior_text", prev.Text).
		Msg("message deleted upstream; nothing retracted")
	return nil
}

func (g *Gate) storeMessage(ctx context.Context, msg signal.RawMessage, event signal.Event, dialect string) (storage.MessageRecord, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return storage.MessageRecord{}, fmt.Errorf("encode event: %w", err)
	}
	record, err := g.messages.UpsertMessage(ctx, storage.MessageRecord{
		ChannelID:        msg.ChannelID,
		MessageID:        msg.MessageID,
		ReplyToMessageID: msg.ReplyToMessageID,
		OrderID:          event.OrderID,
		Dialect:          dialect,
		Action:           event.Action,
		Text:             msg.Text,
		Event:            payload,
		MessageDate:      g.timestamp(msg),
	})
	if err != nil {
		return storage.MessageRecord{}, fmt.Errorf("store message: %w", err)
	}
	return record, nil
}

func (g *Gate) timestamp(msg signal.RawMessage) time.Time {
	if msg.Timestamp.IsZero() {
		return g.now()
	}
	return msg.Timestamp.UTC()
}

// ShouldNotify applies the notification rule. TP and SL hits are suppressed
// when the order's previous message was itself a TP or SL hit.
func ShouldNotify(action, previous signal.Action) bool {
	switch action {
	case signal.ActionNewSignal, signal.ActionCancelled, signal.ActionInProfitUpdate, signal.ActionClosed, signal.ActionBreakeven:
		return true
	case signal.ActionTPHit, signal.ActionSLHit:
		return previous != signal.ActionTPHit && previous != signal.ActionSLHit
	default:
		return false
	}
}
