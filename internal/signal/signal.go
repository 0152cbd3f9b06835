// Package signal holds the message and event types shared by the classification pipeline.
package signal

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ChangeKind distinguishes fresh messages from edits and deletions.
type ChangeKind string

const (
	ChangeNew     ChangeKind = "NEW"
	ChangeEdited  ChangeKind = "EDITED"
	ChangeDeleted ChangeKind = "DELETED"
)

// ParseChangeKind maps a wire value to a ChangeKind. Empty input means NEW.
func ParseChangeKind(v string) (ChangeKind, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "", string(ChangeNew):
		return ChangeNew, nil
	case string(ChangeEdited):
		return ChangeEdited, nil
	case string(ChangeDeleted):
		return ChangeDeleted, nil
	default:
		return "", fmt.Errorf("unknown change kind %q", v)
	}
}

// Action is the classification outcome of a single message.
type Action string

const (
	ActionNewSignal      Action = "NEW_SIGNAL"
	ActionTPHit          Action = "TP_HIT"
	ActionSLHit          Action = "SL_HIT"
	ActionCancelled      Action = "CANCELLED"
	ActionInProfitUpdate Action = "IN_PROFIT_UPDATE"
	ActionClosed         Action = "CLOSED"
	ActionBreakeven      Action = "BREAKEVEN"
	ActionOther          Action = "OTHER"
)

// IsOutcome reports whether the action refers to an existing order.
func (a Action) IsOutcome() bool {
	switch a {
	case ActionTPHit, ActionSLHit, ActionCancelled, ActionInProfitUpdate, ActionClosed, ActionBreakeven:
		return true
	default:
		return false
	}
}

// Side is the trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind describes how the order is meant to be placed.
type OrderKind string

const (
	KindMarket    OrderKind = "MARKET"
	KindLimit     OrderKind = "LIMIT"
	KindBuyStop   OrderKind = "BUY_STOP"
	KindSellStop  OrderKind = "SELL_STOP"
	KindBuyLimit  OrderKind = "BUY_LIMIT"
	KindSellLimit OrderKind = "SELL_LIMIT"
)

// Side derives the direction implied by directional order kinds.
func (k OrderKind) Side() (Side, bool) {
	switch k {
	case KindBuyStop, KindBuyLimit:
		return SideBuy, true
	case KindSellStop, KindSellLimit:
		return SideSell, true
	default:
		return "", false
	}
}

// RawMessage is one ingested chat message. It is never mutated after decoding.
type RawMessage struct {
	ChannelID        int64
	MessageID        int64
	ReplyToMessageID *int64
	Timestamp        time.Time
	Text             string
	ChangeKind       ChangeKind
	DomainTag        string
}

// HasReply reports whether the message is threaded under another message.
func (m RawMessage) HasReply() bool {
	return m.ReplyToMessageID != nil && *m.ReplyToMessageID != 0
}

// EntryFields carries the values extracted from a new signal.
type EntryFields struct {
	Pair       string
	Side       Side
	Kind       OrderKind
	EntryPrice decimal.NullDecimal
	StopLoss   decimal.NullDecimal
	TakeProfit []decimal.Decimal
	Leverage   int
	Ref        string
}

// OutcomeFields carries the values extracted from an outcome reply.
type OutcomeFields struct {
	Pair          string
	TPLevel       int
	Pips          *int
	ProfitPercent decimal.NullDecimal
	ExitPrice     decimal.NullDecimal
	Ref           string
}

// Event is the structured result of classifying one message.
type Event struct {
	ChannelID     int64               `json:"channel_id"`
	MessageID     int64               `json:"message_id"`
	OrderID       string              `json:"order_id,omitempty"`
	Action        Action              `json:"action"`
	Pair          string              `json:"pair,omitempty"`
	Side          Side                `json:"side,omitempty"`
	Kind          OrderKind           `json:"order_kind,omitempty"`
	EntryPrice    decimal.NullDecimal `json:"entry_price"`
	StopLoss      decimal.NullDecimal `json:"stop_loss"`
	TakeProfit    []decimal.Decimal   `json:"take_profit,omitempty"`
	Leverage      int                 `json:"leverage,omitempty"`
	TPLevel       int                 `json:"tp_level,omitempty"`
	Pips          *int                `json:"pips,omitempty"`
	ProfitPercent decimal.NullDecimal `json:"profit_percent"`
	ExitPrice     decimal.NullDecimal `json:"exit_price"`
}

// Other returns an unclassified event for the message.
func Other(msg RawMessage) Event {
	return Event{ChannelID: msg.ChannelID, MessageID: msg.MessageID, Action: ActionOther}
}

// WithEntry copies entry fields onto the event.
func (e Event) WithEntry(f EntryFields) Event {
	e.Action = ActionNewSignal
	e.Pair = f.Pair
	e.Side = f.Side
	e.Kind = f.Kind
	e.EntryPrice = f.EntryPrice
	e.StopLoss = f.StopLoss
	e.TakeProfit = f.TakeProfit
	e.Leverage = f.Leverage
	return e
}

// WithOutcome copies outcome fields onto the event.
func (e Event) WithOutcome(action Action, f OutcomeFields) Event {
	e.Action = action
	e.Pair = f.Pair
	e.TPLevel = f.TPLevel
	e.Pips = f.Pips
	e.ProfitPercent = f.ProfitPercent
	e.ExitPrice = f.ExitPrice
	return e
}
