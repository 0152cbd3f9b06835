package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"signal-relay/internal/signal"
)

// OrderStatus mirrors the last action applied to an order.
type OrderStatus string

const (
	StatusPending        OrderStatus = "PENDING"
	StatusTPHit          OrderStatus = "TP_HIT"
	StatusSLHit          OrderStatus = "SL_HIT"
	StatusCancelled      OrderStatus = "CANCELLED"
	StatusInProfitUpdate OrderStatus = "IN_PROFIT_UPDATE"
	StatusClosed         OrderStatus = "CLOSED"
	StatusBreakeven      OrderStatus = "BREAKEVEN"
)

// StatusFor maps an outcome action to the order status it sets.
func StatusFor(action signal.Action) (OrderStatus, bool) {
	if !action.IsOutcome() {
		return "", false
	}
	return OrderStatus(action), true
}

// MessageRecord is the audit row for one ingested message.
type MessageRecord struct {
	Seq              int64
	ChannelID        int64
	MessageID        int64
	ReplyToMessageID *int64
	OrderID          string
	Dialect          string
	Action           signal.Action
	Text             string
	Event            []byte
	MessageDate      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Order tracks one trade idea from its entry message onwards.
type Order struct {
	OrderID           string
	ChannelID         int64
	Dialect           string
	Status            OrderStatus
	Pair              string
	Side              signal.Side
	Kind              signal.OrderKind
	Entry             decimal.NullDecimal
	StopLoss          decimal.NullDecimal
	TakeProfit        []decimal.Decimal
	Leverage          int
	OutboundChatID    string
	OutboundMessageID int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasOutbound reports whether the entry notification was delivered.
func (o Order) HasOutbound() bool {
	return o.OutboundChatID != "" && o.OutboundMessageID != 0
}

// QueueStatus is the delivery state of an inbound envelope.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueDone    QueueStatus = "done"
	QueueDead    QueueStatus = "dead"
)

// QueueItem is one persisted inbound envelope.
type QueueItem struct {
	ID          int64
	ChannelID   int64
	Payload     []byte
	Status      QueueStatus
	Attempts    int
	LastError   string
	AvailableAt time.Time
	EnqueuedAt  time.Time
	// ProcessedAt is zero until the item is completed or dead-lettered.
	ProcessedAt time.Time
}
