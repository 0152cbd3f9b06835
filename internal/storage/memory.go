package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	_ MessageStore   = (*MemoryStore)(nil)
	_ OrderStore     = (*MemoryStore)(nil)
	_ QueueStore     = (*MemoryStore)(nil)
	_ AdvisoryLocker = (*MemoryStore)(nil)
)

type messageKey struct {
	channelID int64
	messageID int64
}

// MemoryStore keeps everything in process memory. It backs direct mode
// when no database is configured and doubles as a test fixture.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	seq      int64
	messages map[messageKey]MessageRecord
	orders   map[string]Order
	queue    []QueueItem
	leases   map[int64]time.Time
	queueSeq int64
	locks    map[int64]bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      func() time.Time { return time.Now().UTC() },
		messages: make(map[messageKey]MessageRecord),
		orders:   make(map[string]Order),
		leases:   make(map[int64]time.Time),
		locks:    make(map[int64]bool),
	}
}

// SetClock overrides the time source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// TryAdvisoryLock emulates a session lock within the process.
func (m *MemoryStore) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return nil, false, nil
	}
	m.locks[key] = true
	return func() {
		m.mu.Lock()
		delete(m.locks, key)
		m.mu.Unlock()
	}, true, nil
}

// UpsertMessage stores or replaces the record keyed by (channel_id, message_id).
func (m *MemoryStore) UpsertMessage(ctx context.Context, rec MessageRecord) (MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return MessageRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := messageKey{rec.ChannelID, rec.MessageID}
	now := m.now()
	if prev, ok := m.messages[key]; ok {
		rec.Seq = prev.Seq
		rec.CreatedAt = prev.CreatedAt
		rec.MessageDate = prev.MessageDate
	} else {
		m.seq++
		rec.Seq = m.seq
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Event = append([]byte(nil), rec.Event...)
	m.messages[key] = rec
	return rec, nil
}

// GetMessage loads one record.
func (m *MemoryStore) GetMessage(_ context.Context, channelID, messageID int64) (MessageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.messages[messageKey{channelID, messageID}]
	if !ok {
		return MessageRecord{}, ErrNotFound
	}
	return rec, nil
}

// LatestOrderMessage returns the newest record of the order, excluding one message.
func (m *MemoryStore) LatestOrderMessage(_ context.Context, orderID string, channelID, messageID int64) (MessageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		latest MessageRecord
		found  bool
	)
	for key, rec := range m.messages {
		if rec.OrderID != orderID || key == (messageKey{channelID, messageID}) {
			continue
		}
		if !found || rec.Seq > latest.Seq {
			latest, found = rec, true
		}
	}
	if !found {
		return MessageRecord{}, ErrNotFound
	}
	return latest, nil
}

// UpsertOrder creates the order or refreshes its entry fields.
func (m *MemoryStore) UpsertOrder(ctx context.Context, order Order) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	order.TakeProfit = append([]decimal.Decimal(nil), order.TakeProfit...)
	if prev, ok := m.orders[order.OrderID]; ok {
		prev.Pair = order.Pair
		prev.Side = order.Side
		prev.Kind = order.Kind
		prev.Entry = order.Entry
		prev.StopLoss = order.StopLoss
		prev.TakeProfit = order.TakeProfit
		prev.Leverage = order.Leverage
		m.orders[order.OrderID] = prev
		return false, nil
	}

	if order.Status == "" {
		order.Status = StatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = m.now()
	}
	order.UpdatedAt = order.CreatedAt
	order.OutboundChatID = ""
	order.OutboundMessageID = 0
	m.orders[order.OrderID] = order
	return true, nil
}

// TransitionOrder overwrites status and updated_at.
func (m *MemoryStore) TransitionOrder(ctx context.Context, orderID string, status OrderStatus, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	order.Status = status
	order.UpdatedAt = at
	m.orders[orderID] = order
	return nil
}

// SetOutboundRef records the delivered entry notification.
func (m *MemoryStore) SetOutboundRef(_ context.Context, orderID, chatID string, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	order.OutboundChatID = chatID
	order.OutboundMessageID = messageID
	m.orders[orderID] = order
	return nil
}

// GetOrder loads one order.
func (m *MemoryStore) GetOrder(_ context.Context, orderID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return order, nil
}

// ListRecentOrders lists the newest orders first.
func (m *MemoryStore) ListRecentOrders(_ context.Context, limit int) ([]Order, error) {
	orders := m.sortedOrders()
	for i, j := 0, len(orders)-1; i < j; i, j = i+1, j-1 {
		orders[i], orders[j] = orders[j], orders[i]
	}
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// ListOrdersBetween lists orders created within [from, to).
func (m *MemoryStore) ListOrdersBetween(_ context.Context, from, to time.Time) ([]Order, error) {
	out := make([]Order, 0)
	for _, order := range m.sortedOrders() {
		if !order.CreatedAt.Before(from) && order.CreatedAt.Before(to) {
			out = append(out, order)
		}
	}
	return out, nil
}

func (m *MemoryStore) sortedOrders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.orders))
	for _, order := range m.orders {
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Enqueue appends a payload to the queue.
func (m *MemoryStore) Enqueue(ctx context.Context, channelID int64, payload []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueSeq++
	now := m.now()
	m.queue = append(m.queue, QueueItem{
		ID:          m.queueSeq,
		ChannelID:   channelID,
		Payload:     append([]byte(nil), payload...),
		Status:      QueuePending,
		AvailableAt: now,
		EnqueuedAt:  now,
	})
	return m.queueSeq, nil
}

// Lease follows the same per-channel ordering rule as the Postgres store.
func (m *MemoryStore) Lease(ctx context.Context, _ string, limit int, leaseFor time.Duration) ([]QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	blocked := make(map[int64]bool)
	var out []QueueItem
	for _, item := range m.queue {
		if item.Status != QueuePending {
			continue
		}
		leased := m.leases[item.ID].After(now)
		waiting := item.AvailableAt.After(now)
		if blocked[item.ChannelID] || leased || waiting {
			blocked[item.ChannelID] = true
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		m.leases[item.ID] = now.Add(leaseFor)
		out = append(out, item)
	}
	return out, nil
}

// Complete marks an item processed.
func (m *MemoryStore) Complete(_ context.Context, id int64) error {
	return m.updateItem(id, func(item *QueueItem) {
		item.Status = QueueDone
		item.ProcessedAt = m.now()
	})
}

// Retry hides the item until availableAt.
func (m *MemoryStore) Retry(_ context.Context, id int64, attempts int, availableAt time.Time, errMsg string) error {
	return m.updateItem(id, func(item *QueueItem) {
		item.Attempts = attempts
		item.AvailableAt = availableAt
		item.LastError = errMsg
	})
}

// DeadLetter parks the item permanently.
func (m *MemoryStore) DeadLetter(_ context.Context, id int64, errMsg string) error {
	return m.updateItem(id, func(item *QueueItem) {
		item.Status = QueueDead
		item.LastError = errMsg
		item.ProcessedAt = m.now()
	})
}

// Release drops leases without changing state.
func (m *MemoryStore) Release(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.leases, id)
	}
	return nil
}

// ListDeadLetters lists the newest dead letters first.
func (m *MemoryStore) ListDeadLetters(_ context.Context, limit int) ([]QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QueueItem, 0)
	for i := len(m.queue) - 1; i >= 0; i-- {
		if m.queue[i].Status != QueueDead {
			continue
		}
		out = append(out, m.queue[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// PurgeDone deletes items completed before the cutoff.
func (m *MemoryStore) PurgeDone(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.queue[:0]
	var purged int64
	for _, item := range m.queue {
		if item.Status == QueueDone && item.ProcessedAt.Before(olderThan) {
			purged++
			continue
		}
		kept = append(kept, item)
	}
	m.queue = kept
	return purged, nil
}

// QueueItem returns a snapshot of one queue entry.
func (m *MemoryStore) QueueItem(id int64) (QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.queue {
		if item.ID == id {
			return item, true
		}
	}
	return QueueItem{}, false
}

func (m *MemoryStore) updateItem(id int64, apply func(*QueueItem)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.queue {
		if m.queue[i].ID == id {
			apply(&m.queue[i])
			delete(m.leases, id)
			return nil
		}
	}
	return ErrNotFound
}

func sortQueueItems(items []QueueItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}
