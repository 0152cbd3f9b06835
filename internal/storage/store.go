package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"signal-relay/internal/signal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a keyed lookup matches nothing.
	ErrNotFound = errors.New("storage: not found")
)

// leaseLockKey serialises queue leases across consumer instances.
const leaseLockKey int64 = 0x5369674c

const (
	upsertMessageSQL = `INSERT INTO signal_messages (
        channel_id,
        message_id,
        reply_to_message_id,
        order_id,
        dialect,
        action,
        text,
        event,
        message_date
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (channel_id, message_id) DO UPDATE
    SET
        reply_to_message_id = EXCLUDED.reply_to_message_id,
        order_id            = EXCLUDED.order_id,
        dialect             = EXCLUDED.dialect,
        action              = EXCLUDED.action,
        text                = EXCLUDED.text,
        event               = EXCLUDED.event,
        updated_at          = now()
    RETURNING seq, created_at, updated_at;`

	messageColumns = `seq,
        channel_id,
        message_id,
        reply_to_message_id,
        order_id,
        dialect,
        action,
        text,
        event,
        message_date,
        created_at,
        updated_at`

	getMessageSQL = `SELECT ` + messageColumns + `
    FROM signal_messages
    WHERE channel_id = $1 AND message_id = $2;`

	latestOrderMessageSQL = `SELECT ` + messageColumns + `
    FROM signal_messages
    WHERE order_id = $1
      AND NOT (channel_id = $2 AND message_id = $3)
    ORDER BY seq DESC
    LIMIT 1;`

	upsertOrderSQL = `INSERT INTO orders (
        order_id,
        channel_id,
        dialect,
        status,
        pair,
        side,
        order_kind,
        entry_price,
        stop_loss,
        take_profit,
        leverage,
        created_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12
    )
    ON CONFLICT (order_id) DO UPDATE
    SET
        pair        = EXCLUDED.pair,
        side        = EXCLUDED.side,
        order_kind  = EXCLUDED.order_kind,
        entry_price = EXCLUDED.entry_price,
        stop_loss   = EXCLUDED.stop_loss,
        take_profit = EXCLUDED.take_profit,
        leverage    = EXCLUDED.leverage
    RETURNING (xmax = 0) AS inserted;`

	transitionOrderSQL = `UPDATE orders
    SET status = $2, updated_at = $3
    WHERE order_id = $1;`

	setOutboundRefSQL = `UPDATE orders
    SET outbound_chat_id = $2, outbound_message_id = $3
    WHERE order_id = $1;`

	orderColumns = `order_id,
        channel_id,
        dialect,
        status,
        pair,
        side,
        order_kind,
        entry_price,
        stop_loss,
        take_profit,
        leverage,
        outbound_chat_id,
        outbound_message_id,
        created_at,
        updated_at`

	getOrderSQL = `SELECT ` + orderColumns + `
    FROM orders
    WHERE order_id = $1;`

	listRecentOrdersSQL = `SELECT ` + orderColumns + `
    FROM orders
    ORDER BY created_at DESC
    LIMIT $1;`

	listOrdersBetweenSQL = `SELECT ` + orderColumns + `
    FROM orders
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	enqueueSQL = `INSERT INTO inbound_queue (channel_id, payload)
    VALUES ($1, $2)
    RETURNING id;`

	leaseSQL = `WITH candidates AS (
        SELECT q.id
        FROM inbound_queue q
        WHERE q.status = 'pending'
          AND q.available_at <= now()
          AND (q.leased_until IS NULL OR q.leased_until < now())
          AND NOT EXISTS (
              SELECT 1
              FROM inbound_queue e
              WHERE e.channel_id = q.channel_id
                AND e.id < q.id
                AND e.status = 'pending'
                AND (e.available_at > now() OR e.leased_until >= now())
          )
        ORDER BY q.id
        LIMIT $2
        FOR UPDATE
    )
    UPDATE inbound_queue q
    SET leased_by = $1,
        leased_until = now() + make_interval(secs => $3)
    FROM candidates c
    WHERE q.id = c.id
    RETURNING q.id, q.channel_id, q.payload, q.status, q.attempts, COALESCE(q.last_error, ''), q.available_at, q.enqueued_at, q.processed_at;`

	completeSQL = `UPDATE inbound_queue
    SET status = 'done', leased_by = NULL, leased_until = NULL, processed_at = now()
    WHERE id = $1;`

	retrySQL = `UPDATE inbound_queue
    SET attempts = $2, available_at = $3, last_error = $4, leased_by = NULL, leased_until = NULL
    WHERE id = $1;`

	deadLetterSQL = `UPDATE inbound_queue
    SET status = 'dead', last_error = $2, leased_by = NULL, leased_until = NULL, processed_at = now()
    WHERE id = $1;`

	releaseSQL = `UPDATE inbound_queue
    SET leased_by = NULL, leased_until = NULL
    WHERE id = ANY($1) AND status = 'pending';`

	listDeadLettersSQL = `SELECT id, channel_id, payload, status, attempts, COALESCE(last_error, ''), available_at, enqueued_at, processed_at
    FROM inbound_queue
    WHERE status = 'dead'
    ORDER BY id DESC
    LIMIT $1;`

	purgeDoneSQL = `DELETE FROM inbound_queue WHERE status = 'done' AND processed_at < $1;`

	tryAdvisoryLockSQL  = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL   = `SELECT pg_advisory_unlock($1);`
	advisoryXactLockSQL = `SELECT pg_advisory_xact_lock($1);`
)

// MessageStore persists the per-message audit trail.
type MessageStore interface {
	UpsertMessage(ctx context.Context, rec MessageRecord) (MessageRecord, error)
	GetMessage(ctx context.Context, channelID, messageID int64) (MessageRecord, error)
	// LatestOrderMessage returns the most recent message of the order other than the given one.
	LatestOrderMessage(ctx context.Context, orderID string, channelID, messageID int64) (MessageRecord, error)
}

// OrderStore persists order state.
type OrderStore interface {
	// UpsertOrder creates the order or refreshes its entry fields. Status and
	// outbound reference of an existing order are left untouched.
	UpsertOrder(ctx context.Context, order Order) (created bool, err error)
	TransitionOrder(ctx context.Context, orderID string, status OrderStatus, at time.Time) error
	SetOutboundRef(ctx context.Context, orderID, chatID string, messageID int64) error
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListRecentOrders(ctx context.Context, limit int) ([]Order, error)
	ListOrdersBetween(ctx context.Context, from, to time.Time) ([]Order, error)
}

// QueueStore is the durable inbound queue.
type QueueStore interface {
	Enqueue(ctx context.Context, channelID int64, payload []byte) (int64, error)
	// Lease hands out pending items in arrival order. An item is withheld while an
	// earlier pending item of the same channel is leased or waiting for retry.
	Lease(ctx context.Context, owner string, limit int, leaseFor time.Duration) ([]QueueItem, error)
	Complete(ctx context.Context, id int64) error
	Retry(ctx context.Context, id int64, attempts int, availableAt time.Time, errMsg string) error
	DeadLetter(ctx context.Context, id int64, errMsg string) error
	Release(ctx context.Context, ids []int64) error
	ListDeadLetters(ctx context.Context, limit int) ([]QueueItem, error)
	PurgeDone(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

var (
	_ MessageStore   = (*Store)(nil)
	_ OrderStore     = (*Store)(nil)
	_ QueueStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

// Store is the Postgres implementation of every store interface.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is dropped with the session when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertMessage stores or replaces the audit row keyed by (channel_id, message_id).
func (s *Store) UpsertMessage(ctx context.Context, rec MessageRecord) (MessageRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return MessageRecord{}, err
	}

	event := rec.Event
	if len(event) == 0 {
		event = []byte("{}")
	}

	row := pool.QueryRow(ctx, upsertMessageSQL,
		rec.ChannelID,
		rec.MessageID,
		rec.ReplyToMessageID,
		nullString(rec.OrderID),
		rec.Dialect,
		string(rec.Action),
		rec.Text,
		event,
		rec.MessageDate,
	)
	if err := row.Scan(&rec.Seq, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return MessageRecord{}, fmt.Errorf("upsert message: %w", err)
	}
	return rec, nil
}

// GetMessage loads one audit row.
func (s *Store) GetMessage(ctx context.Context, channelID, messageID int64) (MessageRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return MessageRecord{}, err
	}
	rows, err := pool.Query(ctx, getMessageSQL, channelID, messageID)
	if err != nil {
		return MessageRecord{}, fmt.Errorf("get message: %w", err)
	}
	return firstRow(rows, scanMessage)
}

// LatestOrderMessage returns the newest audit row of the order, excluding one message.
func (s *Store) LatestOrderMessage(ctx context.Context, orderID string, channelID, messageID int64) (MessageRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return MessageRecord{}, err
	}
	rows, err := pool.Query(ctx, latestOrderMessageSQL, orderID, channelID, messageID)
	if err != nil {
		return MessageRecord{}, fmt.Errorf("latest order message: %w", err)
	}
	return firstRow(rows, scanMessage)
}

// UpsertOrder inserts a PENDING order or refreshes the entry fields of an existing one.
func (s *Store) UpsertOrder(ctx context.Context, order Order) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	status := order.Status
	if status == "" {
		status = StatusPending
	}
	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var inserted bool
	if err := pool.QueryRow(ctx, upsertOrderSQL,
		order.OrderID,
		order.ChannelID,
		order.Dialect,
		string(status),
		order.Pair,
		string(order.Side),
		string(order.Kind),
		nullDecimalString(order.Entry),
		nullDecimalString(order.StopLoss),
		decimalStrings(order.TakeProfit),
		order.Leverage,
		createdAt,
	).Scan(&inserted); err != nil {
		return false, fmt.Errorf("upsert order: %w", err)
	}
	return inserted, nil
}

// TransitionOrder overwrites status and updated_at. Unknown orders yield ErrNotFound.
func (s *Store) TransitionOrder(ctx context.Context, orderID string, status OrderStatus, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, transitionOrderSQL, orderID, string(status), at)
	if err != nil {
		return fmt.Errorf("transition order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetOutboundRef records where the entry notification was delivered.
func (s *Store) SetOutboundRef(ctx context.Context, orderID, chatID string, messageID int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, setOutboundRefSQL, orderID, chatID, messageID)
	if err != nil {
		return fmt.Errorf("set outbound ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOrder loads one order.
func (s *Store) GetOrder(ctx context.Context, orderID string) (Order, error) {
	pool, err := s.getPool()
	if err != nil {
		return Order{}, err
	}
	rows, err := pool.Query(ctx, getOrderSQL, orderID)
	if err != nil {
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	return firstRow(rows, scanOrder)
}

// ListRecentOrders lists the newest orders first.
func (s *Store) ListRecentOrders(ctx context.Context, limit int) ([]Order, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listRecentOrdersSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent orders: %w", err)
	}
	return collectRows(rows, scanOrder)
}

// ListOrdersBetween lists orders created within [from, to).
func (s *Store) ListOrdersBetween(ctx context.Context, from, to time.Time) ([]Order, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listOrdersBetweenSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("list orders between: %w", err)
	}
	return collectRows(rows, scanOrder)
}

// Enqueue appends a raw envelope to the inbound queue.
func (s *Store) Enqueue(ctx context.Context, channelID int64, payload []byte) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := pool.QueryRow(ctx, enqueueSQL, channelID, payload).Scan(&id); err != nil {
		return 0, fmt.Errorf("enqueue message: %w", err)
	}
	return id, nil
}

// Lease claims up to limit items for owner. Leases are serialised with a
// transaction advisory lock so the per-channel check sees committed leases.
func (s *Store) Lease(ctx context.Context, owner string, limit int, leaseFor time.Duration) ([]QueueItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin lease: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, advisoryXactLockSQL, leaseLockKey); err != nil {
		return nil, fmt.Errorf("lock lease: %w", err)
	}

	rows, err := tx.Query(ctx, leaseSQL, owner, limit, leaseFor.Seconds())
	if err != nil {
		return nil, fmt.Errorf("lease messages: %w", err)
	}
	items, err := collectRows(rows, scanQueueItem)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit lease: %w", err)
	}
	sortQueueItems(items)
	return items, nil
}

// Complete marks an item processed.
func (s *Store) Complete(ctx context.Context, id int64) error {
	return s.execQueue(ctx, "complete message", completeSQL, id)
}

// Retry returns the item to the queue, hidden until availableAt.
func (s *Store) Retry(ctx context.Context, id int64, attempts int, availableAt time.Time, errMsg string) error {
	return s.execQueue(ctx, "retry message", retrySQL, id, attempts, availableAt, errMsg)
}

// DeadLetter parks the item permanently.
func (s *Store) DeadLetter(ctx context.Context, id int64, errMsg string) error {
	return s.execQueue(ctx, "dead-letter message", deadLetterSQL, id, errMsg)
}

// Release drops the lease on items that were not processed.
func (s *Store) Release(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, releaseSQL, ids); err != nil {
		return fmt.Errorf("release messages: %w", err)
	}
	return nil
}

// ListDeadLetters lists the newest dead letters first.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]QueueItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listDeadLettersSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return collectRows(rows, scanQueueItem)
}

// PurgeDone deletes processed items older than the cutoff.
func (s *Store) PurgeDone(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, purgeDoneSQL, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge done messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) execQueue(ctx context.Context, op, query string, args ...any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func firstRow[T any](rows pgx.Rows, scan func(pgx.Rows) (T, error)) (T, error) {
	defer rows.Close()
	var zero T
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return zero, err
		}
		return zero, ErrNotFound
	}
	return scan(rows)
}

func collectRows[T any](rows pgx.Rows, scan func(pgx.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanMessage(rows pgx.Rows) (MessageRecord, error) {
	var (
		rec     MessageRecord
		replyTo *int64
		orderID *string
		action  string
	)
	if err := rows.Scan(
		&rec.Seq,
		&rec.ChannelID,
		&rec.MessageID,
		&replyTo,
		&orderID,
		&rec.Dialect,
		&action,
		&rec.Text,
		&rec.Event,
		&rec.MessageDate,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return MessageRecord{}, err
	}
	rec.ReplyToMessageID = replyTo
	if orderID != nil {
		rec.OrderID = *orderID
	}
	rec.Action = signal.Action(action)
	return rec, nil
}

func scanOrder(rows pgx.Rows) (Order, error) {
	var (
		order           Order
		status          string
		side            string
		kind            string
		entryStr        *string
		stopLossStr     *string
		takeProfitStrs  []string
		outboundChat    *string
		outboundMessage *int64
	)
	if err := rows.Scan(
		&order.OrderID,
		&order.ChannelID,
		&order.Dialect,
		&status,
		&order.Pair,
		&side,
		&kind,
		&entryStr,
		&stopLossStr,
		&takeProfitStrs,
		&order.Leverage,
		&outboundChat,
		&outboundMessage,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return Order{}, err
	}

	order.Status = OrderStatus(status)
	order.Side = signal.Side(side)
	order.Kind = signal.OrderKind(kind)

	var err error
	if order.Entry, err = parseNullDecimal(entryStr); err != nil {
		return Order{}, fmt.Errorf("parse entry price: %w", err)
	}
	if order.StopLoss, err = parseNullDecimal(stopLossStr); err != nil {
		return Order{}, fmt.Errorf("parse stop loss: %w", err)
	}
	for _, raw := range takeProfitStrs {
		tp, err := decimal.NewFromString(raw)
		if err != nil {
			return Order{}, fmt.Errorf("parse take profit: %w", err)
		}
		order.TakeProfit = append(order.TakeProfit, tp)
	}
	if outboundChat != nil {
		order.OutboundChatID = *outboundChat
	}
	if outboundMessage != nil {
		order.OutboundMessageID = *outboundMessage
	}
	return order, nil
}

func scanQueueItem(rows pgx.Rows) (QueueItem, error) {
	var (
		item      QueueItem
		status    string
		processed *time.Time
	)
	if err := rows.Scan(
		&item.ID,
		&item.ChannelID,
		&item.Payload,
		&status,
		&item.Attempts,
		&item.LastError,
		&item.AvailableAt,
		&item.EnqueuedAt,
		&processed,
	); err != nil {
		return QueueItem{}, err
	}
	item.Status = QueueStatus(status)
	if processed != nil {
		item.ProcessedAt = *processed
	}
	return item, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullDecimalString(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func decimalStrings(values []decimal.Decimal) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, v.String())
	}
	return out
}

func parseNullDecimal(raw *string) (decimal.NullDecimal, error) {
	if raw == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
