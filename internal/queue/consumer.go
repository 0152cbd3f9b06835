package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"signal-relay/internal/metrics"
	"signal-relay/internal/scheduler"
	"signal-relay/internal/signal"
	"signal-relay/internal/storage"
)

// Handler processes one decoded message. A returned error schedules a retry.
type Handler func(ctx context.Context, msg signal.RawMessage) error

// Options tune the consumer.
type Options struct {
	PollInterval   time.Duration
	BatchSize      int
	Workers        int
	LeaseDuration  time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Retention      time.Duration
	PurgeLockKey   int64
}

// Consumer leases queued envelopes and feeds them to a Handler, one channel
// at a time per channel and many channels in parallel.
type Consumer struct {
	store  storage.QueueStore
	locker storage.AdvisoryLocker
	handle Handler
	opts   Options
	owner  string
	now    func() time.Time
	logger zerolog.Logger

	lastPurge time.Time
}

// NewConsumer wires a consumer. locker may be nil, in which case purges run unguarded.
func NewConsumer(store storage.QueueStore, locker storage.AdvisoryLocker, handle Handler, opts Options, logger zerolog.Logger) *Consumer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 2 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 2 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 5 * time.Minute
	}

	owner := uuid.NewString()
	return &Consumer{
		store:  store,
		locker: locker,
		handle: handle,
		opts:   opts,
		owner:  owner,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "queue_consumer").Str("owner", owner).Logger(),
	}
}

// Run polls the queue until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	sched := scheduler.New(scheduler.Options{
		Interval:  c.opts.PollInterval,
		Immediate: true,
		Name:      "queue",
	}, c.logger)

	c.logger.Info().Dur("poll_interval", sched.Interval()).Int("workers", c.opts.Workers).Msg("queue consumer started")
	err := sched.Run(ctx, c.Poll)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Poll drains everything currently leasable, then purges old processed rows.
func (c *Consumer) Poll(ctx context.Context, _ time.Time) error {
	for {
		n, err := c.Drain(ctx)
		if err != nil {
			return err
		}
		if n < c.opts.BatchSize || ctx.Err() != nil {
			break
		}
	}
	return c.purge(ctx)
}

// Drain leases one batch and processes it. It returns how many items were leased.
func (c *Consumer) Drain(ctx context.Context) (int, error) {
	items, err := c.store.Lease(ctx, c.owner, c.opts.BatchSize, c.opts.LeaseDuration)
	if err != nil {
		return 0, fmt.Errorf("lease queue items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	p := pool.New().WithMaxGoroutines(c.opts.Workers)
	for _, group := range groupByChannel(items) {
		p.Go(func() {
			c.processGroup(ctx, group)
		})
	}
	p.Wait()
	return len(items), nil
}

func (c *Consumer) processGroup(ctx context.Context, items []storage.QueueItem) {
	for i, item := range items {
		if ctx.Err() != nil {
			c.release(ctx, items[i:])
			return
		}
		if !c.processItem(ctx, item) {
			c.release(ctx, items[i+1:])
			return
		}
	}
}

// processItem reports whether later items of the same channel may proceed.
func (c *Consumer) processItem(ctx context.Context, item storage.QueueItem) bool {
	log := c.logger.With().Int64("queue_id", item.ID).Int64("channel_id", item.ChannelID).Logger()

	msg, err := Decode(item.Payload)
	if err != nil {
		log.Warn().Err(err).Msg("malformed envelope, dead-lettered")
		c.deadLetter(ctx, item, err)
		return true
	}

	if err := c.handle(ctx, msg); err != nil {
		attempts := item.Attempts + 1
		if attempts >= c.opts.MaxAttempts {
			log.Error().Err(err).Int("attempts", attempts).Msg("message failed permanently, dead-lettered")
			c.deadLetter(ctx, item, err)
			return true
		}

		delay := c.retryDelay(attempts)
		if err := c.store.Retry(ctx, item.ID, attempts, c.now().Add(delay), err.Error()); err != nil {
			log.Error().Err(err).Msg("failed to schedule retry")
		}
		metrics.Queue.WithLabelValues("retry").Inc()
		log.Warn().Err(err).Int("attempts", attempts).Dur("delay", delay).Msg("message failed, retry scheduled")
		return false
	}

	if err := c.store.Complete(ctx, item.ID); err != nil {
		log.Error().Err(err).Msg("failed to complete queue item")
		return false
	}
	metrics.Queue.WithLabelValues("done").Inc()
	return true
}

func (c *Consumer) deadLetter(ctx context.Context, item storage.QueueItem, cause error) {
	if err := c.store.DeadLetter(ctx, item.ID, cause.Error()); err != nil {
		c.logger.Error().Err(err).Int64("queue_id", item.ID).Msg("failed to dead-letter queue item")
		return
	}
	metrics.Queue.WithLabelValues("dead").Inc()
}

func (c *Consumer) release(ctx context.Context, items []storage.QueueItem) {
	if len(items) == 0 {
		return
	}
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	// Leases must drop even when ctx is already cancelled.
	if err := c.store.Release(context.WithoutCancel(ctx), ids); err != nil {
		c.logger.Error().Err(err).Int("count", len(ids)).Msg("failed to release queue items")
		return
	}
	metrics.Queue.WithLabelValues("released").Add(float64(len(ids)))
}

// retryDelay replays the exponential policy up to the given attempt.
func (c *Consumer) retryDelay(attempts int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.BackoffInitial
	policy.MaxInterval = c.opts.BackoffMax
	policy.RandomizationFactor = 0
	policy.Reset()

	delay := c.opts.BackoffInitial
	for i := 0; i < attempts; i++ {
		delay = policy.NextBackOff()
	}
	return delay
}

func (c *Consumer) purge(ctx context.Context) error {
	if c.opts.Retention <= 0 {
		return nil
	}
	now := c.now()
	if !c.lastPurge.IsZero() && now.Sub(c.lastPurge) < time.Hour {
		return nil
	}

	unlock, acquired, err := c.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		c.logger.Debug().Msg("purge lock held elsewhere, skipping")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	purged, err := c.store.PurgeDone(ctx, now.Add(-c.opts.Retention))
	if err != nil {
		return fmt.Errorf("purge processed queue items: %w", err)
	}
	c.lastPurge = now
	if purged > 0 {
		c.logger.Info().Int64("purged", purged).Msg("purged processed queue items")
	}
	return nil
}

func (c *Consumer) acquireLock(ctx context.Context) (func(), bool, error) {
	if c.opts.PurgeLockKey == 0 || c.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := c.locker.TryAdvisoryLock(ctx, c.opts.PurgeLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// groupByChannel keeps arrival order inside each channel.
func groupByChannel(items []storage.QueueItem) [][]storage.QueueItem {
	index := make(map[int64]int)
	var groups [][]storage.QueueItem
	for _, item := range items {
		i, ok := index[item.ChannelID]
		if !ok {
			i = len(groups)
			index[item.ChannelID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], item)
	}
	for _, g := range groups {
		sort.Slice(g, func(a, b int) bool { return g[a].ID < g[b].ID })
	}
	return groups
}
