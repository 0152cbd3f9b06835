// Package execution hands new signals to an external order executor.
package execution

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"signal-relay/internal/dialect"
	"signal-relay/internal/metrics"
	"signal-relay/internal/signal"
	"signal-relay/internal/version"
)

// Options configure the webhook trigger.
type Options struct {
	WebhookURL   string
	Channels     []int64
	Domains      []string
	Timeout      time.Duration
	MaxRetries   int
	RetryInitial time.Duration
}

// Payload is the webhook body.
type Payload struct {
	Event   signal.Event `json:"event"`
	Dialect string       `json:"dialect"`
	Domain  string       `json:"domain"`
	Route   string       `json:"route,omitempty"`
}

// Trigger posts NEW_SIGNAL events to the executor without blocking the caller.
type Trigger struct {
	url        string
	client     *http.Client
	channels   map[int64]struct{}
	domains    map[string]struct{}
	maxRetries int
	initial    time.Duration
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewTrigger constructs a Trigger. Close must be called to wait for in-flight calls.
func NewTrigger(opts Options, logger zerolog.Logger) *Trigger {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = time.Second
	}
	channels := make(map[int64]struct{}, len(opts.Channels))
	for _, id := range opts.Channels {
		channels[id] = struct{}{}
	}
	domains := make(map[string]struct{}, len(opts.Domains))
	for _, d := range opts.Domains {
		domains[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Trigger{
		url:        opts.WebhookURL,
		client:     &http.Client{Timeout: opts.Timeout},
		channels:   channels,
		domains:    domains,
		maxRetries: opts.MaxRetries,
		initial:    opts.RetryInitial,
		logger:     logger.With().Str("component", "execution").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Wants reports whether new signals from the route are executed.
func (t *Trigger) Wants(route dialect.Route) bool {
	if t == nil || t.url == "" {
		return false
	}
	if route.Execute {
		return true
	}
	if _, ok := t.channels[route.ChannelID]; ok {
		return true
	}
	_, ok := t.domains[route.Domain]
	return ok
}

// Fire schedules the webhook call and returns immediately.
func (t *Trigger) Fire(event signal.Event, route dialect.Route, dialectName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		t.logger.Warn().Str("order_id", event.OrderID).Msg("trigger closed, execution dropped")
		return
	}

	payload := Payload{Event: event, Dialect: dialectName, Domain: route.Domain, Route: route.Name}
	t.wg.Go(func() {
		if err := t.post(t.ctx, payload); err != nil {
			metrics.Executions.WithLabelValues("failed").Inc()
			t.logger.Error().Err(err).Str("order_id", event.OrderID).Msg("execution webhook failed")
			return
		}
		metrics.Executions.WithLabelValues("sent").Inc()
		t.logger.Info().Str("order_id", event.OrderID).Str("pair", event.Pair).Msg("execution triggered")
	})
}

// Close stops accepting work and waits for in-flight calls. Pending retries are abandoned once ctx ends.
func (t *Trigger) Close(ctx context.Context) {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.cancel()
		<-done
	}
	t.cancel()
}

func (t *Trigger) post(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal execution payload: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.initial
	policy.MaxInterval = 30 * time.Second
	policy.Reset()

	for attempt := 0; ; attempt++ {
		err := t.send(ctx, body)
		if err == nil {
			return nil
		}
		if attempt >= t.maxRetries {
			return err
		}
		sleep := policy.NextBackOff()
		t.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("sleep", sleep).Msg("execution webhook retry")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (t *Trigger) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create execution request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send execution request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("execution webhook status %d", resp.StatusCode)
	}
	return nil
}
