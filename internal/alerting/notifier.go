package alerting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"signal-relay/internal/signal"
	"signal-relay/internal/version"
)

// Notification 封装一次信号转发的上下文。
type Notification struct {
	ChatID  string
	ReplyTo int64
	Event   signal.Event
	Source  string
	Dialect string
}

// Delivery identifies the message the chat platform created.
type Delivery struct {
	ChatID    string
	MessageID int64
}

// Notifier 定义信号推送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) (Delivery, error)
}

// TelegramOptions tune delivery.
type TelegramOptions struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	MaxRetries    int
	// RetryInitial overrides the first backoff interval.
	RetryInitial time.Duration
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken   string
	baseURL    string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	initial    time.Duration
	logger     zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 推送器。
func NewTelegramNotifier(botToken string, opts TelegramOptions, logger zerolog.Logger) *TelegramNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.telegram.org"
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 500 * time.Millisecond
	}

	return &TelegramNotifier{
		botToken:   botToken,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		client:     &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: opts.MaxRetries,
		initial:    opts.RetryInitial,
		logger:     logger.With().Str("component", "alert_telegram").Logger(),
	}
}

type sendMessageRequest struct {
	ChatID                   string `json:"chat_id"`
	Text                     string `json:"text"`
	ReplyToMessageID         int64  `json:"reply_to_message_id,omitempty"`
	AllowSendingWithoutReply bool   `json:"allow_sending_without_reply,omitempty"`
	DisableWebPagePreview    bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Parameters struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// apiError is a Telegram rejection. Only 429 and 5xx are retried.
type apiError struct {
	status     int
	desc       string
	retryAfter time.Duration
}

func (e *apiError) Error() string {
	if e.desc != "" {
		return fmt.Sprintf("telegram 响应码异常: %d (%s)", e.status, e.desc)
	}
	return fmt.Sprintf("telegram 响应码异常: %d", e.status)
}

func (e *apiError) temporary() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

// Notify 调用 sendMessage API 推送文本，失败时按指数退避重试。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) (Delivery, error) {
	if note.ChatID == "" {
		return Delivery{}, fmt.Errorf("telegram chat id is empty")
	}

	payload := sendMessageRequest{
		ChatID:                note.ChatID,
		Text:                  Render(note),
		DisableWebPagePreview: true,
	}
	if note.ReplyTo != 0 {
		payload.ReplyToMessageID = note.ReplyTo
		payload.AllowSendingWithoutReply = true
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Delivery{}, fmt.Errorf("marshal telegram payload: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = n.initial
	policy.MaxInterval = 30 * time.Second
	policy.Reset()

	for attempt := 0; ; attempt++ {
		if err := n.limiter.Wait(ctx); err != nil {
			return Delivery{}, fmt.Errorf("wait telegram limiter: %w", err)
		}

		messageID, err := n.send(ctx, body)
		if err == nil {
			n.logger.Info().
				Str("chat_id", note.ChatID).
				Int64("message_id", messageID).
				Str("action", string(note.Event.Action)).
				Str("order_id", note.Event.OrderID).
				Msg("信号已转发 (Telegram)")
			return Delivery{ChatID: note.ChatID, MessageID: messageID}, nil
		}

		var apiErr *apiError
		retryable := !errors.As(err, &apiErr) || apiErr.temporary()
		if !retryable || attempt >= n.maxRetries {
			return Delivery{}, err
		}

		sleep := policy.NextBackOff()
		if apiErr != nil && apiErr.retryAfter > sleep {
			sleep = apiErr.retryAfter
		}
		n.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("sleep", sleep).Msg("telegram send failed, retrying")

		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (n *TelegramNotifier) send(ctx context.Context, body []byte) (int64, error) {
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	var result sendMessageResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &apiError{
			status:     resp.StatusCode,
			desc:       result.Description,
			retryAfter: time.Duration(result.Parameters.RetryAfter) * time.Second,
		}
	}
	if decodeErr != nil {
		return 0, fmt.Errorf("decode telegram response: %w", decodeErr)
	}
	if !result.OK {
		return 0, &apiError{status: resp.StatusCode, desc: "telegram 返回 ok=false"}
	}
	return result.Result.MessageID, nil
}

var _ Notifier = (*TelegramNotifier)(nil)
