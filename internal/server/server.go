// Package server exposes the relay's HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"signal-relay/internal/metrics"
	"signal-relay/internal/queue"
	"signal-relay/internal/service"
	"signal-relay/internal/signal"
)

const (
	messagesPath = "/v1/messages"
	streamPath   = "/v1/stream"
	metricsPath  = "/metrics"
	healthPath   = "/healthz"
)

// Enqueuer persists accepted envelopes for the consumer.
type Enqueuer interface {
	Enqueue(ctx context.Context, channelID int64, payload []byte) (int64, error)
}

// Processor handles a message synchronously when no queue is configured.
type Processor interface {
	Process(ctx context.Context, msg signal.RawMessage) (service.Dispatch, bool, error)
}

// Pinger checks backing storage for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configure the handler.
type Options struct {
	MaxBodyBytes int64
	// Queue switches ingest to asynchronous mode. Processor is used when it is nil.
	Queue     Enqueuer
	Processor Processor
	Stream    http.Handler
	Health    Pinger
}

type handler struct {
	opts   Options
	logger zerolog.Logger
}

// IngestResponse is the body of a successful POST /v1/messages.
type IngestResponse struct {
	Status   string            `json:"status"`
	QueueID  int64             `json:"queue_id,omitempty"`
	Routed   *bool             `json:"routed,omitempty"`
	Dispatch *service.Dispatch `json:"dispatch,omitempty"`
}

// NewHandler builds the HTTP mux.
func NewHandler(opts Options, logger zerolog.Logger) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 10
	}
	h := &handler{opts: opts, logger: logger.With().Str("component", "http").Logger()}

	mux := http.NewServeMux()
	mux.HandleFunc(messagesPath, h.messages)
	mux.HandleFunc(healthPath, h.health)
	mux.Handle(metricsPath, metrics.Handler())
	if opts.Stream != nil {
		mux.Handle(streamPath, opts.Stream)
	}
	return mux
}

// New wraps the handler in an http.Server.
func New(addr string, readHeaderTimeout time.Duration, handler http.Handler) *http.Server {
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 5 * time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func (h *handler) messages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}

	channelID, err := queue.ChannelOf(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.opts.Queue != nil {
		id, err := h.opts.Queue.Enqueue(r.Context(), channelID, payload)
		if err != nil {
			h.logger.Error().Err(err).Int64("channel_id", channelID).Msg("failed to enqueue message")
			writeError(w, http.StatusServiceUnavailable, "enqueue failed")
			return
		}
		writeJSON(w, http.StatusAccepted, IngestResponse{Status: "queued", QueueID: id})
		return
	}

	if h.opts.Processor == nil {
		writeError(w, http.StatusServiceUnavailable, "ingest not configured")
		return
	}

	msg, err := queue.Decode(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dispatch, routed, err := h.opts.Processor.Process(r.Context(), msg)
	if err != nil {
		h.logger.Error().Err(err).Int64("channel_id", msg.ChannelID).Int64("message_id", msg.MessageID).Msg("direct processing failed")
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	resp := IngestResponse{Status: "processed", Routed: &routed}
	if routed {
		resp.Dispatch = &dispatch
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.Health.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}
