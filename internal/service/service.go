package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"signal-relay/internal/alerting"
	"signal-relay/internal/classify"
	"signal-relay/internal/config"
	"signal-relay/internal/dialect"
	"signal-relay/internal/lifecycle"
	"signal-relay/internal/logging"
	"signal-relay/internal/metrics"
	"signal-relay/internal/signal"
	"signal-relay/internal/storage"
)

// Dispatch is what downstream consumers see for one processed message.
type Dispatch struct {
	Event        signal.Event      `json:"event"`
	Change       signal.ChangeKind `json:"change_kind"`
	ShouldNotify bool              `json:"should_notify"`
	Notified     bool              `json:"notified"`
	Dialect      string            `json:"dialect"`
	Domain       string            `json:"domain"`
}

// Broadcaster publishes dispatches to live subscribers.
type Broadcaster interface {
	Broadcast(v any) error
}

// Executor hands new signals to trade execution.
type Executor interface {
	Wants(route dialect.Route) bool
	Fire(event signal.Event, route dialect.Route, dialectName string)
}

// Service orchestrates classification, persistence, notification and execution.
type Service struct {
	classifier *classify.Classifier
	gate       *lifecycle.Gate
	orders     storage.OrderStore
	notifier   alerting.Notifier
	executor   Executor
	stream     Broadcaster
	logger     zerolog.Logger

	alertsOn     bool
	defaultChat  string
	destinations map[string]string
}

// Deps groups the collaborators of a Service. Notifier, Executor and Stream are optional.
type Deps struct {
	Classifier *classify.Classifier
	Messages   storage.MessageStore
	Orders     storage.OrderStore
	Notifier   alerting.Notifier
	Executor   Executor
	Stream     Broadcaster
}

// New constructs the relay service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	destinations := make(map[string]string, len(cfg.Alerting.Telegram.Destinations))
	for domain, chat := range cfg.Alerting.Telegram.Destinations {
		destinations[strings.ToLower(domain)] = chat
	}

	return &Service{
		classifier:   deps.Classifier,
		gate:         lifecycle.NewGate(deps.Messages, deps.Orders, logger),
		orders:       deps.Orders,
		notifier:     deps.Notifier,
		executor:     deps.Executor,
		stream:       deps.Stream,
		logger:       logger.With().Str("component", "service").Logger(),
		alertsOn:     cfg.Alerting.Enabled && deps.Notifier != nil,
		defaultChat:  cfg.Alerting.Telegram.DefaultChatID,
		destinations: destinations,
	}
}

// Process runs one message through the pipeline. The boolean is false when
// the channel has no route; such messages are dropped without error.
func (s *Service) Process(ctx context.Context, msg signal.RawMessage) (Dispatch, bool, error) {
	event, binding, ok := s.classifier.Classify(msg)
	if !ok {
		metrics.Unroutable.Inc()
		dropLog := logging.Message(s.logger.With(), msg).Logger()
		dropLog.Debug().Msg("no route for channel, message dropped")
		return Dispatch{}, false, nil
	}

	dialectName := binding.Dialect.Name()
	metrics.Classified.WithLabelValues(dialectName, string(event.Action)).Inc()
	log := logging.Event(logging.Message(s.logger.With(), msg), event, dialectName).Logger()

	decision, err := s.gate.Apply(ctx, msg, event, dialectName)
	if err != nil {
		return Dispatch{}, true, fmt.Errorf("apply lifecycle: %w", err)
	}
	if decision.Repeat {
		metrics.Suppressed.WithLabelValues(string(event.Action)).Inc()
	}

	dispatch := Dispatch{
		Event:        event,
		Change:       msg.ChangeKind,
		ShouldNotify: decision.ShouldNotify,
		Dialect:      dialectName,
		Domain:       domainOf(binding.Route, msg),
	}

	if event.Action == signal.ActionNewSignal && decision.OrderCreated && s.executor != nil && s.executor.Wants(binding.Route) {
		s.executor.Fire(event, binding.Route, dialectName)
	}

	if decision.ShouldNotify && s.alertsOn {
		if err := s.notify(ctx, binding.Route, dispatch, decision.Order); err != nil {
			metrics.Notifications.WithLabelValues(string(event.Action), "failed").Inc()
			return dispatch, true, fmt.Errorf("notify: %w", err)
		}
		metrics.Notifications.WithLabelValues(string(event.Action), "sent").Inc()
		dispatch.Notified = true
	}

	if s.stream != nil {
		if err := s.stream.Broadcast(dispatch); err != nil {
			log.Error().Err(err).Msg("failed to broadcast dispatch")
		}
	}

	log.Debug().Bool("notify", dispatch.ShouldNotify).Bool("notified", dispatch.Notified).Msg("message processed")
	return dispatch, true, nil
}

func (s *Service) notify(ctx context.Context, route dialect.Route, dispatch Dispatch, order *storage.Order) error {
	chatID := s.destination(route, dispatch.Domain)
	if chatID == "" {
		s.logger.Warn().Int64("channel_id", route.ChannelID).Str("domain", dispatch.Domain).Msg("no destination chat, notification skipped")
		return nil
	}

	note := alerting.Notification{
		ChatID:  chatID,
		Event:   dispatch.Event,
		Source:  route.Name,
		Dialect: dispatch.Dialect,
	}
	if dispatch.Event.Action != signal.ActionNewSignal && order != nil && order.OutboundChatID == chatID {
		note.ReplyTo = order.OutboundMessageID
	}

	delivery, err := s.notifier.Notify(ctx, note)
	if err != nil {
		return err
	}

	if dispatch.Event.Action == signal.ActionNewSignal && delivery.MessageID != 0 {
		err := s.orders.SetOutboundRef(ctx, dispatch.Event.OrderID, delivery.ChatID, delivery.MessageID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error().Err(err).Str("order_id", dispatch.Event.OrderID).Msg("failed to store outbound reference")
		}
	}
	return nil
}

func (s *Service) destination(route dialect.Route, domain string) string {
	if route.Destination != "" {
		return route.Destination
	}
	if chat, ok := s.destinations[domain]; ok {
		return chat
	}
	return s.defaultChat
}

func domainOf(route dialect.Route, msg signal.RawMessage) string {
	if route.Domain != "" {
		return route.Domain
	}
	return strings.ToLower(strings.TrimSpace(msg.DomainTag))
}
