package app

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"signal-relay/internal/signal"
)

// ClassifyResult is what the classify command prints.
type ClassifyResult struct {
	Dialect string       `json:"dialect"`
	Route   string       `json:"route,omitempty"`
	Event   signal.Event `json:"event"`
}

// Classify runs a single message through the routing table and prints the
// resulting event. Nothing is stored or sent.
func (a *App) Classify(msg signal.RawMessage, out io.Writer) error {
	classifier, err := a.newClassifier()
	if err != nil {
		return err
	}

	event, binding, ok := classifier.Classify(msg)
	if !ok {
		return fmt.Errorf("channel %d has no route", msg.ChannelID)
	}

	body, err := json.MarshalIndent(ClassifyResult{
		Dialect: binding.Dialect.Name(),
		Route:   binding.Route.Name,
		Event:   event,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintln(out, string(body))
	return err
}
