// Package classify routes a raw message to its dialect and stamps the order id.
package classify

import (
	"signal-relay/internal/dialect"
	"signal-relay/internal/identity"
	"signal-relay/internal/signal"
)

// Classifier is safe for concurrent use.
type Classifier struct {
	registry *dialect.Registry
}

// New returns a classifier over the given routing table.
func New(registry *dialect.Registry) *Classifier {
	return &Classifier{registry: registry}
}

// Registry exposes the routing table.
func (c *Classifier) Registry() *dialect.Registry {
	return c.registry
}

// Classify returns the event for msg and the binding that produced it.
// The boolean is false when no route exists for the channel.
func (c *Classifier) Classify(msg signal.RawMessage) (signal.Event, dialect.Binding, bool) {
	binding, ok := c.registry.Resolve(msg.ChannelID)
	if !ok {
		return signal.Other(msg), dialect.Binding{}, false
	}
	return Apply(binding.Dialect, msg), binding, true
}

// Apply classifies msg with a specific dialect.
func Apply(d *dialect.Dialect, msg signal.RawMessage) signal.Event {
	event := signal.Other(msg)
	if d == nil {
		return event
	}

	result := d.Classify(msg.Text, msg.HasReply())
	switch {
	case result.Action == signal.ActionNewSignal:
		event = event.WithEntry(result.Entry)
	case result.Action.IsOutcome():
		event = event.WithOutcome(result.Action, result.Outcome)
	default:
		return event
	}

	event.OrderID = identity.Resolve(msg, result.Action, result.Ref(), d.IDPrefix())
	if event.OrderID == "" {
		return signal.Other(msg)
	}
	return event
}
