// Package queue carries ingestion records from the HTTP edge to the pipeline.
package queue

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"signal-relay/internal/signal"
)

// ErrMalformedEnvelope marks payloads that can never be processed.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the wire form of one ingested chat message.
type Envelope struct {
	ChannelID        *int64  `json:"channel_id"`
	MessageID        *int64  `json:"message_id"`
	ReplyToMessageID *int64  `json:"reply_to_message_id"`
	MessageDate      string  `json:"message_date"`
	Text             *string `json:"text"`
	ChangeKind       string  `json:"change_kind"`
	DomainTag        string  `json:"domain_tag"`
}

// Decode parses and validates an envelope.
func Decode(payload []byte) (signal.RawMessage, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return signal.RawMessage{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return env.Message()
}

// Message converts the envelope to a RawMessage.
func (e Envelope) Message() (signal.RawMessage, error) {
	if e.ChannelID == nil || *e.ChannelID == 0 {
		return signal.RawMessage{}, fmt.Errorf("%w: channel_id is required", ErrMalformedEnvelope)
	}
	if e.MessageID == nil {
		return signal.RawMessage{}, fmt.Errorf("%w: message_id is required", ErrMalformedEnvelope)
	}

	kind, err := signal.ParseChangeKind(e.ChangeKind)
	if err != nil {
		return signal.RawMessage{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	msg := signal.RawMessage{
		ChannelID:  *e.ChannelID,
		MessageID:  *e.MessageID,
		ChangeKind: kind,
		DomainTag:  e.DomainTag,
	}
	if e.Text != nil {
		msg.Text = *e.Text
	} else if kind != signal.ChangeDeleted {
		return signal.RawMessage{}, fmt.Errorf("%w: text is required", ErrMalformedEnvelope)
	}
	if e.ReplyToMessageID != nil && *e.ReplyToMessageID != 0 {
		reply := *e.ReplyToMessageID
		msg.ReplyToMessageID = &reply
	}
	if e.MessageDate != "" {
		ts, err := parseMessageDate(e.MessageDate)
		if err != nil {
			return signal.RawMessage{}, fmt.Errorf("%w: message_date: %v", ErrMalformedEnvelope, err)
		}
		msg.Timestamp = ts
	}
	return msg, nil
}

// dateLayouts are the ISO-8601 forms accepted for message_date. Layouts
// without a zone are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999",
}

func parseMessageDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", value)
}

// ChannelOf extracts only the channel id, for partitioning before full validation.
func ChannelOf(payload []byte) (int64, error) {
	var head struct {
		ChannelID *int64 `json:"channel_id"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if head.ChannelID == nil || *head.ChannelID == 0 {
		return 0, fmt.Errorf("%w: channel_id is required", ErrMalformedEnvelope)
	}
	return *head.ChannelID, nil
}

// Encode renders a RawMessage as an envelope.
func Encode(msg signal.RawMessage) ([]byte, error) {
	channel, message := msg.ChannelID, msg.MessageID
	text := msg.Text
	env := Envelope{
		ChannelID:        &channel,
		MessageID:        &message,
		ReplyToMessageID: msg.ReplyToMessageID,
		Text:             &text,
		ChangeKind:       string(msg.ChangeKind),
		DomainTag:        msg.DomainTag,
	}
	if !msg.Timestamp.IsZero() {
		env.MessageDate = msg.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(env)
}
