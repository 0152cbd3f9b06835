// Package identity derives order ids from message coordinates.
package identity

import (
	"strconv"

	"signal-relay/internal/signal"
)

// Key joins a channel id and a message (or embedded) id.
func Key(channelID int64, id string) string {
	return strconv.FormatInt(channelID, 10) + "_" + id
}

// MessageKey is Key for a numeric message id.
func MessageKey(channelID, messageID int64) string {
	return Key(channelID, strconv.FormatInt(messageID, 10))
}

// Resolve returns the order id for a classified message, or "" when the
// message cannot be attributed. ref is the id embedded in the body by
// body-keyed dialects and prefix tags those ids.
func Resolve(msg signal.RawMessage, action signal.Action, ref, prefix string) string {
	if action == signal.ActionOther {
		return ""
	}
	if ref != "" {
		id := Key(msg.ChannelID, ref)
		if prefix != "" {
			id = prefix + ":" + id
		}
		return id
	}
	if action == signal.ActionNewSignal {
		return MessageKey(msg.ChannelID, msg.MessageID)
	}
	if !msg.HasReply() {
		return ""
	}
	return MessageKey(msg.ChannelID, *msg.ReplyToMessageID)
}
