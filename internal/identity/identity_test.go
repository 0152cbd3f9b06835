package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"signal-relay/internal/signal"
)

func reply(id int64) *int64 { return &id }

func TestResolve(t *testing.T) {
	const channel = int64(-1001150362511)

	cases := map[string]struct {
		msg    signal.RawMessage
		action signal.Action
		ref    string
		prefix string
		want   string
	}{
		"entry uses own id": {
			msg:    signal.RawMessage{ChannelID: channel, MessageID: 111},
			action: signal.ActionNewSignal,
			want:   "-1001150362511_111",
		},
		"outcome uses parent id": {
			msg:    signal.RawMessage{ChannelID: channel, MessageID: 150, ReplyToMessageID: reply(111)},
			action: signal.ActionTPHit,
			want:   "-1001150362511_111",
		},
		"outcome without reply is unattributed": {
			msg:    signal.RawMessage{ChannelID: channel, MessageID: 150},
			action: signal.ActionSLHit,
			want:   "",
		},
		"other is unattributed": {
			msg:    signal.RawMessage{ChannelID: channel, MessageID: 150, ReplyToMessageID: reply(111)},
			action: signal.ActionOther,
			want:   "",
		},
		"body keyed entry": {
			msg:    signal.RawMessage{ChannelID: -100200, MessageID: 9},
			action: signal.ActionNewSignal,
			ref:    "987654321",
			prefix: "lord",
			want:   "lord:-100200_987654321",
		},
		"body keyed outcome ignores reply": {
			msg:    signal.RawMessage{ChannelID: -100200, MessageID: 15, ReplyToMessageID: reply(3)},
			action: signal.ActionCancelled,
			ref:    "987654321",
			prefix: "lord",
			want:   "lord:-100200_987654321",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Resolve(tc.msg, tc.action, tc.ref, tc.prefix))
		})
	}
}

func TestEntryAndReplyAgree(t *testing.T) {
	entry := signal.RawMessage{ChannelID: 7, MessageID: 42}
	outcome := signal.RawMessage{ChannelID: 7, MessageID: 43, ReplyToMessageID: reply(42)}

	id := Resolve(entry, signal.ActionNewSignal, "", "")
	for _, action := range []signal.Action{signal.ActionTPHit, signal.ActionSLHit, signal.ActionCancelled, signal.ActionBreakeven} {
		assert.Equal(t, id, Resolve(outcome, action, "", ""), action)
	}
}

func TestResolveIsStable(t *testing.T) {
	msg := signal.RawMessage{ChannelID: 5, MessageID: 6}
	first := Resolve(msg, signal.ActionNewSignal, "", "")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Resolve(msg, signal.ActionNewSignal, "", ""))
	}
}
