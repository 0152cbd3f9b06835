package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"signal-relay/internal/signal"
)

var (
	classifyChannel   int64
	classifyMessageID int64
	classifyReplyTo   int64
	classifyText      string
	classifyDate      string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify one message and print the resulting event",
	Long:  "Classify one message against the routing table. The text is read from --text or, when omitted, from stdin.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if classifyChannel == 0 {
			return errors.New("--channel is required")
		}

		text := classifyText
		if !cmd.Flags().Changed("text") {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text = strings.TrimRight(string(raw), "\r\n")
		}

		msg := signal.RawMessage{
			ChannelID:  classifyChannel,
			MessageID:  classifyMessageID,
			Text:       text,
			ChangeKind: signal.ChangeNew,
		}
		if classifyReplyTo != 0 {
			reply := classifyReplyTo
			msg.ReplyToMessageID = &reply
		}
		if classifyDate != "" {
			ts, err := time.Parse(time.RFC3339, classifyDate)
			if err != nil {
				return fmt.Errorf("invalid --date value: %w", err)
			}
			msg.Timestamp = ts.UTC()
		}

		return getApp().Classify(msg, cmd.OutOrStdout())
	},
}

func init() {
	classifyCmd.Flags().Int64Var(&classifyChannel, "channel", 0, "Source channel id")
	classifyCmd.Flags().Int64Var(&classifyMessageID, "message-id", 1, "Message id")
	classifyCmd.Flags().Int64Var(&classifyReplyTo, "reply-to", 0, "Id of the message this one replies to")
	classifyCmd.Flags().StringVar(&classifyText, "text", "", "Message text (defaults to stdin)")
	classifyCmd.Flags().StringVar(&classifyDate, "date", "", "Message timestamp (RFC3339)")
}
