package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"signal-relay/internal/signal"
)

// Render formats the notification text for an event.
func Render(note Notification) string {
	e := note.Event
	b := strings.Builder{}

	switch e.Action {
	case signal.ActionNewSignal:
		b.WriteString(fmt.Sprintf("%s %s %s", sideMarker(e.Side), e.Pair, e.Side))
		if e.Kind != "" && e.Kind != signal.KindMarket {
			b.WriteString(fmt.Sprintf(" (%s)", e.Kind))
		}
		b.WriteString("\n")
		writePrice(&b, "Entry", e.EntryPrice)
		writePrice(&b, "SL", e.StopLoss)
		for i, tp := range e.TakeProfit {
			b.WriteString(fmt.Sprintf("TP%d: %s\n", i+1, tp.String()))
		}
		if e.Leverage > 1 {
			b.WriteString(fmt.Sprintf("Leverage: %dx\n", e.Leverage))
		}
	case signal.ActionTPHit:
		b.WriteString(fmt.Sprintf("✅ TP%d hit", max(e.TPLevel, 1)))
		writeOutcomeDetails(&b, e)
	case signal.ActionSLHit:
		b.WriteString("❌ Stop loss hit")
		writeOutcomeDetails(&b, e)
	case signal.ActionCancelled:
		b.WriteString("🚫 Order cancelled\n")
	case signal.ActionInProfitUpdate:
		b.WriteString("📈 Running in profit")
		writeOutcomeDetails(&b, e)
	case signal.ActionClosed:
		b.WriteString("📥 Position closed")
		writeOutcomeDetails(&b, e)
	case signal.ActionBreakeven:
		b.WriteString("🔒 Move stop loss to breakeven\n")
	default:
		b.WriteString(string(e.Action))
		b.WriteString("\n")
	}

	if note.Source != "" {
		b.WriteString(fmt.Sprintf("Source: %s\n", note.Source))
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeOutcomeDetails(b *strings.Builder, e signal.Event) {
	if e.Pair != "" {
		b.WriteString(" " + e.Pair)
	}
	if e.Pips != nil {
		b.WriteString(fmt.Sprintf(" (%+d pips)", *e.Pips))
	}
	b.WriteString("\n")
	if e.ProfitPercent.Valid {
		b.WriteString(fmt.Sprintf("Result: %s%%\n", signedDecimal(e.ProfitPercent.Decimal)))
	}
	writePrice(b, "Exit", e.ExitPrice)
}

func writePrice(b *strings.Builder, label string, v decimal.NullDecimal) {
	if v.Valid {
		b.WriteString(fmt.Sprintf("%s: %s\n", label, v.Decimal.String()))
	}
}

func signedDecimal(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.String()
	}
	return d.String()
}

func sideMarker(side signal.Side) string {
	if side == signal.SideSell {
		return "🔴"
	}
	return "🟢"
}
