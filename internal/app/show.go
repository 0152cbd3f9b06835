package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"signal-relay/internal/storage"
)

// Show prints recent orders, or dead-lettered queue items.
func (a *App) Show(ctx context.Context, opts ShowOptions, out io.Writer) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show orders")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.DeadLetters {
		items, err := store.ListDeadLetters(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return writeDeadLetters(out, items)
	}

	orders, err := store.ListRecentOrders(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeOrders(out, orders)
}

func writeOrders(out io.Writer, orders []storage.Order) error {
	if len(orders) == 0 {
		_, err := fmt.Fprintln(out, "no orders found")
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tOrder\tPair\tSide\tKind\tEntry\tSL\tTP\tStatus\tUpdated (UTC)")
	for _, order := range orders {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			order.CreatedAt.UTC().Format(time.RFC3339),
			order.OrderID,
			orDash(order.Pair),
			orDash(string(order.Side)),
			orDash(string(order.Kind)),
			formatNullDecimal(order.Entry),
			formatNullDecimal(order.StopLoss),
			joinDecimals(order.TakeProfit, "/"),
			order.Status,
			order.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

func writeDeadLetters(out io.Writer, items []storage.QueueItem) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(out, "no dead letters")
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tChannel\tAttempts\tEnqueued (UTC)\tError\tPayload")
	for _, item := range items {
		fmt.Fprintf(
			writer,
			"%d\t%d\t%d\t%s\t%s\t%s\n",
			item.ID,
			item.ChannelID,
			item.Attempts,
			item.EnqueuedAt.UTC().Format(time.RFC3339),
			sanitizeInline(item.LastError),
			truncate(sanitizeInline(string(item.Payload)), 60),
		)
	}
	return writer.Flush()
}

func formatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}

func joinDecimals(values []decimal.Decimal, sep string) string {
	if len(values) == 0 {
		return "-"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.String()
	}
	return strings.Join(parts, sep)
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func truncate(v string, max int) string {
	runes := []rune(v)
	if len(runes) <= max {
		return v
	}
	return string(runes[:max]) + "..."
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
