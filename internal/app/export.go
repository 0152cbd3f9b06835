package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"signal-relay/internal/storage"
)

const defaultExportWindow = 30 * 24 * time.Hour

// Export renders orders as CSV and/or a PNG chart of their final statuses.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	orders, err := store.ListOrdersBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		a.Logger.Info().Msg("no orders found for export window")
		return nil
	}

	total := len(orders)
	orders = limitRows(orders, opts.MaxRows)
	a.Logger.Info().Int("total", total).Int("exported", len(orders)).Msg("exporting orders")

	if opts.CSVPath != "" {
		if err := writeOrdersCSV(opts.CSVPath, orders); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeStatusPNG(opts.PNGPath, orders); err != nil {
			return err
		}
	}

	return nil
}

// limitRows keeps the newest max orders of a chronologically sorted slice.
func limitRows(orders []storage.Order, max int) []storage.Order {
	if max <= 0 || len(orders) <= max {
		return orders
	}
	return orders[len(orders)-max:]
}

func writeOrdersCSV(path string, orders []storage.Order) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"order_id", "channel_id", "dialect", "pair", "side", "kind", "entry", "stop_loss", "take_profit", "leverage", "status", "created_at", "updated_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, order := range orders {
		record := []string{
			order.OrderID,
			strconv.FormatInt(order.ChannelID, 10),
			order.Dialect,
			order.Pair,
			string(order.Side),
			string(order.Kind),
			csvDecimal(order.Entry),
			csvDecimal(order.StopLoss),
			csvDecimals(order),
			strconv.Itoa(order.Leverage),
			string(order.Status),
			order.CreatedAt.UTC().Format(time.RFC3339),
			order.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func csvDecimals(order storage.Order) string {
	if len(order.TakeProfit) == 0 {
		return ""
	}
	return joinDecimals(order.TakeProfit, "|")
}

// statusCounts tallies orders per status in a stable order.
func statusCounts(orders []storage.Order) []chart.Value {
	counts := make(map[storage.OrderStatus]int)
	for _, order := range orders {
		counts[order.Status]++
	}

	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	values := make([]chart.Value, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, chart.Value{Label: status, Value: float64(counts[storage.OrderStatus(status)])})
	}
	return values
}

func writeStatusPNG(path string, orders []storage.Order) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	values := statusCounts(orders)
	top := 0.0
	for _, v := range values {
		top = math.Max(top, v.Value)
	}

	graph := chart.BarChart{
		Title:    "Orders by status",
		Width:    1280,
		Height:   720,
		BarWidth: 60,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		YAxis: chart.YAxis{
			// Explicit range so equal bar heights still render.
			Range: &chart.ContinuousRange{Min: 0, Max: top + 1},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Bars: values,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func csvDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
