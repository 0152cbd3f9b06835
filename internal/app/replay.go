package app

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"signal-relay/internal/queue"
	"signal-relay/internal/service"
	"signal-relay/internal/signal"
	"signal-relay/internal/storage"
)

// Replay feeds recorded envelopes (one JSON object per line) through the pipeline.
func (a *App) Replay(ctx context.Context, opts ReplayOptions, progress io.Writer) error {
	lines, err := readEnvelopes(opts.Path)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		a.Logger.Info().Str("file", opts.Path).Msg("no envelopes to replay")
		return nil
	}

	classifier, err := a.newClassifier()
	if err != nil {
		return err
	}

	var process func(ctx context.Context, msg signal.RawMessage) (signal.Action, bool, error)
	if opts.DryRun {
		a.Logger.Warn().Msg("回放 dry-run：仅分类，不写入存储也不推送")
		process = func(_ context.Context, msg signal.RawMessage) (signal.Action, bool, error) {
			event, _, ok := classifier.Classify(msg)
			return event.Action, ok, nil
		}
	} else {
		deps := service.Deps{Classifier: classifier}
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if closeStore != nil {
			defer closeStore()
		}
		if store != nil {
			deps.Messages, deps.Orders = store, store
		} else {
			a.Logger.Warn().Msg("database.dsn not configured; replay results are kept in memory only")
			memory := storage.NewMemoryStore()
			deps.Messages, deps.Orders = memory, memory
		}
		if opts.Notify {
			deps.Notifier = a.newNotifier()
		}
		svc := service.New(a.Config, deps, a.Logger)
		process = func(ctx context.Context, msg signal.RawMessage) (signal.Action, bool, error) {
			dispatch, ok, err := svc.Process(ctx, msg)
			return dispatch.Event.Action, ok, err
		}
	}

	bar := progressbar.NewOptions(len(lines),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("replaying"),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(progress)
		}),
	)

	counts := make(map[signal.Action]int)
	unrouted, failed := 0, 0
	for i, line := range lines {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := queue.Decode(line)
		if err == nil {
			var action signal.Action
			var routed bool
			action, routed, err = process(ctx, msg)
			switch {
			case err != nil:
			case !routed:
				unrouted++
			default:
				counts[action]++
			}
		}
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Int("line", i+1).Msg("回放失败")
		}
		_ = bar.Add(1)
	}

	event := a.Logger.Info().Int("total", len(lines)).Int("unrouted", unrouted).Int("failed", failed)
	for action, n := range counts {
		event = event.Int(string(action), n)
	}
	event.Msg("回放完成")

	if failed > 0 {
		return errors.New("部分消息回放失败，请检查日志")
	}
	return nil
}

func readEnvelopes(path string) ([][]byte, error) {
	if path == "" {
		return nil, errors.New("--file is required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer file.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	return lines, nil
}
