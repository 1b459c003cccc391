package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/peterbourgon/debugbar"
	"github.com/peterbourgon/debugbar/dbglog"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"go.uber.org/zap"
)

type logsConfig struct {
	*rootConfig

	requestID string
	follow    bool
	retry     time.Duration
}

func (cfg *logsConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'r', LongName: "request" /*        */, Value: ffval.NewValue(&cfg.requestID) /*                */, Usage: "request ID, from the X-Debugbar-Request header", Placeholder: "ID"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'f', LongName: "follow" /*         */, Value: ffval.NewValue(&cfg.follow) /*                   */, Usage: "stream new entries as they're written", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "retry-interval" /* */, Value: ffval.NewValueDefault(&cfg.retry, time.Second) /* */, Usage: "stream reconnect interval"})
}

func (cfg *logsConfig) Exec(ctx context.Context, args []string) error {
	if err := requireFlag("request", cfg.requestID); err != nil {
		return err
	}

	client := cfg.client()

	if !cfg.follow {
		entries, err := client.Logs(ctx, cfg.requestID)
		if errors.Is(err, debugbar.ErrNotFound) {
			cfg.logger.Info("no late log entries", zap.String("request_id", cfg.requestID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch logs: %w", err)
		}
		for _, e := range entries {
			if err := cfg.print(e); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		entries = make(chan dbglog.Entry, 100)
		errc    = make(chan error, 1)
	)
	go func() { errc <- client.Stream(ctx, cfg.requestID, cfg.retry, entries) }()

	cfg.logger.Debug("following late logs", zap.String("uri", cfg.uri), zap.String("request_id", cfg.requestID))

	for {
		select {
		case e := <-entries:
			if err := cfg.print(e); err != nil {
				return err
			}
		case err := <-errc:
			return err
		}
	}
}
