package main

import (
	"context"
	"fmt"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"go.uber.org/zap"
)

type fetchConfig struct {
	*rootConfig

	requestID string
	dumpID    string
	text      bool
}

func (cfg *fetchConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'r', LongName: "request" /* */, Value: ffval.NewValue(&cfg.requestID) /* */, Usage: "request ID, from the X-Debugbar-Request header", Placeholder: "ID"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'd', LongName: "dump" /*    */, Value: ffval.NewValue(&cfg.dumpID) /*    */, Usage: "dump ID", Placeholder: "ID"})
	fs.AddFlag(ff.FlagConfig{ShortName: 't', LongName: "text" /*    */, Value: ffval.NewValue(&cfg.text) /*      */, Usage: "print a one-line text rendering rather than JSON", NoDefault: true})
}

func (cfg *fetchConfig) Exec(ctx context.Context, args []string) error {
	if err := requireFlag("request", cfg.requestID); err != nil {
		return err
	}
	if err := requireFlag("dump", cfg.dumpID); err != nil {
		return err
	}

	cfg.logger.Debug("fetch dump", zap.String("uri", cfg.uri), zap.String("request_id", cfg.requestID), zap.String("dump_id", cfg.dumpID))

	n, err := cfg.client().Dump(ctx, cfg.requestID, cfg.dumpID)
	if err != nil {
		return fmt.Errorf("fetch dump: %w", err)
	}

	if cfg.text {
		_, err := fmt.Fprintln(cfg.stdout, n.Text())
		return err
	}

	return cfg.print(n)
}
