// debugbar runs a demo server instrumented with the debug bar, and fetches
// stored dumps and late logs from running instances.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

func main() {
	var (
		ctx    = context.Background()
		stdout = os.Stdout
		stderr = os.Stderr
		args   = os.Args[1:]
	)
	err := exec(ctx, stdout, stderr, args)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &(run.SignalError{})):
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func exec(ctx context.Context, stdout, stderr io.Writer, args []string) (err error) {
	rootConfig := &rootConfig{
		stdout: stdout,
		stderr: stderr,
	}

	rootFlags := ff.NewFlagSet("debugbar")
	rootConfig.register(rootFlags)

	rootCommand := &ff.Command{
		Name:      "debugbar",
		ShortHelp: "debug bar demo server and client",
		Flags:     rootFlags,
	}

	// Config for `debugbar serve`.
	serveConfig := &serveConfig{rootConfig: rootConfig}
	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	serveConfig.register(serveFlags)
	serveCommand := &ff.Command{
		Name:      "serve",
		ShortHelp: "run a demo web server with the debug bar enabled",
		Flags:     serveFlags,
		Exec:      serveConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, serveCommand)

	// Config for `debugbar fetch`.
	fetchConfig := &fetchConfig{rootConfig: rootConfig}
	fetchFlags := ff.NewFlagSet("fetch").SetParent(rootFlags)
	fetchConfig.register(fetchFlags)
	fetchCommand := &ff.Command{
		Name:      "fetch",
		ShortHelp: "fetch a stored dump",
		LongHelp:  "Fetch the full dump identified by --request and --dump from a running instance.",
		Flags:     fetchFlags,
		Exec:      fetchConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, fetchCommand)

	// Config for `debugbar logs`.
	logsConfig := &logsConfig{rootConfig: rootConfig}
	logsFlags := ff.NewFlagSet("logs").SetParent(rootFlags)
	logsConfig.register(logsFlags)
	logsCommand := &ff.Command{
		Name:      "logs",
		ShortHelp: "print late log entries of a request",
		LongHelp:  "Print log entries written after the response of --request. With --follow, keep streaming new entries.",
		Flags:     logsFlags,
		Exec:      logsConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, logsCommand)

	// Print help when appropriate.
	showHelp := true
	defer func() {
		errHelp := errors.Is(err, ff.ErrHelp) || errors.Is(err, ff.ErrNoExec)
		if showHelp || errHelp {
			fmt.Fprintf(stderr, "\n%s\n", ffhelp.Command(rootCommand))
		}
		if errHelp {
			err = nil
		}
	}()

	// Initial parsing.
	if err := rootCommand.Parse(args, ff.WithEnvVarPrefix("DEBUGBAR")); err != nil {
		return err
	}

	// Validation and set-up.
	logger, err := newLogger(rootConfig.logLevel, stderr)
	if err != nil {
		return err
	}
	defer logger.Sync()
	rootConfig.logger = logger

	// Run errors shouldn't show help by default.
	showHelp = false

	// Run the selected command.
	return rootCommand.Run(ctx)
}
