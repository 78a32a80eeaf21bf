// Command taskmesh runs a task-graph manifest to completion and, on
// request, exposes the run's lifecycle over a websocket event stream.
// Its flag handling and logger setup follow the teacher's cmd/cli/main.go
// and internal/cli/cli.go shape: a thin main that defers to a testable
// run function, flag.FlagSet per subcommand, slog configured from a
// --log-level flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/vk/taskmesh/internal/ctxlog"
	"github.com/vk/taskmesh/internal/events"
	"github.com/vk/taskmesh/internal/gpu"
	"github.com/vk/taskmesh/internal/manifest"
	"github.com/vk/taskmesh/internal/runtime"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(outW io.Writer, args []string) error {
	if len(args) == 0 {
		printUsage(outW)
		return nil
	}

	switch args[0] {
	case "run":
		return runCommand(outW, args[1:])
	case "serve":
		return serveCommand(outW, args[1:])
	case "-h", "-help", "--help":
		printUsage(outW)
		return nil
	default:
		printUsage(outW)
		return fmt.Errorf("taskmesh: unknown command %q", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `
taskmesh - a heterogeneous CPU/GPU task-graph runtime.

Usage:
  taskmesh run <manifest.hcl> [options]
  taskmesh serve [options]

Commands:
  run    Load an HCL manifest, execute its graph to completion, and exit.
  serve  Start only the websocket event-stream server; no graph runs in it,
         so nothing is published. Use --events-addr on "run" to stream a
         run's own events.
`)
}

func newLogger(levelStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(outW, &slog.HandlerOptions{Level: level}))
}

func runCommand(outW io.Writer, args []string) error {
	flagSet := flag.NewFlagSet("taskmesh run", flag.ContinueOnError)
	flagSet.SetOutput(outW)
	flagSet.Usage = func() {
		fmt.Fprint(outW, "Usage: taskmesh run <manifest.hcl> [options]\n\n")
		flagSet.PrintDefaults()
	}
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 4, "Number of CPU pool worker goroutines.")
	eventsAddrFlag := flagSet.String("events-addr", "", "If set, serve the websocket event stream on this address while the graph runs.")

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() < 1 {
		flagSet.Usage()
		return fmt.Errorf("taskmesh run: missing manifest path")
	}
	manifestPath := flagSet.Arg(0)

	logger := newLogger(*logLevelFlag, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)

	g, store, err := manifest.Load(ctx, manifestPath)
	if err != nil {
		return err
	}

	rt, err := runtime.New(ctx, store, *workersFlag)
	if err != nil {
		return err
	}
	defer rt.Close()

	if *eventsAddrFlag != "" {
		broadcaster := events.NewBroadcaster(ctx)
		rt.SetEvents(broadcaster)
		mux := http.NewServeMux()
		mux.HandleFunc("/events", broadcaster.ServeHTTP)
		go func() {
			logger.Info("taskmesh: event stream listening", "address", *eventsAddrFlag)
			if err := http.ListenAndServe(*eventsAddrFlag, mux); err != nil {
				logger.Error("taskmesh: event stream server failed", "error", err)
			}
		}()
	}

	if err := <-rt.CommitGraph(ctx, g, gpu.DefaultDevice()); err != nil {
		return fmt.Errorf("taskmesh run: %w", err)
	}
	logger.Info("taskmesh: graph completed", "tasks", g.Len())
	return nil
}

func serveCommand(outW io.Writer, args []string) error {
	flagSet := flag.NewFlagSet("taskmesh serve", flag.ContinueOnError)
	flagSet.SetOutput(outW)
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	addrFlag := flagSet.String("addr", ":8090", "Address to listen on for websocket event-stream connections.")

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	logger := newLogger(*logLevelFlag, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)

	broadcaster := events.NewBroadcaster(ctx)
	mux := http.NewServeMux()
	mux.HandleFunc("/events", broadcaster.ServeHTTP)

	logger.Info("taskmesh: event stream listening", "address", *addrFlag)
	if err := http.ListenAndServe(*addrFlag, mux); err != nil {
		return fmt.Errorf("taskmesh serve: %w", err)
	}
	return nil
}
