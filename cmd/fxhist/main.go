// Command fxhist cleans vendor FX minute bars, fills gaps from the tick
// archive, applies session QC and bulk-loads the result.
//
// Usage:
//
//	fxhist <command> [options]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"fxhist/internal/domain"
	"fxhist/internal/util"
)

const version = "0.3.0"

type command struct {
	name string
	help string
	run  func(ctx context.Context, args []string, out io.Writer) error
}

var commands = []command{
	{"merge", "Merge vendor CSVs into one UTC series", runMerge},
	{"gaps", "Report gap runs of a series", runGaps},
	{"backfill", "Impute small gaps and backfill from the tick archive", runBackfill},
	{"sessions", "Tag or filter session minutes (DST-aware)", runSessions},
	{"load", "Load a series into a store", runLoad},
	{"run", "Run the multi-symbol batch from a YAML config", runBatch},
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: fxhist <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", c.name, c.help)
	}
	fmt.Fprintf(os.Stderr, "  %-10s %s\n", "version", "Print the CLI version")
	fmt.Fprintf(os.Stderr, "\nRun 'fxhist <command> -h' for command options.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	util.SetDefault(util.NewLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Getenv("LOG_FILE")))

	name := os.Args[1]
	if name == "version" {
		fmt.Printf("fxhist %s\n", version)
		return
	}
	if name == "help" || name == "-h" || name == "--help" {
		usage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, c := range commands {
		if c.name != name {
			continue
		}
		err := c.run(ctx, os.Args[2:], os.Stdout)
		stop()
		os.Exit(exitCode(err))
	}

	fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", name)
	usage()
	os.Exit(2)
}

// exitCode maps a command error to the process exit status: 2 for usage and
// configuration problems, 1 for everything else.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, domain.ErrConfig):
		slog.Error("configuration error", "error", err)
		return 2
	default:
		slog.Error("command failed", "error", err)
		return 1
	}
}
