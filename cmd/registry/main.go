// Command registry manages the simulator's sensor-id cache.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"substation-sim/internal/config"
	"substation-sim/internal/logging"
	"substation-sim/internal/registry"
)

const appName = "substation-registry"

var version = "dev"

const usage = `usage: %s <command>
  migrate  apply pending schema migrations
  list     print cached sensor ids
  resolve  fetch ids from SENSOR_LOOKUP_URL and cache them
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger, closeLog := logging.New(cfg, version, appName)
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], cfg, logger, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		stop()
		_ = closeLog()
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	switch command {
	case "migrate", "list", "resolve":
	default:
		return fmt.Errorf("unknown command")
	}

	db, err := registry.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Close(db); err != nil {
			logger.Error("db close", "error", err)
		}
	}()
	store := registry.NewStore(db)

	switch command {
	case "migrate":
		fmt.Fprintln(out, "migrations applied")
		return nil
	case "resolve":
		if cfg.SensorLookupURL == "" {
			return fmt.Errorf("SENSOR_LOOKUP_URL is not set")
		}
		r := &registry.Resolver{URL: cfg.SensorLookupURL, Store: store, Logger: logger}
		if _, src, err := r.Resolve(ctx, cfg.Sensors); src != registry.SourceCollector {
			return fmt.Errorf("collector lookup failed: %w", err)
		}
	}
	return printEntries(ctx, store, out)
}

func printEntries(ctx context.Context, store *registry.Store, out io.Writer) error {
	entries, err := store.Load(ctx)
	if err != nil {
		return err
	}
	locs := make([]int, 0, len(entries))
	for loc := range entries {
		locs = append(locs, loc)
	}
	sort.Ints(locs)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCATION\tSENSOR\tNAME\tUPDATED")
	for _, loc := range locs {
		e := entries[loc]
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", e.LocationID, e.SensorID, e.Name, e.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}
