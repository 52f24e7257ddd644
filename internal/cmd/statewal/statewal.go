// Package statewal implements the journal inspection command.
package statewal

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/louisbranch/statewal/internal/platform/config"
	"github.com/louisbranch/statewal/internal/platform/version"
	"github.com/louisbranch/statewal/internal/storage"
	"github.com/louisbranch/statewal/internal/storage/sqlite"
)

// Config holds statewal command configuration.
type Config struct {
	DBPath string `env:"STATEWAL_DB" envDefault:"state.db"`

	From        int64
	To          int64
	Limit       int64
	Offset      int64
	ShowVersion bool

	// Command is the positional subcommand: info, changes, events,
	// snapshots, or runs.
	Command string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the journal database file")
	fs.Int64Var(&cfg.From, "from", 0, "first state change position to print (changes)")
	fs.Int64Var(&cfg.To, "to", 0, "last state change position to print (changes)")
	fs.Int64Var(&cfg.Limit, "limit", 0, "maximum records to print, 0 prints everything (events)")
	fs.Int64Var(&cfg.Offset, "offset", 0, "records to skip before printing (events)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "print the tool version and exit")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Command = fs.Arg(0)
	return cfg, nil
}

// Run executes the statewal command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if cfg.ShowVersion {
		fmt.Fprintln(out, version.Version)
		return nil
	}
	if cfg.Command == "" {
		return errors.New("command is required: info, changes, events, snapshots, or runs")
	}
	if err := sqlite.CheckRuntimeVersion(); err != nil {
		return err
	}

	// Opening a missing path would create an empty journal; an
	// inspection run should never do that.
	if _, err := os.Stat(cfg.DBPath); err != nil {
		return fmt.Errorf("database %s is not accessible: %w", cfg.DBPath, err)
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(errOut, "close store: %v\n", err)
		}
	}()

	switch cfg.Command {
	case "info":
		return runInfo(ctx, store, out)
	case "changes":
		return runChanges(ctx, cfg, store, out)
	case "events":
		return runEvents(ctx, cfg, store, out)
	case "snapshots":
		return runSnapshots(ctx, store, out)
	case "runs":
		return runRuns(ctx, store, out)
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
}

func runInfo(ctx context.Context, store *sqlite.Store, out io.Writer) error {
	schemaVersion, err := store.GetVersion(ctx)
	if err != nil {
		return err
	}
	count, err := store.CountStateChanges(ctx)
	if err != nil {
		return err
	}
	snapshots, err := store.ListSnapshots(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "path: %s\n", store.Path())
	fmt.Fprintf(out, "schema version: %d\n", schemaVersion)
	fmt.Fprintf(out, "state changes: %d\n", count)
	fmt.Fprintf(out, "snapshots: %d\n", len(snapshots))

	latest, err := store.GetLatestSnapshot(ctx)
	switch {
	case err == nil:
		fmt.Fprintf(out, "latest snapshot: %d (state change %d)\n", latest.ID, latest.StateChangeID)
	case errors.Is(err, storage.ErrNotFound):
	default:
		return err
	}
	return nil
}

func runChanges(ctx context.Context, cfg Config, store *sqlite.Store, out io.Writer) error {
	var from, to storage.Bound
	if cfg.From > 0 {
		from = storage.At(cfg.From)
	}
	if cfg.To > 0 {
		to = storage.At(cfg.To)
	}

	records, err := store.ListStateChanges(ctx, from, to)
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Fprintf(out, "%d\t%s\n", rec.ID, rec.Data)
	}
	return nil
}

func runEvents(ctx context.Context, cfg Config, store *sqlite.Store, out io.Writer) error {
	var limit, offset *int64
	if cfg.Limit > 0 {
		limit = &cfg.Limit
	}
	if cfg.Offset > 0 {
		offset = &cfg.Offset
	}

	events, err := store.ListEventsWithLogTime(ctx, limit, offset)
	if err != nil {
		return err
	}
	for _, event := range events {
		fmt.Fprintf(out, "%s\t%s\n", event.LogTime.Format(time.RFC3339Nano), event.Data)
	}
	return nil
}

func runSnapshots(ctx context.Context, store *sqlite.Store, out io.Writer) error {
	records, err := store.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Fprintf(out, "%d\t%d\t%s\n", rec.ID, rec.StateChangeID, rec.Data)
	}
	return nil
}

func runRuns(ctx context.Context, store *sqlite.Store, out io.Writer) error {
	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Fprintf(out, "%d\t%s\t%s\n", run.ID, run.StartedAt.Format(time.RFC3339), run.Version)
	}
	return nil
}
