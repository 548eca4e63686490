// Command receipts-admin runs maintenance tasks against the configured ledger.
//
//	receipts-admin reconcile [-year 2026]
//	receipts-admin ratio -category 通信費 -ratio 0.4
//	receipts-admin models
//	receipts-admin migrate
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	_ "time/tzdata"

	"receipts/internal/backend"
	"receipts/internal/cli"
	"receipts/internal/config"
	"receipts/internal/extract"
	"receipts/internal/log"
	"receipts/internal/storage"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: receipts-admin <reconcile|ratio|models|migrate> [flags]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	ctx, stop := cli.SignalContext()
	defer stop()

	var err error
	switch os.Args[1] {
	case "reconcile":
		err = reconcile(ctx, cfg, logger, os.Args[2:])
	case "ratio":
		err = setRatio(ctx, cfg, os.Args[2:])
	case "models":
		err = models(ctx, cfg)
	case "migrate":
		err = migrateDB(cfg)
	default:
		usage()
	}
	if err != nil {
		logger.Error("Command failed", "command", os.Args[1], log.FieldError, err)
		os.Exit(1)
	}
}

// reconcile adds the summary rows missing for a year.
func reconcile(ctx context.Context, cfg *config.Config, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	year := fs.Int("year", time.Now().In(cfg.Location()).Year(), "ledger year to reconcile")
	if err := fs.Parse(args); err != nil {
		return err
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	res, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}
	if res.Cleanup != nil {
		defer res.Cleanup()
	}

	return reconcileYear(ctx, res.Backend, *year, os.Stdout)
}

// summarizer is implemented by backends that compute totals themselves
// instead of leaving them to sheet formulas.
type summarizer interface {
	Summary(ctx context.Context, year int) ([]storage.SummaryRow, error)
}

// reconcileYear reconciles year on b and reports to w, including the
// computed totals when b has them.
func reconcileYear(ctx context.Context, b backend.Backend, year int, w io.Writer) error {
	settings, err := b.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := b.Reconcile(ctx, year, settings); err != nil {
		return fmt.Errorf("reconcile %d: %w", year, err)
	}
	entries, err := b.Entries(ctx, year)
	if err != nil {
		return fmt.Errorf("read ledger %d: %w", year, err)
	}
	fmt.Fprintf(w, "reconciled %d: %d categories, %d ledger rows\n", year, len(settings.Categories), len(entries))

	s, ok := b.(summarizer)
	if !ok {
		return nil
	}
	rows, err := s.Summary(ctx, year)
	if err != nil {
		return fmt.Errorf("read summary %d: %w", year, err)
	}
	return printSummary(w, rows)
}

func printSummary(w io.Writer, rows []storage.SummaryRow) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "item\tannual\t")
	for m := 1; m <= 12; m++ {
		fmt.Fprintf(tw, "%d\t", m)
	}
	fmt.Fprintln(tw)
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t", r.Item, yen(r.Annual))
		for _, v := range r.Months {
			fmt.Fprintf(tw, "%s\t", yen(v))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func yen(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// setRatio changes a category's default ratio. Only the SQLite backend keeps
// settings outside a sheet users can edit directly.
func setRatio(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("ratio", flag.ExitOnError)
	category := fs.String("category", "", "category to set")
	ratio := fs.Float64("ratio", -1, "default ratio between 0 and 1")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.DataBackend != string(backend.SQLiteBackend) {
		return fmt.Errorf("ratio edits go to the settings sheet for the %s backend", cfg.DataBackend)
	}
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, storage.Options{Location: cfg.Location()})
	if err != nil {
		return err
	}
	defer repo.Close()
	if err := repo.SetRatio(ctx, *category, *ratio); err != nil {
		return err
	}
	fmt.Printf("%s: %v\n", *category, *ratio)
	return nil
}

// models prints the models offering generateContent and the one the
// pipeline would use.
func models(ctx context.Context, cfg *config.Config) error {
	provider, err := extract.NewGenAI(ctx, extract.GenAIConfig{APIKey: cfg.GeminiAPIKey})
	if err != nil {
		return err
	}
	list, err := provider.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range list {
		if m.Supports(extract.ActionGenerateContent) {
			fmt.Println(m.Name)
		}
	}
	selected, err := extract.NewModelSelector(provider, cfg.GeminiModel, 0, nil).Select(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("selected: %s\n", selected)
	return nil
}

func migrateDB(cfg *config.Config) error {
	if err := storage.RunMigrations(cfg.SQLiteDBPath); err != nil {
		return err
	}
	version, dirty, err := storage.MigrationVersion(cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	fmt.Printf("%s at migration %d (dirty=%v)\n", cfg.SQLiteDBPath, version, dirty)
	return nil
}
