package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/NewsDesk/internal/collect"
	"github.com/TobiSchelling/NewsDesk/internal/config"
	"github.com/TobiSchelling/NewsDesk/internal/database"
	"github.com/TobiSchelling/NewsDesk/internal/logging"
	"github.com/TobiSchelling/NewsDesk/internal/news"
	"github.com/TobiSchelling/NewsDesk/internal/pipeline"
	"github.com/TobiSchelling/NewsDesk/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "newsdesk",
	Short:   "Arabic news aggregation",
	Long:    "NewsDesk polls news feeds, extracts and deduplicates articles, tags them and serves them from a local dashboard.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			logger = logging.New("info")
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger = logging.New(level)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(sourcesCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("newsdesk", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/newsdesk/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure sources, enrichment, cache and sinks.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("News:")
		fmt.Printf("  Total: %d\n", stats.TotalNews)
		fmt.Printf("  Urgent: %d\n", stats.UrgentNews)
		fmt.Printf("  Views: %d\n", stats.TotalViews)
		if stats.LatestItem != "" {
			fmt.Printf("  Latest: %s\n", stats.LatestItem)
		}
		fmt.Println("\nSources:")
		fmt.Printf("  Total: %d\n", stats.TotalSources)
		fmt.Printf("  Active: %d\n", stats.ActiveSources)
		fmt.Println("\nCycles:")
		fmt.Printf("  Reports: %d\n", stats.CycleReports)

		latest, err := db.LatestCycleReport()
		if err != nil {
			return err
		}
		if latest != nil {
			fmt.Printf("  Last: %s (%s, %s, %d new)\n",
				latest.StartedAt.Local().Format("2006-01-02 15:04"), latest.Trigger, latest.Outcome, latest.Unique)
		}
		return nil
	},
}

// --- run command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one ingestion cycle: fetch -> dedupe -> persist -> enrich -> persist",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		orch, closeDeps, err := pipeline.Build(cfg, db, nil, logger)
		if err != nil {
			return err
		}
		defer closeDeps()
		// An interrupt returns early but the cycle finishes its writes.
		defer orch.Wait()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := orch.Run(ctx, pipeline.TriggerManual)
		if errors.Is(err, pipeline.ErrNoActiveSources) {
			fmt.Println("No active sources. Enable one with: newsdesk sources toggle <id>")
			return nil
		}
		if report != nil {
			printReport(report)
		}
		return err
	},
}

func printReport(r *pipeline.Report) {
	for i, step := range r.Steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(r.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
	for _, f := range r.Failures {
		fmt.Printf("  Failed source %s: %s\n", f.SourceName, f.Err)
	}
	fmt.Printf("\nCycle %s: %s in %s (%d fetched, %d unique, %d enriched)\n",
		r.ID, r.Outcome, r.Duration().Round(time.Millisecond), r.Fetched, r.Unique, r.Enriched)
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler and the local dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		orch, closeDeps, err := pipeline.Build(cfg, db, reg, logger)
		if err != nil {
			return err
		}
		defer closeDeps()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched := pipeline.NewScheduler(orch, cfg.Ingest.Interval, logger)
		srv, err := server.New(db, server.Options{
			Refresher: sched,
			Health:    collect.NewFeedFetcher(cfg.Ingest, logger),
			Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			Log:       logger,
		})
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		sched.Start(ctx)
		defer sched.Stop()

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// --- health command ---

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every source feed without ingesting",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sources, err := db.Sources()
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("No sources registered.")
			return nil
		}

		fetcher := collect.NewFeedFetcher(cfg.Ingest, logger)
		for _, h := range fetcher.CheckHealth(cmd.Context(), sources) {
			fmt.Printf("  [%s] %-8s %3d items  %s", h.SourceID, h.Status, h.Count, h.SourceName)
			if h.Err != "" {
				fmt.Printf("  (%s)", h.Err)
			}
			fmt.Println()
		}
		return nil
	},
}

// --- clear command ---

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all stored news items",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearYes {
			return fmt.Errorf("refusing to clear without --yes")
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.ClearNews()
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d news items.\n", n)
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "Confirm deletion")
}

// --- sources command ---

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage the source registry",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sources, err := db.Sources()
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("No sources registered. Add one with: newsdesk sources add")
			return nil
		}

		for _, s := range sources {
			icon := " "
			if s.Active {
				icon = "*"
			}
			fmt.Printf("  [%s] %s %s (%s)\n", s.ID, icon, s.Name, s.Kind)
			fmt.Printf("        %s\n", s.URL)
			if !s.Selector.IsZero() {
				fmt.Printf("        selector: %s\n", s.Selector)
			}
		}
		return nil
	},
}

var (
	addKind     string
	addLogo     string
	addSelector string
	addInactive bool
)

var sourcesAddCmd = &cobra.Command{
	Use:   "add [id] [name] [url]",
	Short: "Add or replace a source",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		sel, err := news.ParseSelector(addSelector)
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		src := news.Source{
			ID:       args[0],
			Name:     args[1],
			URL:      args[2],
			Kind:     news.ParseKind(addKind),
			LogoURL:  addLogo,
			Selector: sel,
			Active:   !addInactive,
		}
		if err := db.UpsertSource(src); err != nil {
			return err
		}
		fmt.Printf("Saved source [%s]: %s\n", src.ID, src.Name)
		return nil
	},
}

func init() {
	sourcesAddCmd.Flags().StringVar(&addKind, "type", "rss", "Feed type")
	sourcesAddCmd.Flags().StringVar(&addLogo, "logo", "", "Logo URL used when an item has no image")
	sourcesAddCmd.Flags().StringVar(&addSelector, "selector", "", "Content selector (CSS, or xpath: prefix)")
	sourcesAddCmd.Flags().BoolVar(&addInactive, "inactive", false, "Add the source disabled")
}

var sourcesRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		src, err := lookupSource(db, args[0])
		if err != nil {
			return err
		}
		if err := db.DeleteSource(src.ID); err != nil {
			return err
		}
		fmt.Printf("Removed source [%s]: %s\n", src.ID, src.Name)
		return nil
	},
}

var sourcesToggleCmd = &cobra.Command{
	Use:   "toggle [id]",
	Short: "Toggle a source's active state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		src, err := lookupSource(db, args[0])
		if err != nil {
			return err
		}
		if err := db.SetSourceActive(src.ID, !src.Active); err != nil {
			return err
		}
		newState := "disabled"
		if !src.Active {
			newState = "enabled"
		}
		fmt.Printf("Source [%s] %s: %s\n", src.ID, src.Name, newState)
		return nil
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesAddCmd)
	sourcesCmd.AddCommand(sourcesRemoveCmd)
	sourcesCmd.AddCommand(sourcesToggleCmd)
}

func lookupSource(db *database.DB, id string) (*news.Source, error) {
	src, err := db.GetSource(id)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("source %s not found", id)
	}
	return src, nil
}

// openDB opens the store and seeds the registry from config on first use.
func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := database.Open(filepath.Join(dataDir, "newsdesk.db"))
	if err != nil {
		return nil, err
	}
	n, err := db.SeedSources(cfg.SeedSources())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding sources: %w", err)
	}
	if n > 0 {
		logger.Info("seeded source registry", "sources", n)
	}
	return db, nil
}
