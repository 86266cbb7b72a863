package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/junyiacademy/learnlog/internal/cli"
	"github.com/junyiacademy/learnlog/internal/config"
	"github.com/junyiacademy/learnlog/internal/logservice"
	"github.com/junyiacademy/learnlog/internal/logstore"
	"github.com/junyiacademy/learnlog/internal/storage"
	"github.com/junyiacademy/learnlog/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "learnlog",
		Short:         "Structured event log for learning sessions",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default: learnlog.{yaml,toml,json} in the current directory)")
	rootCmd.PersistentFlags().String("backend", "", "Storage backend override (memory, filesystem, sqlite, postgres, s3)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("output", "o", cli.FormatJSON, "Output format (json, text)")

	rootCmd.AddCommand(
		queryCmd(),
		statsCmd(),
		aggregateCmd(),
		usageCmd(),
		errorsCmd(),
		deleteCmd(),
		cleanupCmd(),
		compactCmd(),
		reindexCmd(),
		janitorCmd(),
		configCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds the wired dependencies of one command invocation.
type app struct {
	cfg    *config.Config
	store  storage.Store
	svc    *logservice.Service
	term   *cli.Terminal
	format string
	log    *slog.Logger
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("close storage", "error", err)
	}
}

func setupLogger(cmd *cobra.Command) (*slog.Logger, error) {
	levelName, _ := cmd.Flags().GetString("log-level")
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", levelName)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	// Missing .env files are fine; malformed ones are not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("load .env: %w", err)
	}

	var (
		cfg    *config.Config
		source string
	)
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("read config: %w", err)
		}
		parser, err := config.ParserFor(path)
		if err != nil {
			return nil, "", err
		}
		if cfg, err = config.LoadFile(path, data, parser); err != nil {
			return nil, "", err
		}
		source = path
	} else {
		workDir, err := os.Getwd()
		if err != nil {
			return nil, "", err
		}
		cfg, source, err = config.Load(workDir)
		if errors.Is(err, config.ErrNoConfig) {
			cfg, source = config.Default(), "defaults"
		} else if err != nil {
			return nil, "", err
		}
	}

	cfg.ApplyEnv()
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, source, nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	log, err := setupLogger(cmd)
	if err != nil {
		return nil, err
	}
	format, _ := cmd.Flags().GetString("output")
	if err := cli.ValidateFormat(format); err != nil {
		return nil, err
	}

	cfg, source, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log.Debug("configuration loaded", "source", source, "backend", cfg.Storage.Backend)

	store, err := storage.Open(cmd.Context(), cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	repo := logstore.NewRepository(store,
		logstore.WithLogger(log),
		logstore.WithConcurrency(cfg.Concurrency),
	)
	return &app{
		cfg:    cfg,
		store:  store,
		svc:    logservice.New(repo, log),
		term:   cli.NewTerminal(os.Stdout),
		format: format,
		log:    log,
	}, nil
}

// withApp wires dependencies, runs fn and releases them.
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return fn(ctx, a, cmd, args)
	}
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("user", "u", "", "User ID (required)")
	cmd.Flags().StringP("program", "p", "", "Program ID")
	cmd.Flags().StringP("task", "t", "", "Task ID (requires --program)")
	cmd.MarkFlagRequired("user")
}

func scopeFrom(cmd *cobra.Command) logstore.Scope {
	user, _ := cmd.Flags().GetString("user")
	program, _ := cmd.Flags().GetString("program")
	task, _ := cmd.Flags().GetString("task")
	return logstore.Scope{UserID: user, ProgramID: program, TaskID: task}
}

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query log records in a scope",
		Long: `Query log records for a user, program or task.

Examples:
  learnlog query -u u1
  learnlog query -u u1 -p p1 --severity error --since 24h
  learnlog query -u u1 -p p1 -t t1 --order-by timestamp:asc --limit 20 --offset 20`,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			opts := cli.QueryOptions{Scope: scopeFrom(cmd), Format: a.format}
			opts.Type, _ = cmd.Flags().GetString("type")
			opts.Severity, _ = cmd.Flags().GetString("severity")
			opts.Since, _ = cmd.Flags().GetString("since")
			opts.Until, _ = cmd.Flags().GetString("until")
			opts.OrderBy, _ = cmd.Flags().GetString("order-by")
			opts.Limit, _ = cmd.Flags().GetInt("limit")
			opts.Offset, _ = cmd.Flags().GetInt("offset")
			opts.IncludeDeleted, _ = cmd.Flags().GetBool("include-deleted")
			return cli.Query(ctx, a.svc, opts, a.term)
		}),
	}
	addScopeFlags(cmd)
	cmd.Flags().String("type", "", "Record type filter")
	cmd.Flags().String("severity", "", "Severity filter")
	cmd.Flags().String("since", "", "Start time (RFC 3339, YYYY-MM-DD or duration ago)")
	cmd.Flags().String("until", "", "End time (RFC 3339, YYYY-MM-DD or duration ago)")
	cmd.Flags().String("order-by", logstore.DefaultOrderBy, "Sort order as field:asc|desc")
	cmd.Flags().Int("limit", 50, "Maximum records (0 for all)")
	cmd.Flags().Int("offset", 0, "Records to skip")
	cmd.Flags().Bool("include-deleted", false, "Include soft-deleted records")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show counts by type and severity, error rate and response time",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return cli.Stats(ctx, a.svc, scopeFrom(cmd), a.format, a.term)
		}),
	}
	addScopeFlags(cmd)
	return cmd
}

func aggregateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Show top actions and the error trend",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			period, _ := cmd.Flags().GetString("period")
			return cli.Aggregate(ctx, a.svc, scopeFrom(cmd), period, a.format, a.term)
		}),
	}
	addScopeFlags(cmd)
	cmd.Flags().String("period", string(logstore.PeriodDay), "Trend bucket (hour, day, week, month)")
	return cmd
}

func usageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show AI request volume, tokens, cost and latency",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			since, _ := cmd.Flags().GetString("since")
			until, _ := cmd.Flags().GetString("until")
			return cli.Usage(ctx, a.svc, scopeFrom(cmd), since, until, a.format, a.term)
		}),
	}
	addScopeFlags(cmd)
	cmd.Flags().String("since", "", "Start time (RFC 3339, YYYY-MM-DD or duration ago)")
	cmd.Flags().String("until", "", "End time (RFC 3339, YYYY-MM-DD or duration ago)")
	return cmd
}

func errorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Show the newest error records",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return cli.Errors(ctx, a.svc, scopeFrom(cmd), limit, a.format, a.term)
		}),
	}
	addScopeFlags(cmd)
	cmd.Flags().Int("limit", 20, "Maximum records (0 for all)")
	return cmd
}

func deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [log-id]",
		Short: "Soft-delete one record",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return cli.Delete(ctx, a.svc, scopeFrom(cmd), args[0], a.format, a.term)
		}),
	}
	addScopeFlags(cmd)
	cmd.MarkFlagRequired("program")
	cmd.MarkFlagRequired("task")
	return cmd
}

func cleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Soft-delete records older than the retention period",
		Long: `Soft-delete every live record older than the retention period.

This scans every record in the store. Run it from a scheduled job, or use
"learnlog janitor" to keep it running in the background.`,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			if !cmd.Flags().Changed("days") {
				days = a.cfg.Retention.Days
			}
			return cli.Cleanup(ctx, a.svc, days, a.format, a.term)
		}),
	}
	cmd.Flags().Int("days", config.DefaultRetentionDays, "Retention in days (default from config)")
	return cmd
}

func compactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Drop index entries pointing at missing or deleted records",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return cli.Compact(ctx, a.svc, scopeFrom(cmd), a.format, a.term)
		}),
	}
	addScopeFlags(cmd)
	return cmd
}

func reindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild indices from the stored records",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return cli.Reindex(ctx, a.svc, scopeFrom(cmd), a.format, a.term)
		}),
	}
	addScopeFlags(cmd)
	return cmd
}

func janitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Run retention cleanup periodically until interrupted",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			cfg := logservice.JanitorConfig{
				RetentionDays: a.cfg.Retention.Days,
				Interval:      a.cfg.Retention.Interval.Duration(),
			}
			if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
				cfg.Interval = interval
			}

			j := logservice.NewJanitor(a.svc, cfg)
			if now, _ := cmd.Flags().GetBool("now"); now {
				if _, err := j.RunOnce(ctx); err != nil {
					return fmt.Errorf("initial cleanup: %w", err)
				}
			}

			a.log.Info("starting janitor", "retention_days", cfg.RetentionDays, "interval", cfg.Interval)
			j.Start()
			<-ctx.Done()
			a.log.Info("shutting down janitor")
			return j.Close()
		}),
	}
	cmd.Flags().Duration("interval", 0, "Time between runs (default from config)")
	cmd.Flags().Bool("now", false, "Run once immediately before waiting for the first tick")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, source, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			fmt.Printf("Valid: %s\n", source)
			fmt.Printf("  backend: %s\n", cfg.Storage.Backend)
			switch cfg.Storage.Backend {
			case config.BackendSQLite:
				fmt.Printf("  path: %s\n", cfg.Storage.Path)
			case config.BackendFilesystem:
				fmt.Printf("  dir: %s\n", cfg.Storage.Dir)
			case config.BackendS3:
				fmt.Printf("  bucket: %s\n", cfg.Storage.S3.Bucket)
				if cfg.Storage.S3.Endpoint != "" {
					fmt.Printf("  endpoint: %s\n", cfg.Storage.S3.Endpoint)
				}
			}
			fmt.Printf("  retention: %d days, every %s\n", cfg.Retention.Days, time.Duration(cfg.Retention.Interval))
			fmt.Printf("  concurrency: %d\n", cfg.Concurrency)
			return nil
		},
	}
}
