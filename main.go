package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dhcgn/archive-import/archive"
	"github.com/dhcgn/archive-import/attachment"
	"github.com/dhcgn/archive-import/cmd"
	"github.com/dhcgn/archive-import/config"
	"github.com/dhcgn/archive-import/convert"
	"github.com/dhcgn/archive-import/credential"
	"github.com/dhcgn/archive-import/destination"
	"github.com/dhcgn/archive-import/filter"
	"github.com/dhcgn/archive-import/gmail"
	"github.com/dhcgn/archive-import/imap"
	"github.com/dhcgn/archive-import/importer"
	"github.com/dhcgn/archive-import/journal"
	"github.com/dhcgn/archive-import/progress"
	"github.com/dhcgn/archive-import/runner"
	"github.com/dhcgn/archive-import/sender"
	"github.com/dhcgn/archive-import/stats"
	"github.com/dhcgn/archive-import/walker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "archive-import",
		Short: "Import a mail archive into a labelled destination mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, credential.Get)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting archive-import",
				"archive", cfg.ArchivePath,
				"destination", cfg.Destination,
				"account", cfg.Account(),
				"dryRun", cfg.DryRun,
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.MetricsAddr != "" {
				shutdown := serveMetrics(cfg.MetricsAddr, logger)
				defer shutdown()
			}

			return run(ctx, cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewArchiveStatsCommand(), cmd.NewCredentialCommand(nil))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	settings := cfg.Settings

	r := runner.New(ctx, logger)
	stats.NewReporter(r, logger)

	j, err := journal.Open(cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("journal.Open: %w", err)
	}
	defer func() {
		if err := j.Close(); err != nil {
			logger.Error("failed to close journal", "path", j.Path(), "err", err)
		}
	}()
	r.SubscribeStats("journal", j.Subscriber)

	root, err := archive.NewReader(logger).Open(cfg.ArchivePath)
	if err != nil {
		return err
	}
	w := walker.New(walker.Options{Ignored: settings.IgnoredFolders, NoLabel: settings.NoLabelFolders}, logger)

	total, err := walker.CountItems(ctx, w, root)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	logger.Info("archive counted", "items", total)

	bar := progress.New(total, cfg.LogLevel)
	progress.NewReporter(r, bar, logger)

	session, closeSession, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSession()

	f, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return fmt.Errorf("filter.New: %w", err)
	}

	logs := attachment.NewLogs(logger)
	converter := convert.New(convert.Options{
		SubjectPrefix: settings.SubjectPrefix,
		SummaryHeader: settings.SummaryHeader,
		SummaryFooter: settings.SummaryFooter,
	}, sender.NewResolver(settings.Resolver), logs, logger)

	pipeline := importer.NewPipeline(importer.PipelineOptions{
		OutputRoot:     cfg.OutputDir,
		MaxRetries:     settings.RetryCount,
		Backoff:        settings.RetryBackoff,
		DetailedErrors: settings.DetailedErrors,
	}, attachment.NewExtractor(logs, logger), converter, importer.Sleep, r, logger)

	account := importer.NewAccount(session, importer.AccountOptions{
		MarkerLabel: settings.MarkerLabel,
		Executor: importer.ExecutorOptions{
			BatchEnabled:   settings.BatchEnabled,
			BatchSize:      settings.BatchSize,
			ConnectTimeout: settings.ConnectTimeout,
			ReadTimeout:    settings.ReadTimeout,
			DryRun:         cfg.DryRun,
		},
	}, r, logger)

	job := &importer.Job{
		Root:     root,
		Walker:   w,
		Account:  account,
		Pipeline: pipeline,
		Filter:   f,
		Progress: bar,
		Logger:   logger,
	}
	r.AddStage("import", job.Run)

	return r.Start()
}

// openSession connects to the configured destination. A dry run never
// leaves the process.
func openSession(ctx context.Context, cfg config.Config, logger *slog.Logger) (destination.Session, func(), error) {
	nop := func() {}

	if cfg.DryRun {
		logger.Info("dry run: using in-memory destination", "account", cfg.Account())
		return destination.NewMemorySession(cfg.Account()), nop, nil
	}

	switch cfg.Destination {
	case config.DestinationGmail:
		session, err := gmail.New(ctx, gmail.Options{
			Account:         cfg.GmailAccount,
			CredentialsFile: cfg.GmailCredentials,
			ConnectTimeout:  cfg.Settings.ConnectTimeout,
			ReadTimeout:     cfg.Settings.ReadTimeout,
		}, logger)
		if err != nil {
			return nil, nop, fmt.Errorf("gmail.New: %w", err)
		}
		return session, nop, nil
	default:
		session, err := imap.Dial(ctx, imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			ConnectTimeout:     cfg.Settings.ConnectTimeout,
		}, logger)
		if err != nil {
			return nil, nop, fmt.Errorf("imap.Dial: %w", err)
		}
		return session, func() {
			if err := session.Close(); err != nil {
				logger.Debug("imap close failed", "err", err)
			}
		}, nil
	}
}

func serveMetrics(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("archive-import-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
