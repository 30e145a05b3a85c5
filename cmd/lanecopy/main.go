package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lanecopy/lanecopy/internal/config"
	"github.com/lanecopy/lanecopy/internal/engine"
	"github.com/lanecopy/lanecopy/internal/event"
	"github.com/lanecopy/lanecopy/internal/index"
	"github.com/lanecopy/lanecopy/internal/stats"
	"github.com/lanecopy/lanecopy/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run())
}

//nolint:gocyclo,revive // cyclomatic,cognitive-complexity: main CLI entry point orchestrates all flag parsing
func run() int {
	var (
		thresholdStr string
		workers      int
		concurrency  int
		bwLimitStr   string
		verifyFlag   bool
		dryRun       bool
		compressFlag bool
		indexPath    string
		logFile      string
		verbose      bool
		quiet        bool
		showVersion  bool
	)

	rootCmd := &cobra.Command{
		Use:   "lanecopy [flags] <source-root> <dest-root>",
		Short: "Two-lane directory sync: batch small files, chunk large ones",
		Args: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				return nil
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(os.Stdout, "lanecopy %s\n", version)
				return nil
			}

			src := args[0]
			dst := args[1]

			// Load optional config file.
			cfg, err := config.Load()
			if err != nil {
				slog.Warn("failed to load config", "error", err)
			}
			applyConfigDefaults(cmd, cfg.Defaults,
				&thresholdStr, &workers, &concurrency, &verifyFlag, &compressFlag, &bwLimitStr)

			var threshold int64
			if thresholdStr != "" {
				threshold, err = config.ParseSize(thresholdStr)
				if err != nil {
					return fmt.Errorf("invalid --threshold: %w", err)
				}
				if threshold <= 0 {
					return fmt.Errorf("invalid --threshold: must be positive")
				}
			}

			var bwLimit int64
			if bwLimitStr != "" {
				bwLimit, err = config.ParseSize(bwLimitStr)
				if err != nil {
					return fmt.Errorf("invalid --bwlimit: %w", err)
				}
			}

			// Configure logging.
			logLevel := slog.LevelWarn
			if verbose {
				logLevel = slog.LevelDebug
			} else if !quiet {
				logLevel = slog.LevelInfo
			}
			textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: logLevel,
			})
			var logHandler slog.Handler = textHandler
			if logFile != "" {
				lf, lfErr := os.Create(logFile)
				if lfErr != nil {
					return fmt.Errorf("open log file: %w", lfErr)
				}
				defer lf.Close()
				jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})
				logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
			}
			slog.SetDefault(slog.New(logHandler))

			if dryRun {
				slog.Info("dry run mode")
			}

			// Set up context with signal handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			collector := stats.NewCollector()
			events := make(chan event.Event, 256)

			// When --log is set, tee events through a logging goroutine
			// that writes structured records before forwarding to the presenter.
			presenterEvents := (<-chan event.Event)(events)
			if logFile != "" {
				teed := make(chan event.Event, 256)
				go func() {
					for ev := range events {
						attrs := []slog.Attr{
							slog.String("type", ev.Type.String()),
							slog.String("path", ev.Path),
							slog.Int64("size", ev.Size),
						}
						if ev.Error != nil {
							attrs = append(attrs, slog.String("error", ev.Error.Error()))
						}
						slog.LogAttrs(context.Background(), slog.LevelInfo, "lanecopy.event", attrs...)
						teed <- ev
					}
					close(teed)
				}()
				presenterEvents = teed
			}

			presenter := ui.NewPresenter(ui.Config{
				Writer:    os.Stdout,
				ErrWriter: os.Stderr,
				Stats:     collector,
				IsTTY:     ui.IsTTY(os.Stderr.Fd()),
				Quiet:     quiet,
				Verbose:   verbose,
			})

			engineCfg := engine.Config{
				Src:         src,
				Dst:         dst,
				IndexPath:   indexPath,
				Threshold:   threshold,
				Workers:     workers,
				Concurrency: concurrency,
				BWLimit:     bwLimit,
				Compress:    compressFlag,
				Verify:      verifyFlag,
				DryRun:      dryRun,
				Events:      events,
				Stats:       collector,
			}

			slog.Debug("starting sync",
				"src", src,
				"dst", dst,
				"threshold", threshold,
				"workers", workers,
				"concurrency", concurrency,
			)

			// Run presenter in background, engine in foreground.
			var presenterErr error
			var presenterWg sync.WaitGroup
			presenterWg.Add(1)
			go func() {
				defer presenterWg.Done()
				presenterErr = presenter.Run(presenterEvents)
			}()

			result := engine.Run(ctx, engineCfg)
			stop()
			close(events)
			presenterWg.Wait()
			if presenterErr != nil {
				fmt.Fprintf(os.Stderr, "presenter: %v\n", presenterErr)
			}

			if !quiet {
				summary := presenter.Summary()
				if summary != "" {
					fmt.Fprintln(os.Stderr, summary)
				}
			}

			if result.Err != nil {
				slog.Error("sync failed", "error", result.Err)
				return &exitError{code: 2}
			}
			if result.Partial {
				for _, f := range result.Failures {
					slog.Warn("failed", "path", f.Path, "error", f.Err)
				}
				return &exitError{code: 1}
			}
			return nil
		},
	}

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
	rootCmd.Flags().
		StringVar(&thresholdStr, "threshold", "", "files at or above this size use the chunked lane (e.g. 100M; default 100M)")
	rootCmd.Flags().
		IntVarP(&workers, "workers", "n", 0, "chunk workers per large file (default 4)")
	rootCmd.Flags().
		IntVarP(&concurrency, "concurrency", "c", 0, "large files copied at once (default 2)")
	rootCmd.Flags().StringVar(&bwLimitStr, "bwlimit", "", "bandwidth limit (e.g. 100M, 1G)")
	rootCmd.Flags().BoolVar(&verifyFlag, "verify", false, "verify checksums after sync (BLAKE3)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be synced without writing")
	rootCmd.Flags().BoolVar(&compressFlag, "compress", false, "zstd-compress the small-file batch")
	rootCmd.Flags().StringVar(&indexPath, "index", "", "change index database path (default: per-job under XDG state dir)")
	rootCmd.Flags().StringVar(&logFile, "log", "", "write structured JSON log to FILE")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")

	rootCmd.AddCommand(indexCmd())

	if err := rootCmd.Execute(); err != nil {
		if exitErr, ok := err.(*exitError); ok {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	return 0
}

// indexCmd groups maintenance operations on the change index.
func indexCmd() *cobra.Command {
	var indexPath string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the change index",
	}

	pruneCmd := &cobra.Command{
		Use:   "prune <source-root> <dest-root>",
		Short: "Drop index entries for files no longer present in the source",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			src, dst := args[0], args[1]
			path := indexPath
			if path == "" {
				path = index.DefaultPath(src, dst)
			}
			ix, err := index.Open(path, src, dst)
			if err != nil {
				return fmt.Errorf("open change index: %w", err)
			}
			defer ix.Close()

			removed, err := ix.Prune(func(rel string) bool {
				_, statErr := os.Lstat(filepath.Join(src, rel))
				return statErr == nil
			})
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}
			fmt.Fprintf(os.Stdout, "pruned %d stale entries from %s\n", removed, ix.Path())
			return nil
		},
	}
	pruneCmd.Flags().StringVar(&indexPath, "index", "", "change index database path")

	cmd.AddCommand(pruneCmd)
	return cmd
}

// applyConfigDefaults applies config file defaults for flags not explicitly set on the CLI.
func applyConfigDefaults(
	cmd *cobra.Command,
	defaults config.DefaultsConfig,
	threshold *string,
	workers *int,
	concurrency *int,
	verify *bool,
	compress *bool,
	bwLimit *string,
) {
	if !cmd.Flags().Changed("threshold") && defaults.Threshold != nil {
		*threshold = *defaults.Threshold
	}
	if !cmd.Flags().Changed("workers") && defaults.Workers != nil {
		*workers = *defaults.Workers
	}
	if !cmd.Flags().Changed("concurrency") && defaults.Concurrency != nil {
		*concurrency = *defaults.Concurrency
	}
	if !cmd.Flags().Changed("verify") && defaults.Verify != nil {
		*verify = *defaults.Verify
	}
	if !cmd.Flags().Changed("compress") && defaults.Compress != nil {
		*compress = *defaults.Compress
	}
	if !cmd.Flags().Changed("bwlimit") && defaults.BWLimit != nil {
		*bwLimit = *defaults.BWLimit
	}
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
