// Command vixsrcd runs the download orchestration service: a scheduler,
// an HTTP/WebSocket surface, and a one-shot CLI enqueue path for
// smoke-testing the core without the HTTP layer. Grounded on the
// teacher's cmd/greg/main.go cobra rootCmd + PersistentPreRunE wiring
// (directories -> config -> logger -> collaborators -> hot-reload).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/stormino/vixsrc-downloader/internal/config"
	"github.com/stormino/vixsrc-downloader/internal/fetch"
	"github.com/stormino/vixsrc-downloader/internal/httpapi"
	"github.com/stormino/vixsrc-downloader/internal/metrics"
	"github.com/stormino/vixsrc-downloader/internal/muxer"
	"github.com/stormino/vixsrc-downloader/internal/orchestrator"
	"github.com/stormino/vixsrc-downloader/internal/progressbus"
	"github.com/stormino/vixsrc-downloader/internal/resolver"
	"github.com/stormino/vixsrc-downloader/internal/scheduler"
	"github.com/stormino/vixsrc-downloader/internal/segment"
	"github.com/stormino/vixsrc-downloader/internal/taskmodel"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

func main() {
	root := &cobra.Command{
		Use:   "vixsrcd",
		Short: "media acquisition and download orchestration service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, v, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = loaded

			l, err := config.InitLogger(&cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logger = l

			config.Watch(v, cfg, func(fresh *config.Config) {
				logger.Info("configuration reloaded")
			})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	root.AddCommand(serveCmd(), downloadCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildCollaborators() (*scheduler.Scheduler, *progressbus.Bus, error) {
	f, err := fetch.New(fetch.Config{
		BaseURL:                cfg.Extractor.BaseURL,
		TimeoutSeconds:         cfg.Extractor.TimeoutSeconds,
		UserAgent:              cfg.Extractor.UserAgent,
		RetryDelayMs:           cfg.Extractor.RetryDelayMs,
		MaxRetries:             cfg.Extractor.MaxRetries,
		MaxRetryDelayMs:        cfg.Extractor.MaxRetryDelayMs,
		RetryBackoffMultiplier: cfg.Extractor.RetryBackoffMultiplier,
	}, nil, logger)
	if err != nil {
		return nil, nil, err
	}

	res := resolver.New(cfg.Extractor.BaseURL, f)
	seg := segment.New(f, nil, segment.Config{SegmentConcurrency: cfg.Download.SegmentConcurrency})
	mux := muxer.New(muxer.Config{
		Binary:    cfg.Muxer.Binary,
		Timeout:   time.Duration(cfg.Muxer.TimeoutSeconds) * time.Second,
		KillGrace: cfg.Muxer.KillGrace,
	})
	bus := progressbus.New(logger)
	orch := orchestrator.New(seg, mux, bus, logger)

	sched := scheduler.New(scheduler.Config{
		MoviesPath:        cfg.Download.MoviesPath,
		TVShowsPath:       cfg.Download.TVShowsPath,
		TempPath:          cfg.Download.TempPath,
		ParallelDownloads: cfg.Download.ParallelDownloads,
		DefaultQuality:    taskmodel.Quality(cfg.Download.DefaultQuality),
		DefaultLanguage:   cfg.Download.DefaultLanguage,
	}, res, orch, bus, logger)

	return sched, bus, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the scheduler and the HTTP/WebSocket surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, bus, err := buildCollaborators()
			if err != nil {
				return err
			}

			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				logger.Warn("metrics already registered", "err", err)
			}

			sched.Start()
			defer sched.Stop()

			server := httpapi.New(sched, bus, logger)
			httpServer := &http.Server{Addr: cfg.Server.ListenAddr, Handler: server.Handler()}

			go func() {
				logger.Info("listening", "addr", cfg.Server.ListenAddr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http server failed", "err", err)
				}
			}()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			logger.Info("shutting down")
			return httpServer.Shutdown(context.Background())
		},
	}
}

func downloadCmd() *cobra.Command {
	var kind, catalogueID, quality string
	var season, episode int
	var languages []string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "enqueue a single download and exit once it reaches a terminal state",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, bus, err := buildCollaborators()
			if err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			done := make(chan struct{})
			id, err := sched.Enqueue(scheduler.EnqueueRequest{
				Kind:        taskmodel.Kind(kind),
				CatalogueID: catalogueID,
				Season:      season,
				Episode:     episode,
				Languages:   languages,
				Quality:     taskmodel.Quality(quality),
			})
			if err != nil {
				return err
			}

			unsub := bus.Subscribe(func(update taskmodel.ProgressUpdate) {
				if update.TaskID != id || update.SubTaskID != "" {
					return
				}
				logger.Info("progress", "status", update.Status, "progress", update.Progress)
				if update.Status.IsTerminal() {
					close(done)
				}
			})
			defer unsub()

			<-done
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "MOVIE", "MOVIE or TV")
	cmd.Flags().StringVar(&catalogueID, "catalogue-id", "", "catalogue identifier")
	cmd.Flags().IntVar(&season, "season", 0, "season number (TV only)")
	cmd.Flags().IntVar(&episode, "episode", 0, "episode number (TV only)")
	cmd.Flags().StringSliceVar(&languages, "languages", nil, "ordered audio language preference")
	cmd.Flags().StringVar(&quality, "quality", "best", "best or an explicit height")
	return cmd
}
