package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/facre/internal/analysis"
	"github.com/kalambet/facre/internal/api"
	"github.com/kalambet/facre/internal/blobstore"
	"github.com/kalambet/facre/internal/config"
	"github.com/kalambet/facre/internal/dispatch"
	"github.com/kalambet/facre/internal/extract"
	"github.com/kalambet/facre/internal/jobs"
	"github.com/kalambet/facre/internal/pipeline"
	"github.com/kalambet/facre/internal/queue"
	"github.com/kalambet/facre/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// app holds the wired components shared by serve, worker and mcp.
type app struct {
	cfg     config.Config
	mode    jobs.Mode
	rdb     *redis.Client
	queue   *queue.Queue
	archive *storage.Store
	service *dispatch.Service
}

func (a *app) Close() {
	if a.archive != nil {
		a.archive.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}

// buildApp wires config into the job store, the pipeline and the dispatch
// service. Redis is probed once; on failure everything runs inline.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := slog.Default()
	a := &app{cfg: cfg, mode: jobs.ModeInline}

	rdb, err := jobs.OpenRedis(cfg.Redis.URL, cfg.Redis.ProbeTimeout)
	if err != nil {
		logger.Warn("invalid redis url, using inline mode", "error", err)
	} else {
		a.mode = jobs.SelectMode(ctx, jobs.RedisPinger(rdb), cfg.Redis.ProbeTimeout)
		if a.mode == jobs.ModeQueued {
			a.rdb = rdb
		} else {
			rdb.Close()
		}
	}

	var store jobs.Store = jobs.NewMemoryStore()
	if a.rdb != nil {
		store = jobs.NewRedisStore(a.rdb)
		a.queue = queue.New(a.rdb, cfg.Jobs.Queue)
	}

	a.archive, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		logger.Warn("analysis archive unavailable", "data_dir", cfg.Storage.DataDir, "error", err)
		a.archive = nil
	}

	runner, err := buildPipeline(ctx, cfg, a.mode, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []dispatch.Option{
		dispatch.WithResultTTL(cfg.Jobs.ResultTTL),
		dispatch.WithTimeLimit(cfg.Jobs.TimeLimit),
		dispatch.WithTempDir(cfg.Jobs.TempDir),
		dispatch.WithLogger(logger),
	}
	if a.queue != nil {
		opts = append(opts, dispatch.WithQueue(a.queue))
	}
	if a.archive != nil {
		opts = append(opts, dispatch.WithArchive(a.archive))
	}
	a.service = dispatch.New(store, runner, opts...)

	logger.Info("facre ready", "mode", a.mode.String(), "archive", a.archive != nil)
	return a, nil
}

func buildPipeline(ctx context.Context, cfg config.Config, mode jobs.Mode, logger *slog.Logger) (*pipeline.Executor, error) {
	matcher, err := extract.NewMatcher(cfg.Documents.Patterns)
	if err != nil {
		return nil, fmt.Errorf("documents.patterns: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithMode(mode),
		pipeline.WithUploadParallelism(cfg.Jobs.UploadParallelism),
		pipeline.WithLogger(logger),
	}

	blobs, err := blobstore.New(ctx, blobstore.Config{
		Bucket:          cfg.Attachments.Bucket,
		Region:          cfg.Attachments.Region,
		Endpoint:        cfg.Attachments.Endpoint,
		AccessKeyID:     cfg.Attachments.AccessKeyID,
		SecretAccessKey: cfg.Attachments.SecretAccessKey,
		ForcePathStyle:  cfg.Attachments.PathStyle,
		Folder:          cfg.Attachments.Folder,
		PublicBaseURL:   cfg.Attachments.PublicBaseURL,
	})
	switch {
	case errors.Is(err, blobstore.ErrNotConfigured):
		logger.Info("attachment store not configured, uploads disabled")
	case err != nil:
		logger.Warn("attachment store unavailable, uploads disabled", "error", err)
	default:
		opts = append(opts, pipeline.WithUploader(blobs))
		x := extract.New(
			extract.WithHTTPClient(&http.Client{Timeout: cfg.Documents.FetchTimeout}),
			extract.WithLogger(logger),
		)
		opts = append(opts, pipeline.WithExtractor(x, matcher))
	}

	if cfg.AI.APIKey != "" {
		opts = append(opts, pipeline.WithAnalyzer(analysis.NewClient(analysis.Config{
			APIKey:  cfg.AI.APIKey,
			BaseURL: cfg.AI.BaseURL,
			Model:   cfg.AI.Model,
			Timeout: cfg.AI.Timeout,
		})))
	} else {
		logger.Info("no ai api key, using heuristic analysis")
	}

	return pipeline.New(nil, opts...), nil
}

func newWorker(a *app) *queue.Worker {
	return queue.NewWorker(a.queue, a.service.RunTask,
		queue.WithConcurrency(a.cfg.Jobs.Concurrency),
		queue.WithTimeLimits(a.cfg.Jobs.TimeLimit, a.cfg.Jobs.SoftTimeLimit),
		queue.WithLogger(slog.Default().With("component", "worker")),
	)
}

var embeddedWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if embeddedWorker {
			if a.queue == nil {
				printWarning("--embedded-worker ignored: running in inline mode")
			} else {
				w := newWorker(a)
				go func() {
					if err := w.Run(ctx); err != nil {
						slog.Error("embedded worker stopped", "error", err)
					}
				}()
			}
		}

		handler := api.NewHandler(api.Deps{
			Service:        a.service,
			Token:          cfg.Server.APIToken,
			SubmitRate:     cfg.Server.SubmitRate,
			SubmitBurst:    cfg.Server.SubmitBurst,
			MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
			Logger:         slog.Default(),
		})

		srv := &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("http server listening", "addr", srv.Addr, "mode", a.mode.String())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
		case <-ctx.Done():
		}

		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued analysis jobs from Redis",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.queue == nil {
			return fmt.Errorf("redis at %s is not reachable; the worker needs queued mode", cfg.Redis.URL)
		}
		slog.Info("worker started", "queue", cfg.Jobs.Queue, "concurrency", cfg.Jobs.Concurrency)
		return newWorker(a).Run(ctx)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the analysis tools over MCP on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// stdout carries the protocol.
		setupLogging(cfg.Log)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		s := api.NewMCPServer(api.MCPDeps{Service: a.service, Version: version})
		err = server.NewStdioServer(s).Listen(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	serveCmd.Flags().BoolVar(&embeddedWorker, "embedded-worker", false, "also process queued jobs in this process")
}
