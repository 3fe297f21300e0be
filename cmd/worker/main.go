package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/usepotato/potato/internal/api"
	"github.com/usepotato/potato/internal/config"
	"github.com/usepotato/potato/internal/engine/rodengine"
	"github.com/usepotato/potato/internal/orchestrator"
	"github.com/usepotato/potato/internal/registry"
	"github.com/usepotato/potato/internal/scripts"
	"github.com/usepotato/potato/internal/tasks"
	"github.com/usepotato/potato/internal/transport"
)

var configFile string

func main() {
	v := viper.New()

	var rootCmd = &cobra.Command{
		Use:   "potato",
		Short: "Browser session worker",
		Long:  `Attaches to a local browser, advertises it in the registry and streams it to one operator at a time`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().Int("port", 25565, "HTTP port")
	rootCmd.PersistentFlags().String("browser-url", "http://127.0.0.1:9222", "Browser remote debugging URL")
	rootCmd.PersistentFlags().String("redis-url", "redis://127.0.0.1:6379", "Redis URL")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level")

	v.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	v.BindPFlag("browser_url", rootCmd.PersistentFlags().Lookup("browser-url"))
	v.BindPFlag("redis_url", rootCmd.PersistentFlags().Lookup("redis-url"))
	v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(enqueueCmd(v))
	rootCmd.AddCommand(lookupCmd(v))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func configureLogging(cfg config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func openRegistry(cfg config.Config) (registry.Registry, error) {
	if cfg.RegistryDriver == "memory" {
		return registry.NewMemory(), nil
	}
	return registry.NewRedis(cfg.RedisURL)
}

func serve(ctx context.Context, cfg config.Config) error {
	configureLogging(cfg)
	log := logrus.WithField("component", "main")

	instrumentation, err := scripts.LoadInstrumentation(cfg.PageScriptPath)
	if err != nil {
		return err
	}

	reg, err := openRegistry(cfg)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer reg.Close()

	baseURL := orchestrator.ResolveBaseURL(ctx, cfg.PublicURL, cfg.MetadataURL, cfg.Port)

	hub := transport.NewHub()
	worker := orchestrator.New(rodengine.New(), reg, hub, orchestrator.Options{
		BaseURL:              baseURL,
		BrowserURL:           cfg.BrowserURL,
		BlankURL:             cfg.BlankURL,
		IdleTimeout:          cfg.IdleTimeout,
		WatchdogInterval:     cfg.WatchdogInterval,
		CommandTimeout:       cfg.CommandTimeout,
		ResourcePollInterval: cfg.ResourcePollInterval,
		ResourcePollAttempts: cfg.ResourcePollAttempts,
		Instrumentation:      instrumentation,
	})
	hub.SetHandler(api.NewSocketHandler(worker))

	log.WithFields(logrus.Fields{
		"worker_id":   worker.ID(),
		"base_url":    baseURL,
		"browser_url": cfg.BrowserURL,
		"registry":    cfg.RegistryDriver,
	}).Info("starting worker")

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: api.New(worker, hub, cfg.APIKey),
	}

	errCh := make(chan error, 2)
	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var taskSrv *asynq.Server
	if cfg.TasksEnabled {
		queue := tasks.QueueFor(worker.ID())
		taskSrv, err = tasks.NewServer(cfg.RedisURL, queue, cfg.ShutdownTimeout)
		if err != nil {
			return err
		}
		mux := asynq.NewServeMux()
		tasks.NewHandlers(worker).Register(mux)
		if err := taskSrv.Start(mux); err != nil {
			return fmt.Errorf("start task server: %w", err)
		}
		log.WithField("queue", queue).Info("consuming tasks")
	}

	if err := worker.Start(ctx); err != nil {
		log.WithError(err).Warn("browser not attached yet, watchdog will retry")
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.WithError(err).Error("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if taskSrv != nil {
		taskSrv.Shutdown()
	}
	if err := worker.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("worker did not shut down cleanly")
	}
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server did not shut down cleanly")
	}
	log.Info("worker stopped")
	return nil
}

func enqueueCmd(v *viper.Viper) *cobra.Command {
	var workerID string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Send a task to a worker's queue",
	}
	cmd.PersistentFlags().StringVar(&workerID, "worker-id", "", "Target worker id")
	cmd.MarkPersistentFlagRequired("worker-id")

	send := func(cmd *cobra.Command, task *asynq.Task) error {
		cfg, err := config.Load(v, configFile)
		if err != nil {
			return err
		}
		opt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := asynq.NewClient(opt)
		defer client.Close()

		info, err := client.EnqueueContext(cmd.Context(), task, asynq.Queue(tasks.QueueFor(workerID)), asynq.MaxRetry(3))
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", task.Type(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s on %s\n", task.Type(), info.ID, info.Queue)
		return nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start-session [browser-session-id]",
		Short: "Claim the worker for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := tasks.NewSessionInitializeTask(tasks.SessionInitializePayload{BrowserSessionID: args[0]})
			if err != nil {
				return err
			}
			return send(cmd, task)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "end-session [browser-session-id]",
		Short: "End a session on the worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := tasks.NewSessionEndTask(tasks.SessionEndPayload{BrowserSessionID: args[0]})
			if err != nil {
				return err
			}
			return send(cmd, task)
		},
	})

	return cmd
}

func lookupCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup [worker-id]",
		Short: "Show a worker's registry record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			reg, err := registry.NewRedis(cfg.RedisURL)
			if err != nil {
				return err
			}
			defer reg.Close()

			entry, err := reg.Lookup(cmd.Context(), args[0])
			if errors.Is(err, registry.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: offline\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			available, err := reg.IsAvailable(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s at %s (in available set: %t)\n", args[0], entry.State, entry.BaseURL, available)
			return nil
		},
	}
}
