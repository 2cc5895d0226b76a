// warden-worker is the ingest worker daemon. It listens for job submissions
// on an AMQP queue, runs them one at a time through the scanner adapters and
// the reconciliation engine, and publishes job status and lifecycle events.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/WardenScan/go-api/warden/config"
	"github.com/WardenScan/go-api/warden/postgres"
	"github.com/WardenScan/go-api/warden/postgres/models"
	"github.com/WardenScan/go-api/warden/queue"
	"github.com/WardenScan/go-api/warden/runner"
	"github.com/WardenScan/go-api/warden/slogger"
	"github.com/WardenScan/go-api/warden/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// jobSubmission is the body of a message on the jobs queue.
type jobSubmission struct {
	JobID string `json:"job_id"`
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "warden-worker",
	Short: "Warden scan ingest worker",
	Long: `Consumes ingest job submissions from the jobs queue, parses the
referenced scan files, and reconciles their contents into the inventory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
}

func main() {
	slogger.Init()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Worker exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := postgres.Connect(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	opts := runner.Options{
		DataDir:       cfg.DataDir,
		StaleAfter:    cfg.Runner.StaleAfter,
		SweepSchedule: cfg.Runner.SweepSchedule,
	}

	if cfg.Valkey.Addr != "" {
		cache, err := store.NewValkeyStore(cfg.Valkey.Addr)
		if err != nil {
			return fmt.Errorf("connect to valkey: %w", err)
		}
		defer cache.Close()
		opts.StatusCache = cache
	} else {
		slog.Warn("No valkey address configured, job status will only be persisted to the database")
	}

	if cfg.AMQP.EventsQueue != "" {
		opts.EventSink = func(ev models.Event) {
			body, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("Failed to marshal event for publishing", "error", err)
				return
			}
			// best effort, off the worker's hot path
			go func() {
				if err := queue.Publish(cfg.AMQP.URL, cfg.AMQP.EventsQueue, body); err != nil {
					slog.Warn("Failed to publish event", "queue", cfg.AMQP.EventsQueue, "error", err)
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := runner.New(db, opts)
	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}
	defer r.Stop()

	queue.ListenWithRetry(ctx, cfg.AMQP.URL, cfg.AMQP.JobsQueue, func(msg string) {
		var sub jobSubmission
		if err := json.Unmarshal([]byte(msg), &sub); err != nil {
			slog.Warn("Discarding malformed job submission", "error", err)
			return
		}
		jobID, err := uuid.Parse(sub.JobID)
		if err != nil {
			slog.Warn("Discarding job submission with bad id", "job_id", sub.JobID, "error", err)
			return
		}
		if err := r.Submit(jobID); err != nil {
			slog.Error("Job submission rejected", "job_id", jobID, "error", err)
		}
	})

	slog.Info("Shutting down")
	return nil
}
