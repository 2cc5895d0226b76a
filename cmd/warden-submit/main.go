// warden-submit uploads a scan file and queues an ingest job for it: the
// file is stored as a content-addressed artifact, a job row is created, and
// a submission message is published onto the jobs queue for the worker.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/WardenScan/go-api/warden/artifact"
	"github.com/WardenScan/go-api/warden/config"
	"github.com/WardenScan/go-api/warden/ingest"
	"github.com/WardenScan/go-api/warden/postgres"
	"github.com/WardenScan/go-api/warden/postgres/models"
	"github.com/WardenScan/go-api/warden/queue"
	"github.com/WardenScan/go-api/warden/slogger"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	configPath string
	projectID  string
	sourceType string
)

var rootCmd = &cobra.Command{
	Use:   "warden-submit <scan-file>",
	Short: "Upload a scan file and queue an ingest job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.Flags().StringVarP(&projectID, "project", "p", "", "project id (required)")
	rootCmd.Flags().StringVarP(&sourceType, "source", "s", "", "source type: nmap or nessus (required)")
	rootCmd.MarkFlagRequired("project")
	rootCmd.MarkFlagRequired("source")
}

func main() {
	slogger.Init()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Submit failed", "error", err)
		os.Exit(1)
	}
}

func submit(path string) error {
	if !ingest.KnownSource(sourceType) {
		return fmt.Errorf("unsupported source type %q", sourceType)
	}
	pid, err := uuid.Parse(projectID)
	if err != nil {
		return fmt.Errorf("parse project id: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := postgres.Connect(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	art, err := artifact.StoreFile(db, cfg.DataDir, pid, path, path)
	if err != nil {
		return fmt.Errorf("store scan file: %w", err)
	}

	job := models.IngestJob{
		ProjectID:        pid,
		SourceType:       sourceType,
		OriginalFilename: art.OriginalName,
		ArtifactID:       &art.ID,
	}
	if err := db.Create(&job).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	body, err := json.Marshal(map[string]string{"job_id": job.ID.String()})
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	if err := queue.Publish(cfg.AMQP.URL, cfg.AMQP.JobsQueue, body); err != nil {
		return fmt.Errorf("publish submission: %w", err)
	}

	slog.Info("Ingest job queued", "job_id", job.ID, "artifact", art.SHA256, "source", sourceType)
	fmt.Println(job.ID.String())
	return nil
}
