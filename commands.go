package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/amirphl/claim-router/app/queue"
	"github.com/amirphl/claim-router/config"
	"github.com/amirphl/claim-router/models"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
)

// loadRuntime reads the configuration and builds the process logger
func loadRuntime() (*config.ProductionConfig, *slog.Logger, io.Closer, error) {
	cfg, err := config.LoadProductionConfig(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Deployment.Version == "" || cfg.Deployment.Version == "dev" {
		cfg.Deployment.Version = version
	}
	logger, closer, err := config.NewLogger(cfg.Logging, cfg.Deployment.Version)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the claim ingestion service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closer, err := loadRuntime()
			if err != nil {
				return err
			}
			defer closer.Close()

			logger.Info("Starting claim router", "environment", cfg.Deployment.Environment)
			app, err := newApplication(cfg, logger)
			if err != nil {
				logger.Error("Failed to initialize application", "error", err)
				return err
			}
			defer app.close()

			return app.run(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, closer, err := loadRuntime()
			if err != nil {
				return err
			}
			defer closer.Close()

			db, err := initializeDatabase(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer closeDatabase(db, logger)

			if err := db.AutoMigrate(models.AllModels()...); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info("Database schema is up to date")
			return nil
		},
	}
}

func publishClaimCmd() *cobra.Command {
	var skipValidation bool
	cmd := &cobra.Command{
		Use:   "publish-claim [file]",
		Short: "Publish a claim message to the ingestion stream (reads stdin without a file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadRuntime()
			if err != nil {
				return err
			}
			defer closer.Close()

			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			payload, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read claim: %w", err)
			}

			if !skipValidation {
				var claim models.Claim
				if err := json.Unmarshal(payload, &claim); err != nil {
					return fmt.Errorf("claim is not valid JSON: %w", err)
				}
				if err := validator.New().Struct(&claim); err != nil {
					return fmt.Errorf("claim is incomplete: %w", err)
				}
			}

			rc, err := initializeCache(cfg.Cache, logger)
			if err != nil {
				return err
			}
			defer rc.Close()

			q := queue.NewRedisStreamQueue(rc, queueOptions(cfg.Queue))
			id, err := q.Publish(cmd.Context(), payload)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipValidation, "raw", false, "publish the payload without validating it")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "claim-router", version)
		},
	}
}
