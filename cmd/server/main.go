// Command server runs the dashboard query API over AWS Athena.
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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/spf13/cobra"

	"github.com/infofitsoftware/athena-dashboard/internal/app"
	"github.com/infofitsoftware/athena-dashboard/internal/config"
	"github.com/infofitsoftware/athena-dashboard/internal/engine"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFile string
		listenAddr string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Dashboard query API server",
		Long:          "Serves parameterized analytical queries against AWS Athena with caching, single-flight dedup, and admission control.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return fmt.Errorf("load .env: %w", err)
			}
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			// Flags take precedence over file and env.
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides LISTEN_ADDR)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	client, err := newAthenaClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("athena client: %w", err)
	}

	application := app.New(app.Deps{Cfg: cfg, Engine: client, Logger: logger})
	application.Start(ctx)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      application.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ExecutionTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("query API listening",
		"addr", cfg.ListenAddr, "workgroup", cfg.Athena.WorkGroup, "database", cfg.Athena.Database)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// newAthenaClient builds the SDK client. SDK-level retries are disabled: the
// retry policy in this process owns all retry decisions.
func newAthenaClient(ctx context.Context, cfg *config.Config) (*engine.AthenaClient, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if cfg.Athena.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Athena.Region))
	}
	if cfg.Athena.AccessKeyID != nil && cfg.Athena.SecretKey != nil {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(*cfg.Athena.AccessKeyID, *cfg.Athena.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return engine.NewAthenaClient(athena.NewFromConfig(awsCfg), engine.AthenaConfig{
		WorkGroup:      cfg.Athena.WorkGroup,
		Database:       cfg.Athena.Database,
		OutputLocation: cfg.Athena.OutputLocation,
		FetchPageSize:  cfg.Athena.FetchPageSize,
	}), nil
}
