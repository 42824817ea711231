package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/siren-hq/siren/internal/boot"
	"github.com/siren-hq/siren/internal/config"
	"github.com/siren-hq/siren/internal/logging"
	"github.com/siren-hq/siren/internal/metrics"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// CLI flags
var (
	portFlag   int
	configFlag string
	modelFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "siren-web",
	Short: "HTTP service for video emergency detection",
	Long: `Siren Web accepts video uploads, extracts key frames (and audio in fused
mode), asks Gemini to classify them, and responds with an emergency report.

Examples:
  siren-web
  siren-web --port 9090
  siren-web --config /etc/siren/siren.toml`,
	RunE: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config and PORT)")
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "", "Path to a TOML config file")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	start := time.Now()
	logging.Init()

	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	if portFlag != 0 {
		cfg.Server.Port = portFlag
	}
	if modelFlag != "" {
		cfg.Gemini.Model = modelFlag
	}
	metrics.Configure(os.Stdout, cfg.Metrics.Enabled, "siren-web")

	ctx := context.Background()
	svc, err := boot.Build(ctx, cfg, boot.LoadAWS)
	if err != nil {
		return err
	}
	defaults, err := boot.DefaultRunConfig(cfg)
	if err != nil {
		return err
	}

	router := newRouter(&server{
		pipeline:       svc.Controller,
		uploadDir:      cfg.Pipeline.WorkRoot,
		defaults:       defaults,
		allowedOrigins: cfg.Server.AllowedOrigins,
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	startup := logging.NewStartupLogger("siren-web").
		Version(version).
		Binary("transcoder", cfg.Pipeline.FfmpegBinary).
		Feature("oracle", svc.Oracle != nil).
		Feature("metrics", cfg.Metrics.Enabled).
		Feature("retainDiagnostics", cfg.Pipeline.RetainDiagnostics).
		Feature("cors", len(cfg.Server.AllowedOrigins) > 0).
		Config("port", strconv.Itoa(cfg.Server.Port)).
		Config("mode", string(defaults.Mode)).
		Config("model", svc.Model).
		Config("keySource", svc.KeySource).
		Config("workRoot", cfg.Pipeline.WorkRoot)
	if cfg.Gemini.SSMParam != "" {
		startup.SSMParam("geminiKey", cfg.Gemini.SSMParam)
	}
	startup.InitDuration(time.Since(start)).Log()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Info().Int("port", cfg.Server.Port).Msg("Starting web server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
