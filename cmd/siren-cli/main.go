package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/siren-hq/siren/internal/auth"
	"github.com/siren-hq/siren/internal/boot"
	"github.com/siren-hq/siren/internal/cli"
	"github.com/siren-hq/siren/internal/config"
	"github.com/siren-hq/siren/internal/logging"
	"github.com/siren-hq/siren/internal/metrics"
	"github.com/siren-hq/siren/internal/pipeline"
	"github.com/siren-hq/siren/internal/s3util"
)

// CLI flags
var (
	configFlag string
	modelFlag  string
	modeFlag   string
	retainFlag bool
	formatFlag string
)

var rootCmd = &cobra.Command{
	Use:   "siren-cli",
	Short: "Detect emergencies in a video from the command line",
	Long: `Siren CLI runs the emergency detection pipeline on one video and prints
the structured result as JSON (or a text report with --format text).

Examples:
  siren-cli analyze ./clip.mp4
  siren-cli analyze s3://bucket/uploads/clip.mov --mode fused
  siren-cli analyze ./clip.mp4 --retain -c ./siren.toml
  siren-cli analyze ./clip.mp4 --format text
  siren-cli check`,
	SilenceUsage: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <path|s3://bucket/key>",
	Short: "Analyze a local or S3 video",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the configured Gemini API key",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use (overrides config)")
	analyzeCmd.Flags().StringVar(&modeFlag, "mode", "", "Analysis mode: independent or fused (default from config)")
	analyzeCmd.Flags().BoolVar(&retainFlag, "retain", false, "Keep the run's work directory for inspection")
	analyzeCmd.Flags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")

	rootCmd.AddCommand(analyzeCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and assembles the pipeline. Metrics go to stderr
// so stdout carries only the result.
func setup(ctx context.Context) (*config.Config, *boot.Service, error) {
	logging.Init()

	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, nil, err
	}
	if modelFlag != "" {
		cfg.Gemini.Model = modelFlag
	}
	metrics.Configure(os.Stderr, cfg.Metrics.Enabled, "siren-cli")

	svc, err := boot.Build(ctx, cfg, boot.LoadAWS)
	if err != nil {
		return nil, nil, err
	}
	return cfg, svc, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if formatFlag != "json" && formatFlag != "text" {
		return fmt.Errorf("unknown format %q (want json or text)", formatFlag)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, svc, err := setup(ctx)
	if err != nil {
		return err
	}

	runCfg, err := boot.DefaultRunConfig(cfg)
	if err != nil {
		return err
	}
	if modeFlag != "" {
		runCfg.Mode = pipeline.Mode(strings.ToLower(modeFlag))
	}
	if retainFlag {
		runCfg.RetainDiagnostics = true
	}

	if err := os.MkdirAll(cfg.Pipeline.WorkRoot, 0o755); err != nil {
		return fmt.Errorf("create work root: %w", err)
	}
	stageDir, err := os.MkdirTemp(cfg.Pipeline.WorkRoot, "input-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stageDir)

	var getter s3util.ObjectGetter
	if s3util.IsURI(args[0]) {
		clients, err := boot.LoadAWS(ctx)
		if err != nil {
			return err
		}
		getter = clients.S3
	}

	video, err := stageVideo(ctx, args[0], stageDir, getter)
	if err != nil {
		return err
	}
	log.Info().
		Str("source", args[0]).
		Int64("size_bytes", video.SizeBytes).
		Str("mime_type", video.MIMEType).
		Str("mode", string(runCfg.Mode)).
		Msg("Starting analysis")

	res := svc.Controller.Run(ctx, video, runCfg)

	if err := writeResult(cmd.OutOrStdout(), res, formatFlag); err != nil {
		return err
	}
	if !res.Success() {
		return fmt.Errorf("run %s failed at %s: %s", res.RunID, res.Failure.Stage, res.Failure.Message)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, svc, err := setup(ctx)
	if err != nil {
		return err
	}
	if err := auth.ValidateAPIKey(ctx, svc.Oracle); err != nil {
		log.Error().Err(err).Msg(cli.ValidationMessage(err))
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "API key OK (model %s, source %s)\n", svc.Model, svc.KeySource)
	return nil
}

func writeResult(w io.Writer, res *pipeline.Result, format string) error {
	if format == "text" {
		return cli.WriteReport(w, res)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
