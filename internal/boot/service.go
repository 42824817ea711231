package boot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/siren-hq/siren/internal/auth"
	"github.com/siren-hq/siren/internal/config"
	"github.com/siren-hq/siren/internal/extractor"
	"github.com/siren-hq/siren/internal/metrics"
	"github.com/siren-hq/siren/internal/oracle"
	"github.com/siren-hq/siren/internal/pipeline"
	"github.com/siren-hq/siren/internal/transcoder"
)

// Service is the assembled pipeline plus what the binaries report about it.
type Service struct {
	Controller *pipeline.Controller
	// Oracle is nil when no credential could be resolved.
	Oracle oracle.Oracle
	Model  string
	// KeySource is "config", "ssm" or "" (none found).
	KeySource string
}

// AWSLoader returns AWS clients on demand. Build only calls it when the key
// has to come from SSM.
type AWSLoader func(ctx context.Context) (*Clients, error)

// Build resolves the oracle credential and constructs the controller. A
// missing credential is logged, not returned: the controller then fails
// each run with a configuration error before any extraction work.
func Build(ctx context.Context, cfg *config.Config, loadAWS AWSLoader) (*Service, error) {
	start := time.Now()
	svc := &Service{Model: cfg.Gemini.Model}

	var ssmClient auth.ParameterGetter
	if cfg.Gemini.APIKey == "" && cfg.Gemini.SSMParam != "" && loadAWS != nil {
		clients, err := loadAWS(ctx)
		if err != nil {
			return nil, err
		}
		ssmClient = clients.SSM
	}

	apiKey, err := auth.GetAPIKey(ctx, auth.Source{APIKey: cfg.Gemini.APIKey, SSMParam: cfg.Gemini.SSMParam}, ssmClient)
	switch {
	case err == nil:
		svc.KeySource = "config"
		if cfg.Gemini.APIKey == "" {
			svc.KeySource = "ssm"
		}
	case errors.Is(err, auth.ErrNoAPIKey):
		log.Warn().Err(err).Msg("No oracle credential; runs will fail with a configuration error")
	default:
		return nil, err
	}

	if apiKey != "" {
		client, err := oracle.NewGeminiClient(ctx, apiKey, cfg.Gemini.BaseURL)
		if err != nil {
			return nil, err
		}
		svc.Oracle = oracle.NewGemini(client, cfg.Gemini.Model)
	}

	metrics.SetNamespace(cfg.Metrics.Namespace)

	svc.Controller = pipeline.NewController(apiKey, svc.Oracle, transcoder.NewExecRunner(), pipeline.Options{
		WorkRoot:  cfg.Pipeline.WorkRoot,
		Extractor: extractor.Options{Binary: cfg.Pipeline.FfmpegBinary},
	})

	log.Debug().
		Str("key_source", svc.KeySource).
		Str("model", svc.Model).
		Dur("elapsed", time.Since(start)).
		Msg("Pipeline assembled")
	return svc, nil
}

// DefaultRunConfig maps the configured pipeline defaults onto a RunConfig.
func DefaultRunConfig(cfg *config.Config) (pipeline.RunConfig, error) {
	mode, err := pipeline.ParseMode(cfg.Pipeline.Mode)
	if err != nil {
		return pipeline.RunConfig{}, fmt.Errorf("pipeline.mode: %w", err)
	}
	return pipeline.RunConfig{Mode: mode, RetainDiagnostics: cfg.Pipeline.RetainDiagnostics}, nil
}
