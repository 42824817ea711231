// Package auth resolves the oracle API key and checks that it works.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// ErrNoAPIKey is returned when no source yields a key.
var ErrNoAPIKey = errors.New("API key not found")

// ParameterGetter is the subset of the SSM client used to read the key.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Source describes where to look for the key.
type Source struct {
	// APIKey is the value already resolved from config or GEMINI_API_KEY.
	APIKey string
	// SSMParam names an SSM SecureString parameter holding the key.
	SSMParam string
}

// GetAPIKey retrieves the Gemini API key from available sources.
// Priority order:
//  1. src.APIKey (config file or GEMINI_API_KEY)
//  2. SSM Parameter Store, when src.SSMParam is set and ssmClient is non-nil
func GetAPIKey(ctx context.Context, src Source, ssmClient ParameterGetter) (string, error) {
	if key := strings.TrimSpace(src.APIKey); key != "" {
		log.Debug().Msg("Using API key from configuration")
		return key, nil
	}

	if src.SSMParam == "" || ssmClient == nil {
		return "", fmt.Errorf("%w: set GEMINI_API_KEY or SSM_API_KEY_PARAM", ErrNoAPIKey)
	}

	start := time.Now()
	result, err := ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(src.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		log.Error().Err(err).Str("param", src.SSMParam).Msg("Failed to read API key from SSM")
		return "", fmt.Errorf("failed to read SSM parameter %s: %w", src.SSMParam, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil || strings.TrimSpace(*result.Parameter.Value) == "" {
		return "", fmt.Errorf("%w: SSM parameter %s is empty", ErrNoAPIKey, src.SSMParam)
	}

	log.Debug().
		Str("param", src.SSMParam).
		Dur("elapsed", time.Since(start)).
		Msg("Gemini API key loaded from SSM")
	return strings.TrimSpace(*result.Parameter.Value), nil
}
