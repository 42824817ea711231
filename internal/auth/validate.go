package auth

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/siren-hq/siren/internal/metrics"
	"github.com/siren-hq/siren/internal/oracle"
)

// ValidationError represents a specific type of API key validation failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes validation failures.
type ValidationErrorType int

const (
	// ErrTypeNoKey indicates no API key was found.
	ErrTypeNoKey ValidationErrorType = iota
	// ErrTypeInvalidKey indicates the API key is invalid or revoked.
	ErrTypeInvalidKey
	// ErrTypeNetworkError indicates the service could not be reached or failed.
	ErrTypeNetworkError
	// ErrTypeQuotaExceeded indicates the API quota has been exceeded.
	ErrTypeQuotaExceeded
	// ErrTypeUnknown indicates an unknown error occurred.
	ErrTypeUnknown
)

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// validationTimeout bounds the probe call.
const validationTimeout = 15 * time.Second

// ValidateAPIKey verifies the key behind o with a minimal text-only call.
// It returns nil if the key works, or a *ValidationError describing why not.
func ValidateAPIKey(ctx context.Context, o oracle.Oracle) error {
	if o == nil {
		return &ValidationError{Type: ErrTypeNoKey, Message: "no oracle configured", Err: ErrNoAPIKey}
	}
	log.Debug().Msg("Validating API key with Gemini API")

	start := time.Now()
	_, err := o.Generate(ctx, oracle.Request{
		Operation:   "validate",
		Instruction: "Reply with the single word: ok",
		Timeout:     validationTimeout,
	})
	elapsed := time.Since(start)

	var valErr *ValidationError
	result := "success"
	if err != nil {
		valErr = classifyError(err)
		result = resultLabel(valErr.Type)
	}

	metrics.New(metrics.Namespace()).
		Dimension("Result", result).
		Metric("ApiKeyValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("ApiKeyValidationResult").
		Flush()

	if valErr != nil {
		return valErr
	}
	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}

// classifyError maps an oracle failure onto a ValidationError.
func classifyError(err error) *ValidationError {
	class := oracle.Classify(err)
	log.Error().Err(err).Str("class", string(class)).Msg("API key validation failed")

	switch class {
	case oracle.ClassAuth, oracle.ClassBadRequest:
		return &ValidationError{
			Type:    ErrTypeInvalidKey,
			Message: "API key is invalid, expired, or lacks permissions",
			Err:     err,
		}
	case oracle.ClassRateLimited:
		return &ValidationError{
			Type:    ErrTypeQuotaExceeded,
			Message: "API rate limit exceeded - try again later",
			Err:     err,
		}
	case oracle.ClassNetwork, oracle.ClassTimeout, oracle.ClassServer:
		return &ValidationError{
			Type:    ErrTypeNetworkError,
			Message: "Network or server error - try again later",
			Err:     err,
		}
	default:
		if errors.Is(err, oracle.ErrEmptyResponse) {
			return &ValidationError{Type: ErrTypeUnknown, Message: "API returned empty response", Err: err}
		}
		return &ValidationError{
			Type:    ErrTypeUnknown,
			Message: "Failed to validate API key",
			Err:     err,
		}
	}
}

func resultLabel(t ValidationErrorType) string {
	switch t {
	case ErrTypeNoKey:
		return "no_key"
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota"
	default:
		return "unknown"
	}
}
