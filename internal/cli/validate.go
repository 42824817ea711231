package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/siren-hq/siren/internal/auth"
)

// ResolveFile checks that the path exists and is a regular file, then
// returns its absolute path.
func ResolveFile(path string) (string, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, fmt.Errorf("file not found: %s", path)
		}
		return "", nil, fmt.Errorf("failed to access %s: %w", path, err)
	}
	if !info.IsDir() && info.Mode().IsRegular() {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		return path, info, nil
	}
	return "", nil, fmt.Errorf("not a regular file: %s", path)
}

// ValidationMessage turns an API key validation failure into advice for the
// operator.
func ValidationMessage(err error) string {
	var validationErr *auth.ValidationError
	if !errors.As(err, &validationErr) {
		return "unexpected error during API key validation"
	}
	switch validationErr.Type {
	case auth.ErrTypeNoKey:
		return "No API key configured. Set GEMINI_API_KEY or gemini.ssm_param"
	case auth.ErrTypeInvalidKey:
		return "Invalid API key. Please check your API key and try again"
	case auth.ErrTypeNetworkError:
		return "Network error. Please check your internet connection"
	case auth.ErrTypeQuotaExceeded:
		return "API quota exceeded. Please try again later or check your usage limits"
	default:
		return "API key validation failed"
	}
}
