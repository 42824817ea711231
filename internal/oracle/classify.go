package oracle

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// Class is a coarse failure category used in logs and metrics.
type Class string

const (
	ClassNone        Class = ""
	ClassTimeout     Class = "timeout"
	ClassAuth        Class = "auth"
	ClassRateLimited Class = "rate_limited"
	ClassServer      Class = "server"
	ClassBadRequest  Class = "bad_request"
	ClassNetwork     Class = "network"
	ClassEmpty       Class = "empty"
	ClassUnknown     Class = "unknown"
)

// Classify maps an oracle error onto a Class.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, ErrEmptyResponse) {
		return ClassEmpty
	}

	// The SDK returns APIError by value; callers and tests may wrap a pointer.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyCode(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyCode(apiErrPtr.Code)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key not valid") ||
		strings.Contains(msg, "api_key_invalid") ||
		strings.Contains(msg, "permission denied"):
		return ClassAuth
	case strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "rate limit"):
		return ClassRateLimited
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ClassTimeout
	case strings.Contains(msg, "connection") ||
		strings.Contains(msg, "dial") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "unreachable"):
		return ClassNetwork
	default:
		return ClassUnknown
	}
}

func classifyCode(code int) Class {
	switch {
	case code == 401 || code == 403:
		return ClassAuth
	case code == 429:
		return ClassRateLimited
	case code == 408 || code == 504:
		return ClassTimeout
	case code >= 500:
		return ClassServer
	case code >= 400:
		return ClassBadRequest
	default:
		return ClassUnknown
	}
}
