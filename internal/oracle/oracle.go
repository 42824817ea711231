// Package oracle wraps a single outbound call to the multimodal inference
// service. A request carries an instruction and zero or more inline media
// attachments; the reply is free text that callers parse leniently.
package oracle

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout applies when a Request leaves Timeout unset.
const DefaultTimeout = 30 * time.Second

// ErrEmptyResponse is returned when the service answers with no text.
var ErrEmptyResponse = errors.New("empty response from oracle")

// Attachment is one inline media part.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// Request describes one oracle call.
type Request struct {
	// Operation labels the call in logs and metrics (e.g. "classify", "fused").
	Operation   string
	Instruction string
	Attachments []Attachment
	Timeout     time.Duration
}

// Oracle sends one request and returns the reply text.
type Oracle interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to the Oracle interface.
type Func func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
