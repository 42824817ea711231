package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/siren-hq/siren/internal/metrics"
)

// Gemini model IDs used by the service.
const (
	// ModelGemini25Flash is stable with balanced latency, the default.
	ModelGemini25Flash = "gemini-2.5-flash"

	// ModelGemini25FlashLite trades accuracy for throughput.
	ModelGemini25FlashLite = "gemini-2.5-flash-lite"

	// ModelGemini25Pro is slower with stronger reasoning.
	ModelGemini25Pro = "gemini-2.5-pro"
)

// DefaultModelName is used when configuration names no model.
const DefaultModelName = ModelGemini25Flash

// NewGeminiClient creates a genai client for the Gemini Developer API.
// baseURL overrides the service endpoint when non-empty.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

// Gemini is the Oracle backed by the Gemini generateContent API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini returns an Oracle that calls model through client.
func NewGemini(client *genai.Client, model string) *Gemini {
	if model == "" {
		model = DefaultModelName
	}
	return &Gemini{client: client, model: model}
}

// Model returns the configured model ID.
func (g *Gemini) Model() string {
	return g.model
}

// Generate sends the attachments followed by the instruction as one user turn
// and returns the concatenated reply text. The call is bounded by req.Timeout.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parts := make([]*genai.Part, 0, len(req.Attachments)+1)
	var attachedBytes int
	for _, a := range req.Attachments {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: a.MIMEType,
				Data:     a.Data,
			},
		})
		attachedBytes += len(a.Data)
	}
	parts = append(parts, &genai.Part{Text: req.Instruction})
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	temperature := float32(0)
	config := &genai.GenerateContentConfig{Temperature: &temperature}

	log.Debug().
		Str("operation", req.Operation).
		Str("model", g.model).
		Int("attachments", len(req.Attachments)).
		Int("attached_bytes", attachedBytes).
		Dur("timeout", timeout).
		Msg("Starting Gemini API call")

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	elapsed := time.Since(start)

	m := metrics.New(metrics.Namespace()).
		Dimension("Operation", req.Operation).
		Metric("OracleLatencyMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("OracleCalls")
	if err != nil {
		m.Count("OracleErrors").Property("errorClass", string(Classify(err)))
	}
	if resp != nil && resp.UsageMetadata != nil {
		m.Metric("OracleInputTokens", float64(resp.UsageMetadata.PromptTokenCount), metrics.UnitCount)
		m.Metric("OracleOutputTokens", float64(resp.UsageMetadata.CandidatesTokenCount), metrics.UnitCount)
	}
	m.Flush()

	if err != nil {
		log.Error().
			Err(err).
			Str("operation", req.Operation).
			Str("class", string(Classify(err))).
			Dur("duration", elapsed).
			Msg("Gemini API call failed")
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if resp == nil || resp.Text() == "" {
		log.Warn().Str("operation", req.Operation).Dur("duration", elapsed).Msg("Received empty response from Gemini")
		return "", ErrEmptyResponse
	}

	text := resp.Text()
	log.Debug().
		Str("operation", req.Operation).
		Int("response_length", len(text)).
		Dur("duration", elapsed).
		Msg("Gemini API response received")

	return text, nil
}
