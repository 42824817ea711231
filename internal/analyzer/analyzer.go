// Package analyzer turns extracted samples into verdicts by consulting the
// oracle. Calls are strictly sequential with a constant pause between them,
// and every failure inside a call is contained as a sentinel verdict.
package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/siren-hq/siren/internal/assets"
	"github.com/siren-hq/siren/internal/extractor"
	"github.com/siren-hq/siren/internal/filehandler"
	"github.com/siren-hq/siren/internal/oracle"
)

const (
	// RequestTimeout bounds each frame classification and fused call.
	RequestTimeout = 30 * time.Second

	// TranscriptionTimeout bounds the audio transcription call.
	TranscriptionTimeout = 90 * time.Second

	// PacingDelay is the fixed pause between successive oracle calls in
	// independent mode. It is not adaptive.
	PacingDelay = 1 * time.Second
)

// Oracle operation labels, used in logs and metrics.
const (
	OpClassify   = "classify"
	OpFused      = "fused"
	OpTranscribe = "transcribe"
)

// Options tunes an Analyzer. Zero values select the defaults.
type Options struct {
	// Sleep waits out the pacing delay. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// FrameMaxDimension caps the long edge of frames sent to the oracle.
	FrameMaxDimension int
}

// Analyzer submits samples to an oracle.
type Analyzer struct {
	oracle   oracle.Oracle
	sleep    func(ctx context.Context, d time.Duration) error
	maxFrame int
}

// New creates an Analyzer backed by o.
func New(o oracle.Oracle, opts Options) *Analyzer {
	a := &Analyzer{
		oracle:   o,
		sleep:    opts.Sleep,
		maxFrame: opts.FrameMaxDimension,
	}
	if a.sleep == nil {
		a.sleep = sleepContext
	}
	if a.maxFrame <= 0 {
		a.maxFrame = filehandler.DefaultFrameMaxDimension
	}
	return a
}

// AnalyzeSamples classifies each frame in order and returns exactly one
// result per frame, at the same position. PacingDelay separates successive
// calls; there is no delay before the first.
func (a *Analyzer) AnalyzeSamples(ctx context.Context, frames []extractor.Sample) []Result {
	results := make([]Result, 0, len(frames))
	for i, sample := range frames {
		if i > 0 {
			if err := a.sleep(ctx, PacingDelay); err != nil {
				results = append(results, Failed(sample.Index, err))
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			results = append(results, Failed(sample.Index, err))
			continue
		}
		results = append(results, a.AnalyzeSample(ctx, sample))
	}
	return results
}

// AnalyzeSample classifies one frame. Failures of any kind come back as a
// failed Result, never as a panic or a separate error.
func (a *Analyzer) AnalyzeSample(ctx context.Context, sample extractor.Sample) Result {
	start := time.Now()

	frame, err := filehandler.PrepareFrame(sample.Path, a.maxFrame)
	if err != nil {
		return a.failed(sample.Index, OpClassify, fmt.Errorf("failed to read frame: %w", err))
	}

	reply, err := a.oracle.Generate(ctx, oracle.Request{
		Operation:   OpClassify,
		Instruction: assets.ClassifyFramePrompt,
		Attachments: []oracle.Attachment{{MIMEType: frame.MIMEType, Data: frame.Data}},
		Timeout:     RequestTimeout,
	})
	if err != nil {
		return a.failed(sample.Index, OpClassify, err)
	}

	v, err := parseClassification(reply, sample.Index)
	if err != nil {
		return a.failed(sample.Index, OpClassify, err)
	}

	log.Info().
		Int("sample_index", sample.Index).
		Str("emergency_type", v.EmergencyType).
		Float64("confidence", v.Confidence).
		Dur("duration", time.Since(start)).
		Msg("Frame classified")
	return Ok(v)
}

// AnalyzeFused makes a single call with the first frame and the full
// transcript. An empty transcript is sent as an explicit placeholder. ts is
// offered to the oracle as the event time and used when the reply omits one.
func (a *Analyzer) AnalyzeFused(ctx context.Context, frames []extractor.Sample, transcript string, ts time.Time) Result {
	if len(frames) == 0 {
		return a.failed(0, OpFused, fmt.Errorf("no frames to analyze"))
	}
	first := frames[0]
	timestamp := ts.UTC().Format(time.RFC3339)

	frame, err := filehandler.PrepareFrame(first.Path, a.maxFrame)
	if err != nil {
		return a.failed(0, OpFused, fmt.Errorf("failed to read frame: %w", err))
	}

	reply, err := a.oracle.Generate(ctx, oracle.Request{
		Operation: OpFused,
		Instruction: assets.RenderFusedPrompt(assets.FusedPromptData{
			Transcript:  transcript,
			Timestamp:   timestamp,
			Departments: Departments,
		}),
		Attachments: []oracle.Attachment{{MIMEType: frame.MIMEType, Data: frame.Data}},
		Timeout:     RequestTimeout,
	})
	if err != nil {
		return a.failed(0, OpFused, err)
	}

	v, err := parseFused(reply, transcript, timestamp)
	if err != nil {
		return a.failed(0, OpFused, err)
	}

	log.Info().
		Str("emergency_type", v.EmergencyType).
		Str("department", v.Department).
		Str("severity", v.Severity).
		Float64("confidence", v.Confidence).
		Bool("has_transcript", transcript != "").
		Msg("Fused analysis complete")
	return Ok(v)
}

// Transcribe returns the speech in an extracted audio sample. The caller
// treats any error as "no transcript available".
func (a *Analyzer) Transcribe(ctx context.Context, audio *extractor.Sample) (string, error) {
	if audio == nil {
		return "", fmt.Errorf("no audio sample")
	}
	data, err := os.ReadFile(audio.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read audio: %w", err)
	}
	mimeType, err := filehandler.GetMIMEType(filepath.Ext(audio.Path))
	if err != nil {
		return "", err
	}

	reply, err := a.oracle.Generate(ctx, oracle.Request{
		Operation:   OpTranscribe,
		Instruction: assets.TranscribeAudioPrompt,
		Attachments: []oracle.Attachment{{MIMEType: mimeType, Data: data}},
		Timeout:     TranscriptionTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	transcript := strings.TrimSpace(reply)
	log.Debug().Int("transcript_length", len(transcript)).Msg("Audio transcribed")
	return transcript, nil
}

func (a *Analyzer) failed(index int, op string, err error) Result {
	log.Warn().
		Err(err).
		Int("sample_index", index).
		Str("operation", op).
		Str("class", string(oracle.Classify(err))).
		Msg("Analysis failed, recording sentinel verdict")
	return Failed(index, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
