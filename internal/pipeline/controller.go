// Package pipeline runs one uploaded video through extraction, analysis and
// aggregation, and owns the video file and work directory for the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/siren-hq/siren/internal/analyzer"
	"github.com/siren-hq/siren/internal/extractor"
	"github.com/siren-hq/siren/internal/metrics"
	"github.com/siren-hq/siren/internal/oracle"
	"github.com/siren-hq/siren/internal/report"
	"github.com/siren-hq/siren/internal/transcoder"
)

// ErrConfig marks a run that cannot start because the controller is not
// fully configured (no oracle credential, unknown mode).
var ErrConfig = errors.New("configuration error")

// Mode selects how samples are analyzed.
type Mode string

const (
	// ModeIndependent classifies each frame separately.
	ModeIndependent Mode = "independent"
	// ModeFused makes one call with the first frame and the audio transcript.
	ModeFused Mode = "fused"
)

// ParseMode maps a configuration string onto a Mode. Empty selects
// ModeIndependent.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeIndependent:
		return ModeIndependent, nil
	case ModeFused:
		return ModeFused, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrConfig, s)
	}
}

// Stage is a state of the run state machine.
type Stage string

const (
	StageReceived    Stage = "received"
	StageExtracting  Stage = "extracting"
	StageAnalyzing   Stage = "analyzing"
	StageAggregating Stage = "aggregating"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

// VideoAsset is an uploaded video already validated by ingress. The
// controller deletes Path when the run ends.
type VideoAsset struct {
	Path      string
	SizeBytes int64
	MIMEType  string
}

// RunConfig holds per-run options.
type RunConfig struct {
	Mode              Mode
	RetainDiagnostics bool
}

// Options configures a Controller.
type Options struct {
	// WorkRoot is the parent of per-run work directories. Defaults to os.TempDir().
	WorkRoot  string
	Extractor extractor.Options
	Analyzer  analyzer.Options
}

// Controller drives runs. It is safe for concurrent use; runs share nothing
// but WorkRoot, partitioned by run ID.
type Controller struct {
	credential string
	oracle     oracle.Oracle
	extractor  *extractor.Extractor
	analyzer   *analyzer.Analyzer
	workRoot   string
}

// NewController builds a Controller. credential is the resolved oracle API
// key; it is only checked for presence, at the start of each run.
func NewController(credential string, o oracle.Oracle, runner transcoder.Runner, opts Options) *Controller {
	workRoot := opts.WorkRoot
	if workRoot == "" {
		workRoot = os.TempDir()
	}
	c := &Controller{
		credential: credential,
		oracle:     o,
		extractor:  extractor.New(runner, opts.Extractor),
		workRoot:   workRoot,
	}
	if o != nil {
		c.analyzer = analyzer.New(o, opts.Analyzer)
	}
	return c
}

// run carries the mutable state of one pipeline execution.
type run struct {
	id      string
	cfg     RunConfig
	video   VideoAsset
	workdir string
	stage   Stage
	started time.Time
	logger  zerolog.Logger
}

func (r *run) transition(next Stage) {
	r.logger.Info().
		Str("from", string(r.stage)).
		Str("to", string(next)).
		Msg("Pipeline stage transition")
	r.stage = next
}

func (r *run) fail(kind ErrorKind, err error) *Result {
	stage := r.stage
	r.logger.Error().
		Err(err).
		Str("stage", string(stage)).
		Str("error_kind", string(kind)).
		Msg("Pipeline run failed")
	r.stage = StageFailed
	return &Result{
		RunID: r.id,
		Mode:  r.cfg.Mode,
		Failure: &Failure{
			Stage:   stage,
			Kind:    kind,
			Message: err.Error(),
			Err:     err,
		},
	}
}

// Run processes video and returns the structured result. The video file is
// always deleted before Run returns; the work directory is deleted unless
// cfg.RetainDiagnostics is set.
func (c *Controller) Run(ctx context.Context, video VideoAsset, cfg RunConfig) *Result {
	start := time.Now()
	id := uuid.NewString()
	r := &run{
		id:      id,
		cfg:     cfg,
		video:   video,
		workdir: filepath.Join(c.workRoot, "run-"+id),
		stage:   StageReceived,
		started: start,
		logger:  log.With().Str("run_id", id).Logger(),
	}
	r.logger.Info().
		Str("video", filepath.Base(video.Path)).
		Int64("size_bytes", video.SizeBytes).
		Str("mime_type", video.MIMEType).
		Str("mode", string(cfg.Mode)).
		Msg("Pipeline run received")

	defer c.release(r)

	res := c.execute(ctx, r)

	outcome := "completed"
	if !res.Success() {
		outcome = "failed"
	}
	m := metrics.New(metrics.Namespace()).
		Dimension("Mode", string(r.cfg.Mode)).
		Dimension("Outcome", outcome).
		Metric("RunDurationMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
		Metric("SamplesAnalyzed", float64(res.SamplesAnalyzed), metrics.UnitCount).
		Count("Runs")
	if res.Report != nil {
		m.Metric("EmergencyCount", float64(res.Report.EmergencyCount), metrics.UnitCount)
	}
	if res.Failure != nil {
		m.Property("errorKind", string(res.Failure.Kind))
	}
	m.Flush()

	return res
}

func (c *Controller) execute(ctx context.Context, r *run) *Result {
	mode, err := ParseMode(string(r.cfg.Mode))
	if err != nil {
		return r.fail(KindConfig, err)
	}
	r.cfg.Mode = mode

	if c.credential == "" || c.analyzer == nil {
		return r.fail(KindConfig, fmt.Errorf("%w: oracle credential is not configured", ErrConfig))
	}

	r.transition(StageExtracting)
	samples, err := c.extract(ctx, r)
	if err != nil {
		switch {
		case errors.Is(err, extractor.ErrNoFramesExtractable):
			return r.fail(KindNoFrames, err)
		case errors.Is(err, transcoder.ErrProcess):
			return r.fail(KindProcess, err)
		default:
			return r.fail(KindInternal, err)
		}
	}

	r.transition(StageAnalyzing)
	var rep report.EmergencyReport
	var analyzed int
	if r.cfg.Mode == ModeFused {
		transcript := c.transcribe(ctx, r, samples.Audio)
		result := c.analyzer.AnalyzeFused(ctx, samples.Frames, transcript, r.started)
		r.transition(StageAggregating)
		rep = report.AggregateFused(result)
		analyzed = 1
		if transcript != "" {
			analyzed++
		}
	} else {
		results := c.analyzer.AnalyzeSamples(ctx, samples.Frames)
		r.transition(StageAggregating)
		rep = report.Aggregate(results)
		analyzed = len(results)
	}

	r.transition(StageCompleted)
	r.logger.Info().
		Str("alert", rep.Alert).
		Int("emergency_count", rep.EmergencyCount).
		Int("samples_analyzed", analyzed).
		Msg("Pipeline run completed")

	return &Result{
		RunID:           r.id,
		Mode:            r.cfg.Mode,
		Report:          &rep,
		SamplesAnalyzed: analyzed,
	}
}

// extract produces the run's SampleSet. In fused mode frame and audio
// extraction run concurrently and audio failure only means no audio.
func (c *Controller) extract(ctx context.Context, r *run) (extractor.SampleSet, error) {
	if err := os.MkdirAll(r.workdir, 0o755); err != nil {
		return extractor.SampleSet{}, fmt.Errorf("failed to create work directory: %w", err)
	}

	if r.cfg.Mode != ModeFused {
		frames, err := c.extractor.ExtractFrames(ctx, r.video.Path, r.workdir)
		return extractor.SampleSet{Frames: frames}, err
	}

	var set extractor.SampleSet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		frames, err := c.extractor.ExtractFrames(gctx, r.video.Path, r.workdir)
		if err != nil {
			return err
		}
		set.Frames = frames
		return nil
	})
	g.Go(func() error {
		audio, err := c.extractor.ExtractAudio(gctx, r.video.Path, r.workdir)
		if err != nil {
			r.logger.Warn().Err(err).Msg("Audio extraction failed, continuing without transcript")
			return nil
		}
		set.Audio = audio
		return nil
	})
	if err := g.Wait(); err != nil {
		return extractor.SampleSet{}, err
	}
	return set, nil
}

func (c *Controller) transcribe(ctx context.Context, r *run, audio *extractor.Sample) string {
	if audio == nil {
		return ""
	}
	transcript, err := c.analyzer.Transcribe(ctx, audio)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Transcription failed, continuing without transcript")
		return ""
	}
	return transcript
}

// release deletes the uploaded video and, unless retention is configured,
// the run's work directory.
func (c *Controller) release(r *run) {
	if r.video.Path != "" {
		if err := os.Remove(r.video.Path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn().Err(err).Str("path", r.video.Path).Msg("Failed to delete uploaded video")
		}
	}

	if r.cfg.RetainDiagnostics {
		r.logger.Info().Str("workdir", r.workdir).Msg("Retaining work directory for diagnostics")
		return
	}
	if err := os.RemoveAll(r.workdir); err != nil {
		r.logger.Warn().Err(err).Str("workdir", r.workdir).Msg("Failed to remove work directory")
	}
}
