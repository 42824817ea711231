package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// frameStrategy describes one way of producing still frames.
type frameStrategy struct {
	name    string
	kind    Kind
	prefix  string
	pattern string
	filter  string
	limit   int
}

var (
	sceneStrategy = frameStrategy{
		name:    "scene-change",
		kind:    KindKeyframe,
		prefix:  KeyframePrefix,
		pattern: KeyframePattern,
		filter:  fmt.Sprintf(`select=gt(scene\,%.1f)`, SceneThreshold),
		limit:   MaxSceneOutputs,
	}
	intervalStrategy = frameStrategy{
		name:    "interval",
		kind:    KindInterval,
		prefix:  IntervalPrefix,
		pattern: IntervalPattern,
		filter:  fmt.Sprintf("fps=1/%d", IntervalSeconds),
		limit:   MaxFrames,
	}
)

// ExtractFrames produces up to MaxFrames frame samples for videoPath inside
// workdir. Scene-change detection runs first; interval sampling runs once if
// it yields nothing valid. A transcoder failure in either strategy is returned
// as is. ErrNoFramesExtractable is returned when both strategies come back empty.
func (e *Extractor) ExtractFrames(ctx context.Context, videoPath, workdir string) ([]Sample, error) {
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	log.Info().
		Str("video", filepath.Base(videoPath)).
		Str("workdir", workdir).
		Msg("Starting frame extraction")

	samples, err := e.runFrameStrategy(ctx, sceneStrategy, videoPath, workdir)
	if err != nil {
		return nil, err
	}
	if len(samples) > 0 {
		return samples, nil
	}

	log.Info().
		Str("video", filepath.Base(videoPath)).
		Int("interval_s", IntervalSeconds).
		Msg("No scene-change frames, falling back to interval sampling")

	samples, err = e.runFrameStrategy(ctx, intervalStrategy, videoPath, workdir)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNoFramesExtractable
	}
	return samples, nil
}

func (e *Extractor) runFrameStrategy(ctx context.Context, s frameStrategy, videoPath, workdir string) ([]Sample, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vf", s.filter,
	}
	if s.kind == KindKeyframe {
		args = append(args, "-vsync", "vfr")
	}
	args = append(args,
		"-q:v", strconv.Itoa(FrameJPEGQuality),
		"-frames:v", strconv.Itoa(s.limit),
		"-y",
		filepath.Join(workdir, s.pattern),
	)

	if _, err := e.runner.Run(ctx, e.binary, args, e.frameTimeout); err != nil {
		log.Error().Err(err).Str("strategy", s.name).Msg("Frame extraction failed")
		return nil, fmt.Errorf("%s frame extraction: %w", s.name, err)
	}

	samples, err := collectFrames(workdir, s.prefix, s.kind, MaxFrames)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("strategy", s.name).
		Int("frames", len(samples)).
		Msg("Frame strategy complete")

	return samples, nil
}

// collectFrames lists files in dir whose names match prefix and the frame
// extension, sorts them (the fixed-width suffix makes this chronological),
// drops entries that are missing, empty or unreadable, and keeps the first
// limit. Validation runs before the cap so invalid files never take a slot.
func collectFrames(dir, prefix string, kind Kind, limit int) ([]Sample, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, FrameExtension) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	samples := make([]Sample, 0, limit)
	for _, name := range names {
		if len(samples) == limit {
			break
		}
		path := filepath.Join(dir, name)
		size, ok := validateFile(path)
		if !ok {
			log.Debug().Str("file", name).Msg("Dropping invalid frame")
			continue
		}
		samples = append(samples, Sample{
			Index:     len(samples),
			Kind:      kind,
			Path:      path,
			SizeBytes: size,
		})
	}
	return samples, nil
}

// validateFile reports the size of path if it is a regular, non-empty file
// that can be opened for reading.
func validateFile(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return 0, false
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	f.Close()
	return info.Size(), true
}
