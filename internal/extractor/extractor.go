// Package extractor derives the ordered sample set for one video: up to three
// still frames and, on request, a normalized mono audio track.
//
// Frames come from scene-change detection first. When that produces no usable
// file the extractor falls back to fixed-interval sampling exactly once. Both
// strategies write into the run's work directory through the transcoder, and
// the extractor re-scans that directory with the same filename pattern it
// handed to ffmpeg.
package extractor

import (
	"errors"
	"time"

	"github.com/siren-hq/siren/internal/transcoder"
)

// Output naming shared between the ffmpeg output argument and the directory scan.
const (
	KeyframePrefix  = "keyframe_"
	IntervalPrefix  = "interval_"
	FrameExtension  = ".jpg"
	KeyframePattern = KeyframePrefix + "%03d" + FrameExtension
	IntervalPattern = IntervalPrefix + "%03d" + FrameExtension
	AudioFileName   = "audio.wav"
)

// Strategy parameters.
const (
	// SceneThreshold is the minimum scene-change score that emits a key-frame.
	SceneThreshold = 0.4

	// MaxSceneOutputs caps raw ffmpeg output for the scene-change strategy.
	MaxSceneOutputs = 10

	// MaxFrames is the number of frames kept for analysis.
	MaxFrames = 3

	// IntervalSeconds is the fallback sampling period.
	IntervalSeconds = 10

	// FrameJPEGQuality is the ffmpeg -q:v value. 2 is near-lossless JPEG.
	FrameJPEGQuality = 2

	// AudioSampleRate and AudioChannels describe the normalized audio track
	// (16-bit PCM WAV).
	AudioSampleRate = 16000
	AudioChannels   = 1
)

// Deadlines for each transcoder invocation.
const (
	DefaultFrameTimeout = 30 * time.Second
	DefaultAudioTimeout = 30 * time.Second
)

// ErrNoFramesExtractable is returned when both frame strategies yield no valid file.
var ErrNoFramesExtractable = errors.New("no frames extractable from video")

// Kind identifies how a sample was produced.
type Kind string

const (
	KindKeyframe Kind = "keyframe"
	KindInterval Kind = "interval"
	KindAudio    Kind = "audio"
)

// Sample is one extracted unit submitted for analysis.
type Sample struct {
	Index     int    `json:"index"`
	Kind      Kind   `json:"kind"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"sizeBytes"`
}

// SampleSet is the ordered output of extraction. Frames is never empty for a
// successful run; Audio is nil when no track was requested or extraction failed.
type SampleSet struct {
	Frames []Sample
	Audio  *Sample
}

// Options tunes an Extractor. Zero values select the package defaults.
type Options struct {
	Binary       string
	FrameTimeout time.Duration
	AudioTimeout time.Duration
}

// Extractor runs the frame and audio strategies through a transcoder.Runner.
type Extractor struct {
	runner       transcoder.Runner
	binary       string
	frameTimeout time.Duration
	audioTimeout time.Duration
}

// New returns an Extractor that invokes the transcoder through runner.
func New(runner transcoder.Runner, opts Options) *Extractor {
	e := &Extractor{
		runner:       runner,
		binary:       opts.Binary,
		frameTimeout: opts.FrameTimeout,
		audioTimeout: opts.AudioTimeout,
	}
	if e.binary == "" {
		e.binary = transcoder.DefaultBinary
	}
	if e.frameTimeout <= 0 {
		e.frameTimeout = DefaultFrameTimeout
	}
	if e.audioTimeout <= 0 {
		e.audioTimeout = DefaultAudioTimeout
	}
	return e
}
