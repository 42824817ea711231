package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
)

// ExtractAudio strips the video stream and writes a mono 16 kHz 16-bit PCM
// WAV file named AudioFileName into workdir. Failures are returned to the
// caller, which decides whether a missing track matters.
func (e *Extractor) ExtractAudio(ctx context.Context, videoPath, workdir string) (*Sample, error) {
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	dest := filepath.Join(workdir, AudioFileName)
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(AudioSampleRate),
		"-ac", strconv.Itoa(AudioChannels),
		"-y",
		dest,
	}

	if _, err := e.runner.Run(ctx, e.binary, args, e.audioTimeout); err != nil {
		return nil, fmt.Errorf("audio extraction: %w", err)
	}

	size, ok := validateFile(dest)
	if !ok {
		return nil, fmt.Errorf("audio extraction produced no usable file at %s", filepath.Base(dest))
	}

	log.Info().
		Str("video", filepath.Base(videoPath)).
		Int64("size_bytes", size).
		Msg("Audio track extracted")

	return &Sample{Index: 0, Kind: KindAudio, Path: dest, SizeBytes: size}, nil
}
