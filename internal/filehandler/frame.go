package filehandler

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// DefaultFrameMaxDimension is the largest width or height sent to the oracle.
// Larger frames are downscaled before upload.
const DefaultFrameMaxDimension = 1568

// FrameJPEGQuality is the encoder quality used when a frame is re-encoded.
const FrameJPEGQuality = 90

// PreparedFrame is a frame ready to attach to an oracle request.
type PreparedFrame struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	Resized  bool
}

// PrepareFrame reads an extracted frame, confirms it decodes as an image and
// downscales it to fit maxDimension. Frames already within bounds are returned
// byte-for-byte. maxDimension <= 0 disables resizing.
func PrepareFrame(path string, maxDimension int) (*PreparedFrame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("frame %s is empty", filepath.Base(path))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame header: %w", err)
	}
	mimeType := "image/" + format

	if maxDimension <= 0 || (cfg.Width <= maxDimension && cfg.Height <= maxDimension) {
		return &PreparedFrame{Data: data, MIMEType: mimeType, Width: cfg.Width, Height: cfg.Height}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	newWidth, newHeight := calculateDimensions(cfg.Width, cfg.Height, maxDimension)
	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: FrameJPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode resized frame: %w", err)
	}

	log.Debug().
		Str("frame", filepath.Base(path)).
		Int("orig_width", cfg.Width).
		Int("orig_height", cfg.Height).
		Int("new_width", newWidth).
		Int("new_height", newHeight).
		Int("output_size", buf.Len()).
		Msg("Frame downscaled")

	return &PreparedFrame{
		Data:     buf.Bytes(),
		MIMEType: "image/jpeg",
		Width:    newWidth,
		Height:   newHeight,
		Resized:  true,
	}, nil
}

// calculateDimensions scales width and height so the longer side equals
// maxDimension, preserving aspect ratio.
func calculateDimensions(width, height, maxDimension int) (int, int) {
	if width >= height {
		h := height * maxDimension / width
		if h < 1 {
			h = 1
		}
		return maxDimension, h
	}
	w := width * maxDimension / height
	if w < 1 {
		w = 1
	}
	return w, maxDimension
}
