// Package filehandler provides media type lookup for uploads and extracted
// samples, and prepares extracted frames for inline submission to the oracle.
package filehandler

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// MaxVideoBytes is the upload ceiling for a single video.
const MaxVideoBytes int64 = 100 * 1024 * 1024 // 100 MiB

// SupportedVideoExtensions maps accepted video extensions to MIME types.
var SupportedVideoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".m4v":  "video/x-m4v",
	".3gp":  "video/3gpp",
}

// SampleExtensions maps extensions of extracted samples to MIME types.
var SampleExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".wav":  "audio/wav",
}

// GetMIMEType returns the MIME type for a video or sample extension.
func GetMIMEType(ext string) (string, error) {
	ext = strings.ToLower(ext)
	if m, ok := SupportedVideoExtensions[ext]; ok {
		return m, nil
	}
	if m, ok := SampleExtensions[ext]; ok {
		return m, nil
	}
	return "", fmt.Errorf("unsupported file extension: %s", ext)
}

// IsVideo returns true if the extension is a supported video format.
func IsVideo(ext string) bool {
	_, ok := SupportedVideoExtensions[strings.ToLower(ext)]
	return ok
}

// IsVideoMIMEType reports whether contentType (which may carry parameters)
// names a video/* media type.
func IsVideoMIMEType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "video/")
}

// ResolveVideoMIMEType picks the declared content type when it is a video
// type, otherwise falls back to the filename extension. Returns "" when
// neither identifies a video.
func ResolveVideoMIMEType(declared, filename string) string {
	if IsVideoMIMEType(declared) {
		mediaType, _, _ := mime.ParseMediaType(declared)
		return mediaType
	}
	if m, ok := SupportedVideoExtensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return m
	}
	return ""
}
