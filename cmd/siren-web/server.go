package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"

	"github.com/siren-hq/siren/internal/filehandler"
	"github.com/siren-hq/siren/internal/pipeline"
)

// multipartMemory is how much of an upload ParseMultipartForm keeps in memory
// before spilling to disk.
const multipartMemory = 32 << 20

// multipartOverhead allows for form fields and part headers on top of the video.
const multipartOverhead = 1 << 20

// videoPipeline runs one uploaded video.
type videoPipeline interface {
	Run(ctx context.Context, video pipeline.VideoAsset, cfg pipeline.RunConfig) *pipeline.Result
}

type server struct {
	pipeline       videoPipeline
	uploadDir      string
	defaults       pipeline.RunConfig
	allowedOrigins []string
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	if len(s.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(withAccessLog)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Post("/api/analyze", s.handleAnalyze)

	return gzhttp.GzipHandler(r)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func formValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// analyzeForm holds the non-file fields of an analyze request.
type analyzeForm struct {
	Mode   string `validate:"omitempty,oneof=independent fused"`
	Retain string `validate:"omitempty,boolean"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAnalyze accepts a multipart upload with a "video" file part and
// optional "mode" and "retain" fields, runs the pipeline and responds with
// its structured result: 200 on success, 422 when the video yields no
// usable frames, 500 for other failures.
func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, filehandler.MaxVideoBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", filehandler.MaxVideoBytes))
			return
		}
		httpError(w, http.StatusBadRequest, "expected multipart/form-data upload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := analyzeForm{
		Mode:   strings.TrimSpace(r.FormValue("mode")),
		Retain: strings.TrimSpace(r.FormValue("retain")),
	}
	if err := formValidator().Struct(form); err != nil {
		httpError(w, http.StatusBadRequest, "invalid form: "+err.Error())
		return
	}
	runCfg := s.defaults
	if form.Mode != "" {
		runCfg.Mode = pipeline.Mode(form.Mode)
	}
	if form.Retain != "" {
		runCfg.RetainDiagnostics, _ = strconv.ParseBool(form.Retain)
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		httpError(w, http.StatusBadRequest, "missing video file")
		return
	}
	defer file.Close()

	if header.Size <= 0 {
		httpError(w, http.StatusBadRequest, "video file is empty")
		return
	}
	if header.Size > filehandler.MaxVideoBytes {
		httpError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("video exceeds %d bytes", filehandler.MaxVideoBytes))
		return
	}
	mimeType := filehandler.ResolveVideoMIMEType(header.Header.Get("Content-Type"), header.Filename)
	if mimeType == "" {
		httpError(w, http.StatusBadRequest, "only video files are accepted")
		return
	}

	videoPath, size, err := s.saveUpload(file, header.Filename)
	if err != nil {
		log.Error().Err(err).Msg("Failed to store upload")
		httpError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	// Runs end on their own deadlines, not when the client disconnects.
	ctx := context.WithoutCancel(r.Context())
	res := s.pipeline.Run(ctx, pipeline.VideoAsset{Path: videoPath, SizeBytes: size, MIMEType: mimeType}, runCfg)

	status := http.StatusOK
	switch {
	case res.Success():
	case res.ClientError():
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, res)
}

// saveUpload copies the uploaded part to a file the pipeline can own and delete.
func (s *server) saveUpload(src io.Reader, filename string) (string, int64, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", 0, err
	}
	ext := strings.ToLower(filepath.Ext(filename))
	dst, err := os.CreateTemp(s.uploadDir, "upload-*"+ext)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst.Name())
		return "", 0, err
	}
	return dst.Name(), n, nil
}
