package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/siren-hq/siren/internal/analyzer"
	"github.com/siren-hq/siren/internal/assets"
	"github.com/siren-hq/siren/internal/extractor"
	"github.com/siren-hq/siren/internal/metrics"
	"github.com/siren-hq/siren/internal/oracle"
	"github.com/siren-hq/siren/internal/report"
	"github.com/siren-hq/siren/internal/transcoder"
)

// fakeTranscoder writes frame and audio files the way ffmpeg would, based on
// the output argument.
type fakeTranscoder struct {
	mu        sync.Mutex
	calls     []string
	keyframes int
	intervals int
	frameErr  error
	audioErr  error
}

func (f *fakeTranscoder) Run(_ context.Context, command string, args []string, _ time.Duration) (*transcoder.Result, error) {
	out := args[len(args)-1]
	base := filepath.Base(out)

	f.mu.Lock()
	f.calls = append(f.calls, base)
	f.mu.Unlock()

	switch {
	case base == extractor.AudioFileName:
		if f.audioErr != nil {
			return nil, f.audioErr
		}
		return &transcoder.Result{}, os.WriteFile(out, []byte("RIFF....WAVEfmt "), 0o644)
	case strings.HasPrefix(base, extractor.KeyframePrefix):
		if f.frameErr != nil {
			return nil, f.frameErr
		}
		return &transcoder.Result{}, writeFrames(out, f.keyframes)
	case strings.HasPrefix(base, extractor.IntervalPrefix):
		return &transcoder.Result{}, writeFrames(out, f.intervals)
	}
	return nil, fmt.Errorf("unexpected output %s", out)
}

func (f *fakeTranscoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func writeFrames(pattern string, n int) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := os.WriteFile(fmt.Sprintf(pattern, i+1), buf.Bytes(), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// scripted returns replies in order and records each request. A non-nil
// entry in errs fails the call at the same position.
type scripted struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []oracle.Request
}

func (s *scripted) Generate(_ context.Context, req oracle.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", oracle.ErrEmptyResponse
}

type fixture struct {
	ctrl     *Controller
	runner   *fakeTranscoder
	oracle   *scripted
	video    VideoAsset
	workRoot string
}

func newFixture(t *testing.T, credential string, runner *fakeTranscoder, o *scripted) *fixture {
	t.Helper()
	metrics.Configure(io.Discard, true, "")
	t.Cleanup(func() { metrics.Configure(nil, true, "") })

	dir := t.TempDir()
	videoPath := filepath.Join(dir, "upload.mp4")
	if err := os.WriteFile(videoPath, []byte("not really a video"), 0o644); err != nil {
		t.Fatal(err)
	}
	workRoot := filepath.Join(dir, "work")

	var orc oracle.Oracle
	if o != nil {
		orc = o
	}
	ctrl := NewController(credential, orc, runner, Options{
		WorkRoot: workRoot,
		Analyzer: analyzer.Options{
			Sleep: func(context.Context, time.Duration) error { return nil },
		},
	})
	return &fixture{
		ctrl:     ctrl,
		runner:   runner,
		oracle:   o,
		video:    VideoAsset{Path: videoPath, SizeBytes: 18, MIMEType: "video/mp4"},
		workRoot: workRoot,
	}
}

func (f *fixture) runDirs(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.workRoot)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	var dirs []string
	for _, e := range entries {
		dirs = append(dirs, e.Name())
	}
	return dirs
}

func assertVideoDeleted(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected uploaded video to be deleted, stat err = %v", err)
	}
}

func TestRun_IndependentScenario(t *testing.T) {
	f := newFixture(t, "key", &fakeTranscoder{keyframes: 3}, &scripted{replies: []string{
		`{"emergency_type":"fire","confidence":0.9}`,
		`{"emergency_type":"none","confidence":0.1}`,
		`the model rambled without JSON`,
	}})

	res := f.ctrl.Run(context.Background(), f.video, RunConfig{Mode: ModeIndependent})

	if !res.Success() {
		t.Fatalf("expected success, got %+v", res.Failure)
	}
	if res.Report.EmergencyCount != 1 || res.Report.Alert != report.AlertEmergencyDetected {
		t.Errorf("unexpected report totals %+v", res.Report)
	}
	wantSummary := []report.SummaryEntry{{SampleIndex: 0, EmergencyType: "fire", Confidence: 0.9}}
	if diff := cmp.Diff(wantSummary, res.Report.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if !res.Report.Verdicts[2].IsSentinel() {
		t.Errorf("expected verdict 2 to be a sentinel, got %+v", res.Report.Verdicts[2])
	}
	for i, v := range res.Report.Verdicts {
		if v.SampleIndex != i {
			t.Errorf("verdict %d carries sample index %d", i, v.SampleIndex)
		}
	}
	if res.SamplesAnalyzed != 3 {
		t.Errorf("expected 3 samples analyzed, got %d", res.SamplesAnalyzed)
	}

	assertVideoDeleted(t, f.video.Path)
	if dirs := f.runDirs(t); len(dirs) != 0 {
		t.Errorf("expected work directory removed, found %v", dirs)
	}
}

func TestRun_MissingCredentialFailsBeforeExtraction(t *testing.T) {
	tests := []struct {
		name       string
		credential string
		oracle     *scripted
	}{
		{"Empty credential", "", &scripted{}},
		{"No oracle", "key", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeTranscoder{keyframes: 3}
			f := newFixture(t, tt.credential, runner, tt.oracle)

			res := f.ctrl.Run(context.Background(), f.video, RunConfig{})

			if res.Success() || res.Failure.Kind != KindConfig {
				t.Fatalf("expected config failure, got %+v", res.Failure)
			}
			if !errors.Is(res.Failure.Err, ErrConfig) {
				t.Errorf("expected ErrConfig, got %v", res.Failure.Err)
			}
			if res.Failure.Stage != StageReceived {
				t.Errorf("expected failure at %s, got %s", StageReceived, res.Failure.Stage)
			}
			if n := runner.callCount(); n != 0 {
				t.Errorf("expected no transcoder invocations, got %d", n)
			}
			if res.ClientError() {
				t.Error("config failure is not client-correctable")
			}
			assertVideoDeleted(t, f.video.Path)
		})
	}
}

func TestRun_UnknownMode(t *testing.T) {
	runner := &fakeTranscoder{keyframes: 1}
	f := newFixture(t, "key", runner, &scripted{})

	res := f.ctrl.Run(context.Background(), f.video, RunConfig{Mode: "parallel"})

	if res.Success() || res.Failure.Kind != KindConfig {
		t.Fatalf("expected config failure, got %+v", res.Failure)
	}
	if runner.callCount() != 0 {
		t.Error("expected no transcoder invocations")
	}
}

func TestRun_NoFramesIsClientError(t *testing.T) {
	runner := &fakeTranscoder{}
	f := newFixture(t, "key", runner, &scripted{})

	res := f.ctrl.Run(context.Background(), f.video, RunConfig{})

	if res.Success() || res.Failure.Kind != KindNoFrames {
		t.Fatalf("expected no-frames failure, got %+v", res.Failure)
	}
	if !res.ClientError() {
		t.Error("expected no-frames failure to be client-correctable")
	}
	if res.Failure.Stage != StageExtracting {
		t.Errorf("expected failure at %s, got %s", StageExtracting, res.Failure.Stage)
	}
	if runner.callCount() != 2 {
		t.Errorf("expected primary and fallback strategies, got %d calls", runner.callCount())
	}
	if len(f.oracle.requests) != 0 {
		t.Error("expected no oracle calls")
	}
	assertVideoDeleted(t, f.video.Path)
	if dirs := f.runDirs(t); len(dirs) != 0 {
		t.Errorf("expected work directory removed on failure, found %v", dirs)
	}
}

func TestRun_ProcessErrorIsServerError(t *testing.T) {
	procErr := &transcoder.ProcessError{Kind: transcoder.KindTimedOut, Command: "ffmpeg"}
	f := newFixture(t, "key", &fakeTranscoder{frameErr: procErr}, &scripted{})

	res := f.ctrl.Run(context.Background(), f.video, RunConfig{})

	if res.Success() || res.Failure.Kind != KindProcess {
		t.Fatalf("expected process failure, got %+v", res.Failure)
	}
	if res.ClientError() {
		t.Error("process failure is not client-correctable")
	}
	assertVideoDeleted(t, f.video.Path)
}

func TestRun_FusedAudioTimeoutCompletes(t *testing.T) {
	runner := &fakeTranscoder{
		keyframes: 2,
		audioErr:  &transcoder.ProcessError{Kind: transcoder.KindTimedOut, Command: "ffmpeg"},
	}
	o := &scripted{replies: []string{`{"emergency_type":"fire","department":"fire","confidence":0.8,"severity":"high"}`}}
	f := newFixture(t, "key", runner, o)

	res := f.ctrl.Run(context.Background(), f.video, RunConfig{Mode: ModeFused})

	if !res.Success() {
		t.Fatalf("expected success despite audio timeout, got %+v", res.Failure)
	}
	if len(o.requests) != 1 || o.requests[0].Operation != analyzer.OpFused {
		t.Fatalf("expected only the fused call, got %+v", o.requests)
	}
	v := res.Report.Verdicts[0]
	if v.Transcript != "" {
		t.Errorf("expected transcript absent, got %q", v.Transcript)
	}
	if !res.Report.EmergenciesDetected || res.Report.Alert != report.AlertEmergencyDetected {
		t.Errorf("expected fused emergency, got %+v", res.Report)
	}
	if res.SamplesAnalyzed != 1 {
		t.Errorf("expected 1 sample analyzed, got %d", res.SamplesAnalyzed)
	}
}

func TestRun_FusedWithTranscript(t *testing.T) {
	o := &scripted{replies: []string{
		"smoke is coming out of the garage",
		`{"emergency_type":"fire","confidence":0.7}`,
	}}
	f := newFixture(t, "key", &fakeTranscoder{keyframes: 1}, o)

	res := f.ctrl.Run(context.Background(), f.video, RunConfig{Mode: ModeFused})

	if !res.Success() {
		t.Fatalf("expected success, got %+v", res.Failure)
	}
	if len(o.requests) != 2 || o.requests[0].Operation != analyzer.OpTranscribe {
		t.Fatalf("expected transcription then fused call, got %d requests", len(o.requests))
	}
	if !strings.Contains(o.requests[1].Instruction, "smoke is coming out of the garage") {
		t.Error("expected transcript in fused instruction")
	}
	if got := res.Report.Verdicts[0].Transcript; got != "smoke is coming out of the garage" {
		t.Errorf("unexpected transcript %q", got)
	}
	if res.SamplesAnalyzed != 2 {
		t.Errorf("expected frame and audio counted, got %d", res.SamplesAnalyzed)
	}
}

func TestRun_FusedIgnoresEchoedPlaceholder(t *testing.T) {
	runner := &fakeTranscoder{
		keyframes: 1,
		audioErr:  &transcoder.ProcessError{Kind: transcoder.KindTimedOut, Command: "ffmpeg"},
	}
	o := &scripted{replies: []string{
		`{"emergency_type":"fire","confidence":0.8,"transcript":"` + assets.NoTranscript + `"}`,
	}}
	f := newFixture(t, "key", runner, o)

	res := f.ctrl.Run(context.Background(), f.video, RunConfig{Mode: ModeFused})

	if !res.Success() {
		t.Fatalf("expected success, got %+v", res.Failure)
	}
	if !strings.Contains(o.requests[0].Instruction, assets.NoTranscript) {
		t.Fatal("expected placeholder in the fused instruction")
	}
	if got := res.Report.Verdicts[0].Transcript; got != "" {
		t.Errorf("expected transcript absent, got %q", got)
	}
}

func TestRun_FusedTranscriptionFailureCountsFrameOnly(t *testing.T) {
	o := &scripted{
		replies: []string{"", `{"emergency_type":"flood","confidence":0.6}`},
		errs:    []error{oracle.ErrEmptyResponse},
	}
	f := newFixture(t, "key", &fakeTranscoder{keyframes: 1}, o)

	res := f.ctrl.Run(context.Background(), f.video, RunConfig{Mode: ModeFused})

	if !res.Success() {
		t.Fatalf("expected success, got %+v", res.Failure)
	}
	if len(o.requests) != 2 || o.requests[0].Operation != analyzer.OpTranscribe {
		t.Fatalf("expected transcription then fused call, got %d requests", len(o.requests))
	}
	if got := res.Report.Verdicts[0].Transcript; got != "" {
		t.Errorf("expected transcript absent, got %q", got)
	}
	if res.SamplesAnalyzed != 1 {
		t.Errorf("expected only the frame counted, got %d", res.SamplesAnalyzed)
	}
}

func TestRun_RetainDiagnostics(t *testing.T) {
	f := newFixture(t, "key", &fakeTranscoder{keyframes: 1}, &scripted{replies: []string{
		`{"emergency_type":"none","confidence":0.2}`,
	}})

	res := f.ctrl.Run(context.Background(), f.video, RunConfig{RetainDiagnostics: true})

	if !res.Success() {
		t.Fatalf("expected success, got %+v", res.Failure)
	}
	dirs := f.runDirs(t)
	if len(dirs) != 1 || dirs[0] != "run-"+res.RunID {
		t.Fatalf("expected retained run directory, found %v", dirs)
	}
	if _, err := os.Stat(filepath.Join(f.workRoot, dirs[0], fmt.Sprintf(extractor.KeyframePattern, 1))); err != nil {
		t.Errorf("expected retained frame: %v", err)
	}
	assertVideoDeleted(t, f.video.Path)
}

func TestResult_JSON(t *testing.T) {
	t.Run("Failure", func(t *testing.T) {
		res := &Result{RunID: "abc", Failure: &Failure{Stage: StageExtracting, Kind: KindNoFrames, Message: "no frames"}}
		data, err := json.Marshal(res)
		if err != nil {
			t.Fatal(err)
		}
		var got map[string]any
		json.Unmarshal(data, &got)
		want := map[string]any{
			"success":   false,
			"runId":     "abc",
			"stage":     "extracting",
			"errorKind": "no_frames_extractable",
			"message":   "no frames",
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("failure body mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Independent", func(t *testing.T) {
		rep := report.Aggregate(nil)
		data, _ := json.Marshal(&Result{RunID: "abc", Mode: ModeIndependent, Report: &rep})
		s := string(data)
		for _, want := range []string{`"success":true`, `"summary":[]`, `"alert":"NO_EMERGENCY"`, `"samplesAnalyzed":0`} {
			if !strings.Contains(s, want) {
				t.Errorf("expected %s in %s", want, s)
			}
		}
	})

	t.Run("Fused", func(t *testing.T) {
		rep := report.AggregateFused(analyzer.Ok(analyzer.Verdict{EmergencyType: "fire", Confidence: 0.9}))
		data, _ := json.Marshal(&Result{RunID: "abc", Mode: ModeFused, Report: &rep, SamplesAnalyzed: 1})
		s := string(data)
		if !strings.Contains(s, `"verdict":{"sampleIndex":0,"emergencyType":"fire","confidence":0.9}`) {
			t.Errorf("expected fused verdict in %s", s)
		}
		if strings.Contains(s, `"summary"`) {
			t.Errorf("fused body must not carry a summary: %s", s)
		}
	})
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeIndependent, false},
		{"independent", ModeIndependent, false},
		{"fused", ModeFused, false},
		{"FUSED", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}
