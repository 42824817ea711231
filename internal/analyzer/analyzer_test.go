package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/siren-hq/siren/internal/extractor"
	"github.com/siren-hq/siren/internal/oracle"
)

// scriptedOracle replies in order and records every request.
type scriptedOracle struct {
	replies  []string
	errs     []error
	requests []oracle.Request
}

func (s *scriptedOracle) Generate(_ context.Context, req oracle.Request) (string, error) {
	i := len(s.requests)
	s.requests = append(s.requests, req)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", oracle.ErrEmptyResponse
}

func writeFrames(t *testing.T, n int) []extractor.Sample {
	t.Helper()
	dir := t.TempDir()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatal(err)
	}
	samples := make([]extractor.Sample, n)
	for i := range samples {
		path := filepath.Join(dir, fmt.Sprintf(extractor.KeyframePattern, i+1))
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
		samples[i] = extractor.Sample{Index: i, Kind: extractor.KindKeyframe, Path: path, SizeBytes: int64(buf.Len())}
	}
	return samples
}

// recordSleep captures pacing delays without waiting.
func recordSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func verdicts(results []Result) []Verdict {
	out := make([]Verdict, len(results))
	for i, r := range results {
		out[i] = r.Verdict()
	}
	return out
}

func TestAnalyzeSamples_MixedReplies(t *testing.T) {
	o := &scriptedOracle{replies: []string{
		`{"emergency_type":"fire","confidence":0.9}`,
		"Sure! ```json\n{\"emergency_type\": \"none\", \"confidence\": 0.1}\n```",
		"I cannot help with that.",
	}}
	var delays []time.Duration
	a := New(o, Options{Sleep: recordSleep(&delays)})

	results := a.AnalyzeSamples(context.Background(), writeFrames(t, 3))

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	got := verdicts(results)
	want := []Verdict{
		{SampleIndex: 0, EmergencyType: "fire", Confidence: 0.9},
		{SampleIndex: 1, EmergencyType: "none", Confidence: 0.1},
		{SampleIndex: 2, EmergencyType: TypeError, Confidence: 0},
	}
	if diff := cmp.Diff(want, got, cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".ErrorDetail"
	}, cmp.Ignore())); diff != "" {
		t.Errorf("verdicts mismatch (-want +got):\n%s", diff)
	}

	if !errors.Is(results[2].Err(), ErrParse) || !errors.Is(results[2].Err(), ErrAnalysis) {
		t.Errorf("expected parse failure wrapped as analysis failure, got %v", results[2].Err())
	}
	if got[2].ErrorDetail == "" {
		t.Error("expected sentinel to carry an error detail")
	}

	if diff := cmp.Diff([]time.Duration{PacingDelay, PacingDelay}, delays); diff != "" {
		t.Errorf("pacing mismatch (-want +got):\n%s", diff)
	}
	for _, req := range o.requests {
		if req.Operation != OpClassify || req.Timeout != RequestTimeout {
			t.Errorf("unexpected request %s/%v", req.Operation, req.Timeout)
		}
		if len(req.Attachments) != 1 || req.Attachments[0].MIMEType != "image/jpeg" {
			t.Errorf("expected one image/jpeg attachment, got %+v", req.Attachments)
		}
	}
}

func TestAnalyzeSamples_TransportErrorContained(t *testing.T) {
	o := &scriptedOracle{
		replies: []string{"", `{"emergency_type":"accident","confidence":0.7}`},
		errs:    []error{context.DeadlineExceeded},
	}
	a := New(o, Options{Sleep: recordSleep(new([]time.Duration))})

	results := a.AnalyzeSamples(context.Background(), writeFrames(t, 2))

	if v := results[0].Verdict(); !v.IsSentinel() || v.Confidence != 0 {
		t.Errorf("expected sentinel for failed call, got %+v", v)
	}
	if v := results[1].Verdict(); v.EmergencyType != "accident" || v.SampleIndex != 1 {
		t.Errorf("expected batch to continue after failure, got %+v", v)
	}
}

func TestAnalyzeSamples_SingleFrameNoDelay(t *testing.T) {
	o := &scriptedOracle{replies: []string{`{"type":"flood","confidence":0.8}`}}
	var delays []time.Duration
	a := New(o, Options{Sleep: recordSleep(&delays)})

	results := a.AnalyzeSamples(context.Background(), writeFrames(t, 1))

	if len(delays) != 0 {
		t.Errorf("expected no pacing before the first call, got %v", delays)
	}
	if v := results[0].Verdict(); v.EmergencyType != "flood" {
		t.Errorf("expected type alias to be accepted, got %+v", v)
	}
}

func TestAnalyzeSamples_CancelledDuringPacing(t *testing.T) {
	o := &scriptedOracle{replies: []string{`{"emergency_type":"none","confidence":0.2}`}}
	ctx, cancel := context.WithCancel(context.Background())
	a := New(o, Options{Sleep: func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}})

	results := a.AnalyzeSamples(ctx, writeFrames(t, 3))

	if len(results) != 3 {
		t.Fatalf("expected one result per frame, got %d", len(results))
	}
	if len(o.requests) != 1 {
		t.Errorf("expected no oracle calls after cancellation, got %d", len(o.requests))
	}
	for _, r := range results[1:] {
		if !errors.Is(r.Err(), context.Canceled) {
			t.Errorf("expected cancellation sentinel, got %v", r.Err())
		}
	}
}

func TestAnalyzeSample_UnreadableFrame(t *testing.T) {
	o := &scriptedOracle{}
	a := New(o, Options{})

	r := a.AnalyzeSample(context.Background(), extractor.Sample{Index: 4, Path: filepath.Join(t.TempDir(), "gone.jpg")})

	if v := r.Verdict(); !v.IsSentinel() || v.SampleIndex != 4 {
		t.Errorf("expected sentinel for sample 4, got %+v", v)
	}
	if len(o.requests) != 0 {
		t.Error("oracle must not be called for an unreadable frame")
	}
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
		wantConf float64
		wantErr  bool
	}{
		{"Plain", `{"emergency_type":"fire","confidence":0.9}`, "fire", 0.9, false},
		{"Normalized type", `{"emergency_type":" Natural Disaster ","confidence":0.3}`, "natural_disaster", 0.3, false},
		{"Clamped high", `{"emergency_type":"fire","confidence":7}`, "fire", 1, false},
		{"Clamped low", `{"emergency_type":"fire","confidence":-0.2}`, "fire", 0, false},
		{"Missing type", `{"confidence":0.9}`, "", 0, true},
		{"Empty type", `{"emergency_type":"  ","confidence":0.9}`, "", 0, true},
		{"String confidence", `{"emergency_type":"fire","confidence":"high"}`, "", 0, true},
		{"Missing confidence", `{"emergency_type":"fire"}`, "", 0, true},
		{"No braces", `fire, 90%`, "", 0, true},
		{"Broken JSON", `{"emergency_type": fire}`, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := parseClassification(tt.raw, 0)
			if tt.wantErr {
				if !errors.Is(err, ErrParse) {
					t.Fatalf("expected ErrParse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v.EmergencyType != tt.wantType || v.Confidence != tt.wantConf {
				t.Errorf("got %s/%v, want %s/%v", v.EmergencyType, v.Confidence, tt.wantType, tt.wantConf)
			}
			if v.Confidence < 0 || v.Confidence > 1 {
				t.Errorf("confidence %v outside [0,1]", v.Confidence)
			}
		})
	}
}

func TestConfidenceField_NonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1)} {
		if _, _, err := confidenceField(map[string]any{"confidence": f}); !errors.Is(err, ErrParse) {
			t.Errorf("expected ErrParse for %v, got %v", f, err)
		}
	}
}

func TestAnalyzeFused_Defaults(t *testing.T) {
	o := &scriptedOracle{replies: []string{`{"emergency_type":"fire","confidence":"very"}`}}
	fixed := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	a := New(o, Options{})

	r := a.AnalyzeFused(context.Background(), writeFrames(t, 3), "my kitchen is on fire", fixed)

	want := Verdict{
		SampleIndex:   0,
		EmergencyType: "fire",
		Confidence:    DefaultConfidence,
		Department:    DefaultDepartment,
		Severity:      DefaultSeverity,
		Location:      DefaultLocation,
		Transcript:    "my kitchen is on fire",
		Timestamp:     "2026-10-18T09:30:00Z",
	}
	if diff := cmp.Diff(want, r.Verdict()); diff != "" {
		t.Errorf("fused verdict mismatch (-want +got):\n%s", diff)
	}

	if len(o.requests) != 1 {
		t.Fatalf("expected a single fused call, got %d", len(o.requests))
	}
	req := o.requests[0]
	if len(req.Attachments) != 1 {
		t.Errorf("expected only the first frame attached, got %d", len(req.Attachments))
	}
	if !strings.Contains(req.Instruction, "my kitchen is on fire") {
		t.Error("expected transcript in the fused instruction")
	}
	if req.Operation != OpFused || req.Timeout != RequestTimeout {
		t.Errorf("unexpected request %s/%v", req.Operation, req.Timeout)
	}
}

func TestAnalyzeFused_FullReply(t *testing.T) {
	o := &scriptedOracle{replies: []string{`{
		"emergency_type": "medical",
		"department": "Ambulance",
		"confidence": 0.82,
		"severity": "HIGH",
		"location": "Platform 3",
		"description": "Person collapsed on a train platform",
		"transcript": "a person needs an ambulance",
		"timestamp": "2026-10-18 09:31"
	}`}}
	a := New(o, Options{})

	v := a.AnalyzeFused(context.Background(), writeFrames(t, 1), "someone call an ambulance", time.Now()).Verdict()

	// The transcript comes from the caller, never from the reply.
	want := Verdict{
		EmergencyType: "medical",
		Confidence:    0.82,
		Department:    "ambulance",
		Severity:      "high",
		Location:      "Platform 3",
		Description:   "Person collapsed on a train platform",
		Transcript:    "someone call an ambulance",
		Timestamp:     "2026-10-18 09:31",
	}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Errorf("fused verdict mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeFused_Failures(t *testing.T) {
	t.Run("No frames", func(t *testing.T) {
		a := New(&scriptedOracle{}, Options{})
		if v := a.AnalyzeFused(context.Background(), nil, "x", time.Now()).Verdict(); !v.IsSentinel() {
			t.Errorf("expected sentinel, got %+v", v)
		}
	})
	t.Run("Missing type", func(t *testing.T) {
		a := New(&scriptedOracle{replies: []string{`{"department":"fire"}`}}, Options{})
		r := a.AnalyzeFused(context.Background(), writeFrames(t, 1), "", time.Now())
		if !errors.Is(r.Err(), ErrParse) {
			t.Errorf("expected ErrParse, got %v", r.Err())
		}
	})
	t.Run("Unknown department", func(t *testing.T) {
		a := New(&scriptedOracle{replies: []string{`{"emergency_type":"fire","department":"navy","confidence":0.9}`}}, Options{})
		v := a.AnalyzeFused(context.Background(), writeFrames(t, 1), "", time.Now()).Verdict()
		if v.Department != DefaultDepartment {
			t.Errorf("expected %q, got %q", DefaultDepartment, v.Department)
		}
	})
}

func TestTranscribe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, extractor.AudioFileName)
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatal(err)
	}
	o := &scriptedOracle{replies: []string{"  help, there's smoke everywhere \n"}}
	a := New(o, Options{})

	got, err := a.Transcribe(context.Background(), &extractor.Sample{Kind: extractor.KindAudio, Path: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "help, there's smoke everywhere" {
		t.Errorf("unexpected transcript %q", got)
	}
	req := o.requests[0]
	if req.Timeout != TranscriptionTimeout || req.Operation != OpTranscribe {
		t.Errorf("unexpected request %s/%v", req.Operation, req.Timeout)
	}
	if req.Attachments[0].MIMEType != "audio/wav" {
		t.Errorf("expected audio/wav, got %s", req.Attachments[0].MIMEType)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	a := New(&scriptedOracle{errs: []error{errors.New("boom")}}, Options{})

	if _, err := a.Transcribe(context.Background(), nil); err == nil {
		t.Error("expected error for nil audio")
	}
	if _, err := a.Transcribe(context.Background(), &extractor.Sample{Path: "/nonexistent/audio.wav"}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestResult(t *testing.T) {
	ok := Ok(Verdict{SampleIndex: 2, EmergencyType: "fire", Confidence: 0.7})
	if ok.Err() != nil || ok.Verdict().IsSentinel() {
		t.Errorf("unexpected ok result %+v", ok.Verdict())
	}

	failed := Failed(5, errors.New("socket closed"))
	v := failed.Verdict()
	if v.SampleIndex != 5 || v.EmergencyType != TypeError || v.Confidence != 0 {
		t.Errorf("unexpected sentinel %+v", v)
	}
	if !strings.Contains(v.ErrorDetail, "socket closed") {
		t.Errorf("expected reason in detail, got %q", v.ErrorDetail)
	}
	if !errors.Is(failed.Err(), ErrAnalysis) {
		t.Error("expected failure to wrap ErrAnalysis")
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
