package pipeline

import (
	"encoding/json"

	"github.com/siren-hq/siren/internal/analyzer"
	"github.com/siren-hq/siren/internal/report"
)

// ErrorKind classifies a failed run for the caller.
type ErrorKind string

const (
	KindConfig   ErrorKind = "config_error"
	KindProcess  ErrorKind = "process_error"
	KindNoFrames ErrorKind = "no_frames_extractable"
	KindInternal ErrorKind = "internal_error"
)

// Failure describes why a run stopped early.
type Failure struct {
	Stage   Stage
	Kind    ErrorKind
	Message string
	Err     error
}

// Result is the structured outcome of one run.
type Result struct {
	RunID           string
	Mode            Mode
	Report          *report.EmergencyReport
	SamplesAnalyzed int
	Failure         *Failure
}

// Success reports whether the run completed.
func (r *Result) Success() bool {
	return r.Failure == nil
}

// ClientError reports whether the failure is one the uploader can correct
// (the video yielded no usable frames).
func (r *Result) ClientError() bool {
	return r.Failure != nil && r.Failure.Kind == KindNoFrames
}

type failureBody struct {
	Success   bool      `json:"success"`
	RunID     string    `json:"runId"`
	Stage     Stage     `json:"stage"`
	ErrorKind ErrorKind `json:"errorKind"`
	Message   string    `json:"message"`
}

type independentBody struct {
	Success             bool                  `json:"success"`
	RunID               string                `json:"runId"`
	Mode                Mode                  `json:"mode"`
	EmergenciesDetected bool                  `json:"emergenciesDetected"`
	EmergencyCount      int                   `json:"emergencyCount"`
	Alert               string                `json:"alert"`
	Summary             []report.SummaryEntry `json:"summary"`
	Verdicts            []analyzer.Verdict    `json:"verdicts"`
	SamplesAnalyzed     int                   `json:"samplesAnalyzed"`
}

type fusedBody struct {
	Success             bool              `json:"success"`
	RunID               string            `json:"runId"`
	Mode                Mode              `json:"mode"`
	EmergenciesDetected bool              `json:"emergenciesDetected"`
	EmergencyCount      int               `json:"emergencyCount"`
	Alert               string            `json:"alert"`
	Verdict             *analyzer.Verdict `json:"verdict"`
	SamplesAnalyzed     int               `json:"samplesAnalyzed"`
}

// MarshalJSON renders the success or failure shape.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r.Failure != nil {
		return json.Marshal(failureBody{
			Success:   false,
			RunID:     r.RunID,
			Stage:     r.Failure.Stage,
			ErrorKind: r.Failure.Kind,
			Message:   r.Failure.Message,
		})
	}

	rep := r.Report
	if rep == nil {
		rep = &report.EmergencyReport{Summary: []report.SummaryEntry{}}
	}
	if r.Mode == ModeFused {
		var v *analyzer.Verdict
		if len(rep.Verdicts) > 0 {
			v = &rep.Verdicts[0]
		}
		return json.Marshal(fusedBody{
			Success:             true,
			RunID:               r.RunID,
			Mode:                r.Mode,
			EmergenciesDetected: rep.EmergenciesDetected,
			EmergencyCount:      rep.EmergencyCount,
			Alert:               rep.Alert,
			Verdict:             v,
			SamplesAnalyzed:     r.SamplesAnalyzed,
		})
	}
	return json.Marshal(independentBody{
		Success:             true,
		RunID:               r.RunID,
		Mode:                r.Mode,
		EmergenciesDetected: rep.EmergenciesDetected,
		EmergencyCount:      rep.EmergencyCount,
		Alert:               rep.Alert,
		Summary:             rep.Summary,
		Verdicts:            rep.Verdicts,
		SamplesAnalyzed:     r.SamplesAnalyzed,
	})
}
