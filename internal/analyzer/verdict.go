package analyzer

import (
	"errors"
	"fmt"
)

// Reserved emergency types. Any other non-empty string is a real classification.
const (
	TypeNone    = "none"
	TypeError   = "error"
	TypeUnknown = "unknown"
)

var (
	// ErrAnalysis marks any failure inside a single oracle exchange. It never
	// escapes the package; failures are rendered as sentinel verdicts.
	ErrAnalysis = errors.New("analysis failed")

	// ErrParse marks an oracle reply with no usable structured payload.
	ErrParse = errors.New("unparseable oracle response")
)

// Verdict is the oracle-derived classification for one sample, or for the
// whole run in fused mode.
type Verdict struct {
	SampleIndex   int     `json:"sampleIndex"`
	EmergencyType string  `json:"emergencyType"`
	Confidence    float64 `json:"confidence"`
	Department    string  `json:"department,omitempty"`
	Severity      string  `json:"severity,omitempty"`
	Location      string  `json:"location,omitempty"`
	Description   string  `json:"description,omitempty"`
	Transcript    string  `json:"transcript,omitempty"`
	Timestamp     string  `json:"timestamp,omitempty"`
	ErrorDetail   string  `json:"errorDetail,omitempty"`
}

// IsSentinel reports whether v stands in for a failed analysis.
func (v Verdict) IsSentinel() bool {
	return v.EmergencyType == TypeError
}

// Result is the outcome of one analysis call: either a verdict or the reason
// none could be obtained.
type Result struct {
	index   int
	verdict Verdict
	err     error
}

// Ok wraps a successful verdict.
func Ok(v Verdict) Result {
	return Result{index: v.SampleIndex, verdict: v}
}

// Failed records that the sample at index could not be analyzed.
func Failed(index int, err error) Result {
	if err == nil {
		err = ErrAnalysis
	}
	if !errors.Is(err, ErrAnalysis) {
		err = fmt.Errorf("%w: %w", ErrAnalysis, err)
	}
	return Result{index: index, err: err}
}

// Err returns the failure, or nil for a successful result.
func (r Result) Err() error {
	return r.err
}

// Verdict returns the verdict. A failed result renders as the sentinel
// {type: "error", confidence: 0, errorDetail: reason}.
func (r Result) Verdict() Verdict {
	if r.err == nil {
		return r.verdict
	}
	return Verdict{
		SampleIndex:   r.index,
		EmergencyType: TypeError,
		Confidence:    0,
		ErrorDetail:   r.err.Error(),
	}
}
