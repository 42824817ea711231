// Package report aggregates analyzer verdicts into a single emergency report
// under a fixed qualification policy.
package report

import (
	"github.com/siren-hq/siren/internal/analyzer"
)

// ConfidenceThreshold is the exclusive lower bound a verdict's confidence
// must exceed to count as a detected emergency. It is not configurable.
const ConfidenceThreshold = 0.6

// Alert values.
const (
	AlertEmergencyDetected = "EMERGENCY_DETECTED"
	AlertNoEmergency       = "NO_EMERGENCY"
)

// SummaryEntry projects one qualifying verdict.
type SummaryEntry struct {
	SampleIndex   int     `json:"sampleIndex"`
	EmergencyType string  `json:"emergencyType"`
	Confidence    float64 `json:"confidence"`
}

// EmergencyReport is the immutable outcome of one run.
type EmergencyReport struct {
	Verdicts            []analyzer.Verdict `json:"verdicts"`
	EmergencyCount      int                `json:"emergencyCount"`
	EmergenciesDetected bool               `json:"emergenciesDetected"`
	Alert               string             `json:"alert"`
	Summary             []SummaryEntry     `json:"summary"`
}

// Qualifies reports whether v counts as a detected emergency: a real
// classification (not "none", not the error sentinel) with confidence above
// ConfidenceThreshold.
func Qualifies(v analyzer.Verdict) bool {
	switch v.EmergencyType {
	case analyzer.TypeNone, analyzer.TypeError, "":
		return false
	}
	return v.Confidence > ConfidenceThreshold
}

// Aggregate builds the independent-mode report. Verdict and summary order
// follow result order.
func Aggregate(results []analyzer.Result) EmergencyReport {
	r := EmergencyReport{
		Verdicts: make([]analyzer.Verdict, 0, len(results)),
		Summary:  []SummaryEntry{},
	}
	for _, res := range results {
		v := res.Verdict()
		r.Verdicts = append(r.Verdicts, v)
		if !Qualifies(v) {
			continue
		}
		r.Summary = append(r.Summary, SummaryEntry{
			SampleIndex:   v.SampleIndex,
			EmergencyType: v.EmergencyType,
			Confidence:    v.Confidence,
		})
	}
	r.EmergencyCount = len(r.Summary)
	r.EmergenciesDetected = r.EmergencyCount > 0
	r.Alert = alertFor(r.EmergenciesDetected)
	return r
}

// AggregateFused passes the single fused verdict through with the same
// qualification test. Summary stays empty.
func AggregateFused(result analyzer.Result) EmergencyReport {
	v := result.Verdict()
	r := EmergencyReport{
		Verdicts: []analyzer.Verdict{v},
		Summary:  []SummaryEntry{},
	}
	if Qualifies(v) {
		r.EmergencyCount = 1
		r.EmergenciesDetected = true
	}
	r.Alert = alertFor(r.EmergenciesDetected)
	return r
}

func alertFor(detected bool) string {
	if detected {
		return AlertEmergencyDetected
	}
	return AlertNoEmergency
}
