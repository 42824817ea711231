package analyzer

import (
	"fmt"
	"math"
	"strings"

	"github.com/siren-hq/siren/internal/jsonutil"
)

// Fused-mode defaults for fields the oracle leaves out.
const (
	DefaultDepartment = "unknown"
	DefaultConfidence = 0.5
	DefaultSeverity   = "medium"
	DefaultLocation   = "unknown"
)

// Departments is the closed routing taxonomy offered to the oracle in fused
// mode. Anything else is recorded as DefaultDepartment.
var Departments = []string{"fire", "police", "hospital", "ambulance", "IT", "forest"}

// parseClassification decodes an independent-mode reply. Both emergency_type
// (alias "type") and a numeric confidence are required.
func parseClassification(raw string, index int) (Verdict, error) {
	obj, err := jsonutil.ParseJSON[map[string]any](raw)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", ErrParse, err)
	}

	emergencyType := normalizeType(stringField(obj, "emergency_type", "type"))
	if emergencyType == "" {
		return Verdict{}, fmt.Errorf("%w: missing emergency_type", ErrParse)
	}
	confidence, present, err := confidenceField(obj)
	if err != nil {
		return Verdict{}, err
	}
	if !present {
		return Verdict{}, fmt.Errorf("%w: confidence missing or not a number", ErrParse)
	}

	return Verdict{
		SampleIndex:   index,
		EmergencyType: emergencyType,
		Confidence:    confidence,
		Department:    stringField(obj, "department"),
		Severity:      stringField(obj, "severity"),
		Location:      stringField(obj, "location"),
		Description:   stringField(obj, "description"),
	}, nil
}

// parseFused decodes a fused-mode reply. Only emergency_type is required;
// other fields fall back to the fused defaults and timestamp to the one
// supplied by the caller. Transcript is always the one sent; any echo in the
// reply is ignored.
func parseFused(raw, transcript, timestamp string) (Verdict, error) {
	obj, err := jsonutil.ParseJSON[map[string]any](raw)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", ErrParse, err)
	}

	emergencyType := normalizeType(stringField(obj, "emergency_type", "type"))
	if emergencyType == "" {
		return Verdict{}, fmt.Errorf("%w: missing emergency_type", ErrParse)
	}
	confidence, present, err := confidenceField(obj)
	if err != nil {
		return Verdict{}, err
	}
	if !present {
		confidence = DefaultConfidence
	}

	v := Verdict{
		SampleIndex:   0,
		EmergencyType: emergencyType,
		Confidence:    confidence,
		Department:    normalizeDepartment(stringField(obj, "department")),
		Severity:      orDefault(strings.ToLower(stringField(obj, "severity")), DefaultSeverity),
		Location:      orDefault(stringField(obj, "location"), DefaultLocation),
		Description:   stringField(obj, "description", "summary"),
		Transcript:    transcript,
		Timestamp:     orDefault(stringField(obj, "timestamp", "time"), timestamp),
	}
	return v, nil
}

// stringField returns the first key holding a non-blank string.
func stringField(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// confidenceField reads "confidence" as a JSON number clamped to [0,1].
// present is false when the key is absent or not a number. Non-finite
// values are a parse error.
func confidenceField(obj map[string]any) (value float64, present bool, err error) {
	f, ok := obj["confidence"].(float64)
	if !ok {
		return 0, false, nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("%w: confidence is not finite", ErrParse)
	}
	return clamp(f), true, nil
}

func clamp(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

func normalizeType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}

func normalizeDepartment(s string) string {
	for _, d := range Departments {
		if strings.EqualFold(s, d) {
			return d
		}
	}
	return DefaultDepartment
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
