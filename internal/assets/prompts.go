// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at compile time.
package assets

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"
)

// --- Static prompts (no dynamic data) ---

// ClassifyFramePrompt asks the oracle to place one frame into the emergency
// taxonomy and report a confidence.
//
//go:embed prompts/classify-frame.txt
var ClassifyFramePrompt string

// TranscribeAudioPrompt asks the oracle for a verbatim transcript of a WAV clip.
//
//go:embed prompts/transcribe-audio.txt
var TranscribeAudioPrompt string

// --- Dynamic prompt templates ---

//go:embed prompts/fused-analysis.txt
var fusedAnalysisTemplate string

// template.Must panics on malformed templates, catching errors at program
// startup rather than at call time.
var fusedPromptTmpl = template.Must(template.New("fused").Parse(fusedAnalysisTemplate))

// NoTranscript stands in for the transcript when no audio was available.
const NoTranscript = "(no audio transcript available)"

// FusedPromptData holds the dynamic data injected into the fused prompt.
type FusedPromptData struct {
	Transcript  string
	Timestamp   string
	Departments []string
}

// RenderFusedPrompt renders the frame+transcript analysis prompt.
func RenderFusedPrompt(data FusedPromptData) string {
	if strings.TrimSpace(data.Transcript) == "" {
		data.Transcript = NoTranscript
	}
	var buf bytes.Buffer
	// Execution errors are not expected with this template; return whatever
	// was rendered.
	_ = fusedPromptTmpl.Execute(&buf, struct {
		Transcript  string
		Timestamp   string
		Departments string
	}{
		Transcript:  data.Transcript,
		Timestamp:   data.Timestamp,
		Departments: strings.Join(data.Departments, ", "),
	})
	return buf.String()
}
