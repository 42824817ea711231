// Package cli holds terminal helpers for siren-cli: report rendering and
// operator-facing messages.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/siren-hq/siren/internal/analyzer"
	"github.com/siren-hq/siren/internal/pipeline"
	"github.com/siren-hq/siren/internal/report"
)

const (
	heavyRule = "============================================"
	lightRule = "--------------------------------------------"
)

// FormatConfidence renders a 0..1 confidence as a whole percentage.
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%.0f%%", c*100)
}

// WriteReport prints a human-readable rendering of a run result.
func WriteReport(w io.Writer, res *pipeline.Result) error {
	var b strings.Builder

	fmt.Fprintln(&b, heavyRule)
	fmt.Fprintln(&b, "Emergency Report")
	fmt.Fprintln(&b, heavyRule)
	fmt.Fprintf(&b, "Run: %s\n", res.RunID)

	if !res.Success() {
		fmt.Fprintf(&b, "Status: FAILED (%s at %s)\n", res.Failure.Kind, res.Failure.Stage)
		fmt.Fprintf(&b, "Reason: %s\n", res.Failure.Message)
		_, err := io.WriteString(w, b.String())
		return err
	}

	fmt.Fprintf(&b, "Mode: %s\n", res.Mode)
	fmt.Fprintf(&b, "Samples analyzed: %d\n", res.SamplesAnalyzed)
	fmt.Fprintln(&b, lightRule)

	rep := res.Report
	if rep == nil {
		fmt.Fprintln(&b, "No report produced")
		_, err := io.WriteString(w, b.String())
		return err
	}
	fmt.Fprintf(&b, "Alert: %s\n", rep.Alert)
	fmt.Fprintf(&b, "Emergencies: %d\n", rep.EmergencyCount)

	if res.Mode == pipeline.ModeFused {
		if len(rep.Verdicts) > 0 {
			writeFused(&b, rep.Verdicts[0])
		}
	} else {
		writeVerdicts(&b, rep.Verdicts)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeVerdicts(b *strings.Builder, verdicts []analyzer.Verdict) {
	if len(verdicts) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Sample", "Type", "Confidence", "Emergency", "Detail"})
	for _, v := range verdicts {
		flag := ""
		if report.Qualifies(v) {
			flag = "yes"
		}
		tw.AppendRow(table.Row{v.SampleIndex, v.EmergencyType, FormatConfidence(v.Confidence), flag, v.ErrorDetail})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 5, WidthMax: 60},
	})
	fmt.Fprintln(b)
	fmt.Fprintln(b, tw.Render())
}

func writeFused(b *strings.Builder, v analyzer.Verdict) {
	fmt.Fprintln(b)
	fmt.Fprintf(b, "Type: %s (%s)\n", v.EmergencyType, FormatConfidence(v.Confidence))
	if v.IsSentinel() {
		fmt.Fprintf(b, "Error: %s\n", v.ErrorDetail)
		return
	}
	fmt.Fprintf(b, "Department: %s\n", v.Department)
	fmt.Fprintf(b, "Severity: %s\n", v.Severity)
	fmt.Fprintf(b, "Location: %s\n", v.Location)
	if v.Description != "" {
		fmt.Fprintf(b, "Description: %s\n", v.Description)
	}
	if v.Transcript != "" {
		fmt.Fprintf(b, "Transcript: %s\n", v.Transcript)
	}
}
