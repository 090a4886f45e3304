// Package cli provides output helpers for the docgate command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/docgate/internal/models"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// JobReport is the outcome of a stuck-job scan.
type JobReport struct {
	Database string            `json:"database"`
	Cutoff   time.Time         `json:"cutoff"`
	Jobs     []models.Document `json:"jobs"`
	Failed   []string          `json:"failed,omitempty"`
}

// WriteJobReport writes the report to w in the given format.
func WriteJobReport(w io.Writer, report *JobReport, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	default:
		writeJobReportText(w, report)
		return nil
	}
}

func writeJobReportText(w io.Writer, report *JobReport) {
	fmt.Fprintf(w, "\n%d job(s) in %s still uploading since before %s\n\n",
		len(report.Jobs), report.Database, report.Cutoff.Format(time.RFC3339))
	for _, job := range report.Jobs {
		fmt.Fprintf(w, "%-36s  %-20s  %s\n",
			job[models.IDField], uploadDate(job), Truncate(fmt.Sprint(job["filename"]), 48))
	}
	if len(report.Failed) > 0 {
		fmt.Fprintf(w, "\nMarked %d job(s) as failed.\n", len(report.Failed))
	}
}

func uploadDate(job models.Document) string {
	if t, ok := job[models.FieldUploadDate].(time.Time); ok {
		return t.UTC().Format("2006-01-02 15:04:05")
	}
	return "-"
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
