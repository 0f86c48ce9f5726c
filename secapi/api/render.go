package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/secapi/go-api/secapi/postgres/models"
	"github.com/secapi/go-api/secapi/scanjob"
	"github.com/secapi/go-api/secapi/scanner"
)

const tableRule = "────────────────────────────────────────────────────────────────────────────────"

// renderScanTable formats a job as a plain-text report: boxed header, scan
// metadata, severity summary, and a findings table truncated to limit rows.
func renderScanTable(job *models.ScanJob, limit int) string {
	var b strings.Builder

	b.WriteString("╔═══════════════════════════════════════════════════════════════════════════════╗\n")
	b.WriteString("║                              SECAPI SCAN RESULTS                               ║\n")
	b.WriteString("╚═══════════════════════════════════════════════════════════════════════════════╝\n")
	b.WriteString("\n")

	fmt.Fprintf(&b, "Scan ID:     %s\n", job.ID)
	fmt.Fprintf(&b, "Status:      %s\n", strings.ToUpper(job.Status))
	fmt.Fprintf(&b, "Scanner:     %s\n", job.ScanKind)
	fmt.Fprintf(&b, "Created:     %s\n", job.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))

	if job.StartedAt != nil {
		end := time.Now().UTC()
		if job.CompletedAt != nil {
			end = *job.CompletedAt
		}
		fmt.Fprintf(&b, "Duration:    %.2fs\n", end.Sub(*job.StartedAt).Seconds())
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error:       %s\n", job.ErrorMessage)
	}
	b.WriteString("\n")

	var input scanjob.Input
	if job.Input != "" && json.Unmarshal([]byte(job.Input), &input) == nil && input.Target != "" {
		fmt.Fprintf(&b, "Target:      %s\n", input.Target)
		b.WriteString("\n")
	}

	switch job.Status {
	case models.StatusCompleted:
		renderResults(&b, job.Result, limit)
	case models.StatusRunning:
		b.WriteString(tableRule + "\n")
		b.WriteString("Scan is in progress... Check back later.\n")
		b.WriteString(tableRule + "\n")
	case models.StatusPending:
		b.WriteString(tableRule + "\n")
		b.WriteString("Scan is queued... Check back later.\n")
		b.WriteString(tableRule + "\n")
	case models.StatusFailed:
		msg := job.ErrorMessage
		if msg == "" {
			msg = "Unknown error"
		}
		b.WriteString(tableRule + "\n")
		fmt.Fprintf(&b, "Scan failed: %s\n", msg)
		b.WriteString(tableRule + "\n")
	}

	return b.String()
}

func renderResults(b *strings.Builder, raw string, limit int) {
	var result scanner.Result
	if raw == "" || json.Unmarshal([]byte(raw), &result) != nil {
		return
	}

	b.WriteString(tableRule + "\n")
	b.WriteString("SUMMARY\n")
	b.WriteString(tableRule + "\n")
	fmt.Fprintf(b, "  Critical:  %d\n", result.Summary.Critical)
	fmt.Fprintf(b, "  High:      %d\n", result.Summary.High)
	fmt.Fprintf(b, "  Medium:    %d\n", result.Summary.Medium)
	fmt.Fprintf(b, "  Low:       %d\n", result.Summary.Low)
	b.WriteString("\n")

	if len(result.Findings) == 0 {
		b.WriteString(tableRule + "\n")
		b.WriteString("No vulnerabilities found!\n")
		b.WriteString(tableRule + "\n")
		return
	}

	b.WriteString(tableRule + "\n")
	b.WriteString("VULNERABILITIES\n")
	b.WriteString(tableRule + "\n")
	fmt.Fprintf(b, " %-10s │ %-20s │ %-20s │ %s\n", "SEVERITY", "VULN ID", "PACKAGE", "FIXED VERSION")
	b.WriteString(tableRule + "\n")

	shown := result.Findings
	if len(shown) > limit {
		shown = shown[:limit]
	}
	for _, f := range shown {
		pkg := f.PackageName + " " + f.PackageVersion
		fixed := f.FixedVersion
		if fixed == "" {
			fixed = "N/A"
		}
		fmt.Fprintf(b, " %-10s │ %-20s │ %-20s │ %s\n",
			truncate(f.Severity, 10), truncate(f.ID, 20), truncate(pkg, 20), truncate(fixed, 20))
	}

	if len(result.Findings) > limit {
		fmt.Fprintf(b, "... and %d more vulnerabilities (use ?limit=N to show more)\n",
			len(result.Findings)-limit)
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
