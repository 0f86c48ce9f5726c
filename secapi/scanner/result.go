package scanner

import (
	"math"
	"time"
)

// Normalized severity buckets shared by every scanner backend.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
	SeverityInfo     = "INFO"
)

// SeverityCount tallies findings per normalized severity bucket.
type SeverityCount struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// Total returns the sum over all buckets.
func (c SeverityCount) Total() int {
	return c.Critical + c.High + c.Medium + c.Low + c.Info
}

// CVSSScore is a single score/vector pair reported by a vulnerability source.
type CVSSScore struct {
	Score  *float64 `json:"score,omitempty"`
	Vector string   `json:"vector,omitempty"`
}

// NVDScore carries the NVD v2/v3 score and vector pairs. All sub-fields are
// independently optional.
type NVDScore struct {
	V2Score  *float64 `json:"v2_score,omitempty"`
	V2Vector string   `json:"v2_vector,omitempty"`
	V3Score  *float64 `json:"v3_score,omitempty"`
	V3Vector string   `json:"v3_vector,omitempty"`
}

// CVSS groups vendor and NVD scores. A finding without CVSS data carries the
// empty struct, never null.
type CVSS struct {
	Vendor *CVSSScore `json:"vendor,omitempty"`
	NVD    *NVDScore  `json:"nvd,omitempty"`
}

// Finding is one normalized vulnerability observation. Immutable once produced.
type Finding struct {
	ID             string   `json:"id"`
	Severity       string   `json:"severity"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Target         string   `json:"target"`
	PackageName    string   `json:"package_name"`
	PackageVersion string   `json:"package_version"`
	FixedVersion   string   `json:"fixed_version"`
	References     []string `json:"references"`
	CVSS           CVSS     `json:"cvss"`
	CWEIDs         []string `json:"cwe_ids"`
	PrimaryLink    string   `json:"primary_link"`
}

// Metadata describes how and when a result was produced.
type Metadata struct {
	ScannedAt           string  `json:"scanned_at"`
	ScannerVersion      string  `json:"scanner_version"`
	ScanDurationSeconds float64 `json:"scan_duration_seconds"`
	Image               string  `json:"image,omitempty"`
}

// Result is the unified scan result schema shared by all scanner backends.
type Result struct {
	ScanKind string        `json:"scan_type"`
	Status   string        `json:"status"`
	Metadata Metadata      `json:"metadata"`
	Summary  SeverityCount `json:"summary"`
	Findings []Finding     `json:"findings"`
}

// NewResult assembles a complete Result in one shot so callers never observe
// a partially populated value. The summary is derived from the findings.
func NewResult(kind, version string, findings []Finding, duration time.Duration, image string) *Result {
	var summary SeverityCount
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			summary.Critical++
		case SeverityHigh:
			summary.High++
		case SeverityMedium:
			summary.Medium++
		case SeverityLow:
			summary.Low++
		case SeverityInfo:
			summary.Info++
		}
	}

	if findings == nil {
		findings = []Finding{}
	}

	return &Result{
		ScanKind: kind,
		Status:   "completed",
		Metadata: Metadata{
			ScannedAt:           time.Now().UTC().Format(time.RFC3339),
			ScannerVersion:      version,
			ScanDurationSeconds: math.Round(duration.Seconds()*100) / 100,
			Image:               image,
		},
		Summary:  summary,
		Findings: findings,
	}
}
