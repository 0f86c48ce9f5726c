package scanner

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// trivyReport is the object form of trivy's JSON output. Newer trivy versions
// wrap the per-target results; older ones emit a bare array.
type trivyReport struct {
	Results []trivyResult `json:"Results"`
}

// trivyResult is one per-target result block.
type trivyResult struct {
	Target          string               `json:"Target"`
	Vulnerabilities []trivyVulnerability `json:"Vulnerabilities"`
}

// trivyVulnerability mirrors the fields we map into the unified schema.
type trivyVulnerability struct {
	VulnerabilityID  string                    `json:"VulnerabilityID"`
	PkgName          string                    `json:"PkgName"`
	InstalledVersion string                    `json:"InstalledVersion"`
	FixedVersion     string                    `json:"FixedVersion"`
	Title            string                    `json:"Title"`
	Description      string                    `json:"Description"`
	Severity         string                    `json:"Severity"`
	References       []string                  `json:"References"`
	PrimaryURL       string                    `json:"PrimaryURL"`
	CWEIDs           []string                  `json:"CweIDs"`
	CVSS             map[string]trivyCVSSEntry `json:"CVSS"`
}

// trivyCVSSEntry is one source's CVSS block. All fields independently optional.
type trivyCVSSEntry struct {
	Score    *float64 `json:"Score"`
	V2Score  *float64 `json:"V2Score"`
	V3Score  *float64 `json:"V3Score"`
	V2Vector string   `json:"V2Vector"`
	V3Vector string   `json:"V3Vector"`
}

// parseTrivyReport decodes raw tool output, accepting either a bare array of
// per-target results or an object wrapping them under "Results". Any other
// top-level shape, or malformed JSON, is a ParseError carrying a bounded
// prefix of the input.
func parseTrivyReport(raw []byte) ([]trivyResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &ParseError{Reason: "empty scanner output", Snippet: ""}
	}

	switch trimmed[0] {
	case '[':
		var results []trivyResult
		if err := json.Unmarshal(trimmed, &results); err != nil {
			return nil, &ParseError{
				Reason:  fmt.Sprintf("failed to parse scanner output: %v", err),
				Snippet: snippet(trimmed),
			}
		}
		return results, nil
	case '{':
		var report trivyReport
		if err := json.Unmarshal(trimmed, &report); err != nil {
			return nil, &ParseError{
				Reason:  fmt.Sprintf("failed to parse scanner output: %v", err),
				Snippet: snippet(trimmed),
			}
		}
		return report.Results, nil
	default:
		return nil, &ParseError{
			Reason:  "unexpected scanner output format",
			Snippet: snippet(trimmed),
		}
	}
}

// normalizeTrivyFindings maps every vulnerability of every per-target result
// onto one Finding. A result without a vulnerability list contributes nothing;
// that is not an error. Missing textual fields default to empty strings and
// missing lists to empty sequences.
func normalizeTrivyFindings(results []trivyResult) []Finding {
	findings := []Finding{}

	for _, r := range results {
		for _, v := range r.Vulnerabilities {
			refs := v.References
			if refs == nil {
				refs = []string{}
			}
			cwes := v.CWEIDs
			if cwes == nil {
				cwes = []string{}
			}

			findings = append(findings, Finding{
				ID:             v.VulnerabilityID,
				Severity:       NormalizeSeverity(v.Severity),
				Title:          v.Title,
				Description:    v.Description,
				Target:         r.Target,
				PackageName:    v.PkgName,
				PackageVersion: v.InstalledVersion,
				FixedVersion:   v.FixedVersion,
				References:     refs,
				CVSS:           extractCVSS(v.CVSS),
				CWEIDs:         cwes,
				PrimaryLink:    v.PrimaryURL,
			})
		}
	}

	return findings
}

// extractCVSS pulls vendor and NVD score/vector pairs out of the tool's CVSS
// block. Absence of the whole block yields the empty struct.
func extractCVSS(data map[string]trivyCVSSEntry) CVSS {
	var out CVSS
	if data == nil {
		return out
	}

	if vendor, ok := data["vendor"]; ok {
		vector := vendor.V3Vector
		if vector == "" {
			vector = vendor.V2Vector
		}
		out.Vendor = &CVSSScore{Score: vendor.Score, Vector: vector}
	}

	if nvd, ok := data["nvd"]; ok {
		out.NVD = &NVDScore{
			V2Score:  nvd.V2Score,
			V2Vector: nvd.V2Vector,
			V3Score:  nvd.V3Score,
			V3Vector: nvd.V3Vector,
		}
	}

	return out
}
