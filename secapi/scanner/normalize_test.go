package scanner

import (
	"errors"
	"strings"
	"testing"
)

const sampleReport = `{
	"Results": [
		{
			"Target": "nginx:latest (debian 12.5)",
			"Vulnerabilities": [
				{
					"VulnerabilityID": "CVE-2023-1234",
					"PkgName": "libssl3",
					"InstalledVersion": "3.0.11-1",
					"FixedVersion": "3.0.13-1",
					"Title": "openssl: example flaw",
					"Description": "An example vulnerability.",
					"Severity": "HIGH",
					"References": ["https://example.com/cve-2023-1234"],
					"PrimaryURL": "https://avd.aquasec.com/nvd/cve-2023-1234",
					"CweIDs": ["CWE-476"],
					"CVSS": {
						"vendor": {"Score": 7.5, "V3Vector": "CVSS:3.1/AV:N/AC:L"},
						"nvd": {"V2Score": 5.0, "V2Vector": "AV:N/AC:L", "V3Score": 7.5, "V3Vector": "CVSS:3.1/AV:N/AC:L"}
					}
				},
				{
					"VulnerabilityID": "CVE-2023-5678",
					"PkgName": "zlib1g",
					"InstalledVersion": "1.2.13",
					"Severity": "MODERATE"
				}
			]
		},
		{
			"Target": "usr/bin/app"
		}
	]
}`

func TestParseTrivyReportObjectForm(t *testing.T) {
	t.Log("\n🔍 Testing object-form report parsing...")

	results, err := parseTrivyReport([]byte(sampleReport))
	if err != nil {
		t.Fatalf("❌ Failed to parse report: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("❌ Expected 2 results, got %d", len(results))
	}
	if len(results[0].Vulnerabilities) != 2 {
		t.Errorf("❌ Expected 2 vulnerabilities, got %d", len(results[0].Vulnerabilities))
	}
	// A result block without a vulnerability list is not an error
	if len(results[1].Vulnerabilities) != 0 {
		t.Errorf("❌ Expected no vulnerabilities for second target")
	}

	t.Log("\n✅ Object-form report parsing test passed")
}

func TestParseTrivyReportArrayForm(t *testing.T) {
	t.Log("\n🔍 Testing bare-array report parsing...")

	raw := `[{"Target": "alpine:3.19", "Vulnerabilities": [{"VulnerabilityID": "CVE-2024-0001", "Severity": "LOW"}]}]`
	results, err := parseTrivyReport([]byte(raw))
	if err != nil {
		t.Fatalf("❌ Failed to parse bare array: %v", err)
	}
	if len(results) != 1 || len(results[0].Vulnerabilities) != 1 {
		t.Fatalf("❌ Unexpected result shape: %+v", results)
	}

	t.Log("\n✅ Bare-array report parsing test passed")
}

func TestParseTrivyReportMalformed(t *testing.T) {
	t.Log("\n🔍 Testing malformed report handling...")

	cases := []string{
		"",
		"   ",
		"not json at all",
		`{"Results": [truncated`,
		`[1, 2, "mixed"`,
	}

	for _, raw := range cases {
		_, err := parseTrivyReport([]byte(raw))
		if err == nil {
			t.Errorf("❌ Expected parse error for %q", raw)
			continue
		}
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Errorf("❌ Expected ParseError for %q, got %T", raw, err)
		}
	}

	// Snippet is bounded even for huge inputs
	huge := "x" + strings.Repeat("y", 10000)
	_, err := parseTrivyReport([]byte(huge))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("❌ Expected ParseError, got %v", err)
	}
	if len(parseErr.Snippet) > 500 {
		t.Errorf("❌ Snippet exceeds 500 bytes: %d", len(parseErr.Snippet))
	}

	t.Log("\n✅ Malformed report handling test passed")
}

func TestNormalizeTrivyFindings(t *testing.T) {
	t.Log("\n🔍 Testing finding normalization...")

	results, err := parseTrivyReport([]byte(sampleReport))
	if err != nil {
		t.Fatalf("❌ Failed to parse report: %v", err)
	}

	findings := normalizeTrivyFindings(results)
	if len(findings) != 2 {
		t.Fatalf("❌ Expected 2 findings, got %d", len(findings))
	}

	first := findings[0]
	if first.ID != "CVE-2023-1234" {
		t.Errorf("❌ ID mismatch: %s", first.ID)
	}
	if first.Severity != SeverityHigh {
		t.Errorf("❌ Severity mismatch: %s", first.Severity)
	}
	if first.Target != "nginx:latest (debian 12.5)" {
		t.Errorf("❌ Target mismatch: %s", first.Target)
	}
	if first.CVSS.Vendor == nil || first.CVSS.Vendor.Score == nil || *first.CVSS.Vendor.Score != 7.5 {
		t.Error("❌ Vendor CVSS score missing or wrong")
	}
	if first.CVSS.Vendor.Vector != "CVSS:3.1/AV:N/AC:L" {
		t.Errorf("❌ Vendor vector mismatch: %s", first.CVSS.Vendor.Vector)
	}
	if first.CVSS.NVD == nil || first.CVSS.NVD.V3Score == nil || *first.CVSS.NVD.V3Score != 7.5 {
		t.Error("❌ NVD CVSS score missing or wrong")
	}

	// Sparse finding: MODERATE folds into MEDIUM, lists come back empty not nil
	second := findings[1]
	if second.Severity != SeverityMedium {
		t.Errorf("❌ Expected MODERATE to normalize to MEDIUM, got %s", second.Severity)
	}
	if second.References == nil || len(second.References) != 0 {
		t.Error("❌ Expected empty (non-nil) references")
	}
	if second.CWEIDs == nil || len(second.CWEIDs) != 0 {
		t.Error("❌ Expected empty (non-nil) CWE list")
	}
	if second.CVSS.Vendor != nil || second.CVSS.NVD != nil {
		t.Error("❌ Expected empty CVSS struct for finding without CVSS data")
	}

	t.Log("\n✅ Finding normalization test passed")
}

func TestNormalizeSeverityTotal(t *testing.T) {
	t.Log("\n🔍 Testing severity normalization table...")

	cases := map[string]string{
		"CRITICAL": SeverityCritical,
		"critical": SeverityCritical,
		"High":     SeverityHigh,
		"MEDIUM":   SeverityMedium,
		"moderate": SeverityMedium,
		"MODERATE": SeverityMedium,
		"low":      SeverityLow,
		"INFO":     SeverityInfo,
		"UNKNOWN":  SeverityInfo,
		"":         SeverityInfo,
		"garbage":  SeverityInfo,
		"  HIGH  ": SeverityHigh,
	}

	for in, want := range cases {
		if got := NormalizeSeverity(in); got != want {
			t.Errorf("❌ NormalizeSeverity(%q) = %s, want %s", in, got, want)
		}
	}

	t.Log("\n✅ Severity normalization test passed")
}

func TestSummaryMatchesFindings(t *testing.T) {
	t.Log("\n🔍 Testing summary tally...")

	findings := []Finding{
		{Severity: SeverityCritical},
		{Severity: SeverityHigh},
		{Severity: SeverityHigh},
		{Severity: SeverityMedium},
		{Severity: SeverityInfo},
	}

	result := NewResult("trivy", "trivy-0.55.0", findings, 0, "nginx:latest")
	if result.Summary.Total() != len(findings) {
		t.Errorf("❌ Summary total %d != findings %d", result.Summary.Total(), len(findings))
	}
	if result.Summary.Critical != 1 || result.Summary.High != 2 || result.Summary.Medium != 1 || result.Summary.Info != 1 {
		t.Errorf("❌ Summary buckets wrong: %+v", result.Summary)
	}

	t.Log("\n✅ Summary tally test passed")
}
