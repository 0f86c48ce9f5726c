package scanner

import (
	"strings"
	"testing"
	"time"
)

func TestTrivyBuildArgs(t *testing.T) {
	t.Log("\n🔍 Testing trivy argument vector...")

	tr := NewTrivy(5 * time.Minute)

	args := tr.buildArgs("nginx:latest", Options{})
	joined := strings.Join(args, " ")
	if args[0] != "image" {
		t.Errorf("❌ Expected image subcommand first, got %s", args[0])
	}
	if !strings.Contains(joined, "--format json") {
		t.Error("❌ Missing --format json")
	}
	if !strings.Contains(joined, "--severity CRITICAL,HIGH,MEDIUM,LOW") {
		t.Errorf("❌ Wrong default severity: %s", joined)
	}
	if !strings.Contains(joined, "--scanners vuln") {
		t.Errorf("❌ Wrong default scanners: %s", joined)
	}
	if args[len(args)-1] != "nginx:latest" {
		t.Errorf("❌ Target must be the final argv element, got %s", args[len(args)-1])
	}

	args = tr.buildArgs("alpine:3.19", Options{
		Severity: []string{SeverityCritical, SeverityHigh},
		Modes:    []string{"vuln", "secret"},
	})
	joined = strings.Join(args, " ")
	if !strings.Contains(joined, "--severity CRITICAL,HIGH") {
		t.Errorf("❌ Severity override not applied: %s", joined)
	}
	if !strings.Contains(joined, "--scanners vuln,secret") {
		t.Errorf("❌ Mode override not applied: %s", joined)
	}

	t.Log("\n✅ Trivy argument vector test passed")
}

func TestTrivyVersionDetection(t *testing.T) {
	t.Log("\n🔍 Testing trivy version detection...")

	tr := NewTrivy(time.Minute)
	if tr.Version() != "trivy-0.55.0" {
		t.Errorf("❌ Expected fallback version, got %s", tr.Version())
	}

	tr.detectVersion("2024-06-01 INFO Version: some banner\nversion: 0.52.2\n")
	if tr.Version() != "trivy-0.52.2" {
		t.Errorf("❌ Expected detected version 0.52.2, got %s", tr.Version())
	}

	// Banner without a version line leaves the last detection in place
	tr.detectVersion("no banner here")
	if tr.Version() != "trivy-0.52.2" {
		t.Errorf("❌ Detection overwritten by empty banner: %s", tr.Version())
	}

	t.Log("\n✅ Trivy version detection test passed")
}

func TestTrivyParse(t *testing.T) {
	t.Log("\n🔍 Testing trivy end-to-end parse...")

	tr := NewTrivy(time.Minute)
	result, err := tr.Parse([]byte(sampleReport), 2347*time.Millisecond, "nginx:latest")
	if err != nil {
		t.Fatalf("❌ Parse failed: %v", err)
	}

	if result.ScanKind != "trivy" {
		t.Errorf("❌ ScanKind mismatch: %s", result.ScanKind)
	}
	if result.Status != "completed" {
		t.Errorf("❌ Status mismatch: %s", result.Status)
	}
	if result.Metadata.Image != "nginx:latest" {
		t.Errorf("❌ Image mismatch: %s", result.Metadata.Image)
	}
	if result.Metadata.ScannerVersion != "trivy-0.55.0" {
		t.Errorf("❌ Version mismatch: %s", result.Metadata.ScannerVersion)
	}
	if result.Metadata.ScanDurationSeconds != 2.35 {
		t.Errorf("❌ Duration not rounded to 2 decimals: %v", result.Metadata.ScanDurationSeconds)
	}
	if len(result.Findings) != 2 {
		t.Errorf("❌ Expected 2 findings, got %d", len(result.Findings))
	}
	if result.Summary.Total() != len(result.Findings) {
		t.Errorf("❌ Summary/findings mismatch: %d vs %d", result.Summary.Total(), len(result.Findings))
	}

	t.Log("\n✅ Trivy end-to-end parse test passed")
}

func TestValidateOptions(t *testing.T) {
	t.Log("\n🔍 Testing scan option validation...")

	opts, err := ValidateOptions(Options{
		Severity: []string{"critical", "High"},
		Modes:    []string{"VULN", "secret"},
	})
	if err != nil {
		t.Fatalf("❌ Expected valid options, got: %v", err)
	}
	if opts.Severity[0] != "CRITICAL" || opts.Severity[1] != "HIGH" {
		t.Errorf("❌ Severity not upper-cased: %v", opts.Severity)
	}
	if opts.Modes[0] != "vuln" || opts.Modes[1] != "secret" {
		t.Errorf("❌ Modes not lower-cased: %v", opts.Modes)
	}

	if _, err := ValidateOptions(Options{Severity: []string{"SEVERE"}}); err == nil {
		t.Error("❌ Expected invalid severity to be rejected")
	}
	if _, err := ValidateOptions(Options{Modes: []string{"malware"}}); err == nil {
		t.Error("❌ Expected invalid mode to be rejected")
	}

	t.Log("\n✅ Scan option validation test passed")
}

func TestScannerFactory(t *testing.T) {
	t.Log("\n🔍 Testing scanner factory dispatch...")

	sc, err := New("trivy", time.Minute)
	if err != nil {
		t.Fatalf("❌ Failed to build trivy scanner: %v", err)
	}
	if sc.Kind() != "trivy" {
		t.Errorf("❌ Kind mismatch: %s", sc.Kind())
	}

	if _, err := New("nessus", time.Minute); err == nil {
		t.Error("❌ Expected unknown scan kind to be rejected")
	}

	t.Log("\n✅ Scanner factory test passed")
}
