package scanner

import (
	"strings"
	"testing"
)

func TestValidateImageRefAccepted(t *testing.T) {
	t.Log("\n🔍 Testing accepted image references...")

	valid := []string{
		"nginx",
		"nginx:latest",
		"nginx:1.25.3",
		"docker.io/library/nginx:latest",
		"ghcr.io/owner/app:v1.2.3",
		"quay.io/prometheus/node-exporter:v1.8.0",
		"mcr.microsoft.com/dotnet/runtime:8.0",
		"alpine@sha256:abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789",
		"  nginx:latest  ", // leading/trailing whitespace is trimmed
	}

	for _, target := range valid {
		got, err := ValidateImageRef(target, nil)
		if err != nil {
			t.Errorf("❌ Expected %q to be valid, got error: %v", target, err)
			continue
		}
		if got != strings.TrimSpace(target) {
			t.Errorf("❌ Expected trimmed %q, got %q", target, got)
		}
	}

	t.Log("\n✅ Accepted image reference test passed")
}

func TestValidateImageRefRejected(t *testing.T) {
	t.Log("\n🔍 Testing rejected image references...")

	invalid := []string{
		"",
		"   ",
		"nginx; rm -rf /",
		"nginx && echo pwned",
		"nginx | cat /etc/passwd",
		"nginx`whoami`",
		"nginx$HOME",
		"nginx\nnewline",
		"nginx\rreturn",
		strings.Repeat("a", 501),
	}

	for _, target := range invalid {
		if _, err := ValidateImageRef(target, nil); err == nil {
			t.Errorf("❌ Expected %q to be rejected", target)
		}
	}

	t.Log("\n✅ Rejected image reference test passed")
}

func TestValidateImageRefRegistryAllowList(t *testing.T) {
	t.Log("\n🔍 Testing registry allow-list...")

	if _, err := ValidateImageRef("evil.example.com/nginx:latest", nil); err == nil {
		t.Error("❌ Expected unknown registry to be rejected")
	}

	// Custom allow-list overrides the default set
	got, err := ValidateImageRef("internal.example.com/team/app:v1", []string{"internal.example.com"})
	if err != nil {
		t.Fatalf("❌ Expected custom registry to be allowed, got: %v", err)
	}
	if got != "internal.example.com/team/app:v1" {
		t.Errorf("❌ Unexpected canonical form: %q", got)
	}

	if _, err := ValidateImageRef("docker.io/library/nginx", []string{"internal.example.com"}); err == nil {
		t.Error("❌ Expected docker.io to be rejected when not in custom allow-list")
	}

	t.Log("\n✅ Registry allow-list test passed")
}

func TestValidateImageRefIdempotent(t *testing.T) {
	t.Log("\n🔍 Testing validator idempotence...")

	first, err := ValidateImageRef("  ghcr.io/owner/app:v1  ", nil)
	if err != nil {
		t.Fatalf("❌ First validation failed: %v", err)
	}
	second, err := ValidateImageRef(first, nil)
	if err != nil {
		t.Fatalf("❌ Second validation failed: %v", err)
	}
	if first != second {
		t.Errorf("❌ Validator not idempotent: %q vs %q", first, second)
	}

	t.Log("\n✅ Validator idempotence test passed")
}
