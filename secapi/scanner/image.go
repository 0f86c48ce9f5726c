package scanner

import (
	"fmt"
	"regexp"
	"strings"
)

// imageRe is a simplified container image reference grammar:
// optional host[:port]/, optional namespace/, required name, optional :tag,
// optional @digest (algorithm:hex).
var imageRe = regexp.MustCompile(`(?i)^([a-z0-9.-]+(:[0-9]+)?/)?([a-z0-9_]+/)?([a-z0-9_-]+)(:[\w.-]+)?(@[a-z0-9_]+:[a-f0-9]+)?$`)

// unsafeChars are rejected outright before the target can reach any process
// boundary. Independent of how the string is later passed to the subprocess.
var unsafeChars = []string{"$", ";", "&", "|", "`", "\n", "\r"}

// defaultAllowedRegistries is the registry allow-list used when no override
// is configured. The empty string is the default (Docker Hub) registry.
var defaultAllowedRegistries = map[string]bool{
	"docker.io":            true,
	"registry-1.docker.io": true,
	"ghcr.io":              true,
	"gcr.io":               true,
	"quay.io":              true,
	"public.ecr.aws":       true,
	"mcr.microsoft.com":    true,
	"":                     true,
}

// maxImageRefLength caps the accepted target length after trimming.
const maxImageRefLength = 500

// ValidateImageRef checks a container image reference and returns the trimmed,
// otherwise unmodified string. Safe to re-run on its own output. The optional
// allowed list overrides the default registry allow-list.
func ValidateImageRef(target string, allowed []string) (string, error) {
	target = strings.TrimSpace(target)

	if target == "" || len(target) > maxImageRefLength {
		return "", &ValidationError{Reason: "invalid image name"}
	}

	for _, c := range unsafeChars {
		if strings.Contains(target, c) {
			return "", &ValidationError{Reason: "invalid characters in image name"}
		}
	}

	m := imageRe.FindStringSubmatch(target)
	if m == nil {
		return "", &ValidationError{Reason: fmt.Sprintf("invalid image reference format: %s", target)}
	}

	host := strings.TrimSuffix(m[1], "/")
	if host != "" && !registryAllowed(host, allowed) {
		return "", &ValidationError{Reason: fmt.Sprintf("registry not allowed: %s", host)}
	}

	return target, nil
}

func registryAllowed(host string, allowed []string) bool {
	if len(allowed) == 0 {
		return defaultAllowedRegistries[strings.ToLower(host)]
	}
	for _, a := range allowed {
		if strings.EqualFold(a, host) {
			return true
		}
	}
	return false
}
