// Package scrub removes credential-shaped substrings from strings
// before they reach logs, error messages or the collection summary.
package scrub

import (
	"regexp"
)

// Scrubber is the sanitizer hook consulted for every user visible
// string. Callers may install their own implementation.
type Scrubber interface {
	Scrub(in string) string
}

type pattern struct {
	re          *regexp.Regexp
	replacement string
}

var credential_patterns = []pattern{
	{regexp.MustCompile(`(?i)(aws[_-]?access[_-]?key[_-]?id|aws[_-]?key[_-]?id|access[_-]?key[_-]?id)\s*[:=]\s*([A-Z0-9]{16,32})`),
		"$1=<REDACTED_AWS_KEY>"},
	{regexp.MustCompile(`(?i)(aws[_-]?secret[_-]?access[_-]?key|aws[_-]?secret[_-]?key|secret[_-]?access[_-]?key|secret[_-]?key)\s*[:=]\s*([A-Za-z0-9/+=]{32,})`),
		"$1=<REDACTED_AWS_SECRET>"},
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*([A-Za-z0-9\-_]{20,})`),
		"$1=<REDACTED_API_KEY>"},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*(\S+)`),
		"$1=<REDACTED_PASSWORD>"},
	{regexp.MustCompile(`(?i)(private[_-]?key|ssh[_-]?key|key[_-]?file)\s*[:=]\s*(\S+\.pem|\S+\.key|\S*id_rsa\S*)`),
		"$1=<REDACTED_KEY_PATH>"},
	{regexp.MustCompile(`(?i)(bearer|authorization)\s*[:=]\s*(bearer\s+)?([A-Za-z0-9\-._~+/]+=*)`),
		"$1=<REDACTED_TOKEN>"},
	{regexp.MustCompile(`(?i)(token|access[_-]?token|auth[_-]?token)\s*[:=]\s*([A-Za-z0-9\-._~+/]{20,})`),
		"$1=<REDACTED_TOKEN>"},
	{regexp.MustCompile(`(?i)(mysql|postgres|postgresql|mongodb|redis|mssql|oracle)://([^:/\s]+):([^@\s]+)@`),
		"$1://<REDACTED_USER>:<REDACTED_PASS>@"},
	{regexp.MustCompile(`(https?://)([^:/\s]+):([^@\s]+)@`),
		"$1<REDACTED_USER>:<REDACTED_PASS>@"},

	// PEM bodies pasted into error strings.
	{regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?(-----END [A-Z ]*PRIVATE KEY-----|\z)`),
		"<REDACTED_PRIVATE_KEY>"},
}

type DefaultScrubber struct{}

func (self DefaultScrubber) Scrub(in string) string {
	result := in
	for _, p := range credential_patterns {
		result = p.re.ReplaceAllString(result, p.replacement)
	}
	return result
}

// NullScrubber passes strings through untouched. Only for tests.
type NullScrubber struct{}

func (self NullScrubber) Scrub(in string) string {
	return in
}

var sensitive_path_patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.ssh/`),
	regexp.MustCompile(`(?i)\.aws/`),
	regexp.MustCompile(`(?i)\.kube/`),
	regexp.MustCompile(`(?i)\.gnupg/`),
	regexp.MustCompile(`(?i)id_rsa`),
	regexp.MustCompile(`(?i)id_dsa`),
	regexp.MustCompile(`(?i)id_ecdsa`),
	regexp.MustCompile(`(?i)id_ed25519`),
	regexp.MustCompile(`(?i)\.pem$`),
	regexp.MustCompile(`(?i)\.key$`),
	regexp.MustCompile(`(?i)\.p12$`),
	regexp.MustCompile(`(?i)\.pfx$`),
	regexp.MustCompile(`(?i)credentials`),
}

// IsSensitivePath reports whether a path looks like it contains key
// material. Collectors use it to flag (not suppress) such artifacts.
func IsSensitivePath(path string) bool {
	for _, re := range sensitive_path_patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
