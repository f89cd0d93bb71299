// Package redact masks credentials that upstream errors may echo back.
package redact

import "regexp"

const mask = "[REDACTED]"

var (
	queryCredential = regexp.MustCompile(`(?i)\b((?:api[_-]?)?key|access_token|token|secret|password)=[^&\s"']+`)
	bearerToken     = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
)

// Secrets masks query-string credentials and bearer tokens in input.
func Secrets(input string) (redacted string, changed bool) {
	out := queryCredential.ReplaceAllString(input, "${1}="+mask)
	out = bearerToken.ReplaceAllString(out, "Bearer "+mask)
	return out, out != input
}

// String is Secrets without the change report.
func String(input string) string {
	out, _ := Secrets(input)
	return out
}
