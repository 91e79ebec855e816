package logging

import (
	"regexp"
	"strings"
)

// sensitiveFields contains field names whose values are always masked.
var sensitiveFields = map[string]bool{
	"api_key":            true,
	"api_secret":         true,
	"secret":             true,
	"password":           true,
	"passphrase":         true,
	"token":              true,
	"access_token":       true,
	"bearer":             true,
	"credential":         true,
	"private_key":        true,
	"wallet_private_key": true,
	"mnemonic":           true,
	"seed":               true,
	"master_secret":      true,
}

// sensitivePatterns match credentials embedded in free text.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret|private[_-]?key|secret|password|passphrase|mnemonic|token|bearer)([=:\s]+)["']?([^\s"',]+)["']?`),
	// JWT
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+`),
	// base58 key material
	regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{43,88}\b`),
}

// IsSensitiveField reports whether a field name always carries secret material.
func IsSensitiveField(field string) bool {
	return sensitiveFields[strings.ToLower(field)]
}

// MaskCredential hides all but the last four characters of longer values.
func MaskCredential(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

// Mask removes credential-looking substrings from free text such as error messages.
func Mask(s string) string {
	out := sensitivePatterns[0].ReplaceAllString(s, "$1$2****")
	for _, p := range sensitivePatterns[1:] {
		out = p.ReplaceAllString(out, "****")
	}
	return out
}

// MaskField masks val when field is sensitive, otherwise scrubs embedded credentials.
func MaskField(field, val string) string {
	if IsSensitiveField(field) {
		return MaskCredential(val)
	}
	return Mask(val)
}
