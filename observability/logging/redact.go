package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// Redacted replaces secret values. The length suffix added by MaskField lets
// operators tell a truncated signature from a complete one.
const Redacted = "[REDACTED]"

// grantFields are the claim signer attributes that identify a request without
// exposing what it was granted: who asked, for which wallet and issue.
var grantFields = map[string]struct{}{
	"kind":       {},
	"login":      {},
	"wallet":     {},
	"repository": {},
	"issue":      {},
	"request_id": {},
}

// Public reports whether key is logged verbatim. Keys compare case
// insensitively and treat '-' like '_'.
func Public(key string) bool {
	key = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
	_, ok := grantFields[key]
	return ok
}

// MaskField redacts value unless key is public. Empty values pass through so
// a missing signature stays visible.
func MaskField(key, value string) slog.Attr {
	if value == "" || Public(key) {
		return slog.String(key, value)
	}
	return slog.String(key, fmt.Sprintf("%s len=%d", Redacted, len(value)))
}

// Grant groups an issued authorization under "grant". repository is omitted
// for identity links, which are not tied to an issue.
func Grant(kind, login, wallet, repository string, issue uint64, signature string) slog.Attr {
	attrs := []any{
		MaskField("kind", kind),
		MaskField("login", login),
		MaskField("wallet", wallet),
	}
	if repository != "" {
		attrs = append(attrs, MaskField("repository", repository), slog.Uint64("issue", issue))
	}
	attrs = append(attrs, MaskField("signature", signature))
	return slog.Group("grant", attrs...)
}
