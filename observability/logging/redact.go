package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces credentials in log output.
const RedactedValue = "[REDACTED]"

var credentialFragments = []string{"pin", "token", "passphrase", "secret", "authorization", "password"}

// IsSensitive reports whether a log key names a credential.
func IsSensitive(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, frag := range credentialFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// redact masks any non-empty value logged under a sensitive key, whatever its
// kind. Groups are walked so nested credentials are caught too.
func redact(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup {
		members := attr.Value.Group()
		out := make([]slog.Attr, len(members))
		for i, member := range members {
			out[i] = redact(member)
		}
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(out...)}
	}
	if !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
