package sqlbuild

import (
	"fmt"
	"strings"
)

// The raw-SQL allow-list is a boundary contract: any client-side
// mirror of this list must match it exactly. Anything not recognized
// is rejected, even when it contains no dangerous pattern.

// allowedFunctions is the exact-match (case-sensitive) allow-list of
// raw SQL fragments a caller may use in place of a literal value.
var allowedFunctions = map[string]struct{}{
	// PostgreSQL
	"now()":              {},
	"current_timestamp":  {},
	"localtimestamp":     {},
	"current_date":       {},
	"now()::date":        {},
	"current_time":       {},
	"localtime":          {},
	"gen_random_uuid()":  {},
	"uuid_generate_v4()": {},
	"DEFAULT":            {},
	"TRUE":               {},
	"FALSE":              {},
	"'{}'::json":         {},
	"'[]'::json":         {},
	"'{}'::jsonb":        {},
	"'[]'::jsonb":        {},
	// SQLite
	"datetime('now')":              {},
	"datetime('now', 'localtime')": {},
	"date('now')":                  {},
	"date('now', 'localtime')":     {},
	"time('now')":                  {},
	"time('now', 'localtime')":     {},
	"NULL":                         {},
	"1":                            {},
	"0":                            {},
	// ClickHouse
	"now64()":          {},
	"today()":          {},
	"yesterday()":      {},
	"generateUUIDv4()": {},
	"true":             {},
	"false":            {},
	"'{}'":             {},
}

// caseInsensitiveAllowed is the narrower subset that is safe to match
// regardless of case (some backends are case-insensitive about these).
var caseInsensitiveAllowed = []string{
	"true",
	"false",
	"null",
	"default",
	"now()",
	"current_timestamp",
	"localtimestamp",
	"current_date",
	"current_time",
	"localtime",
	"gen_random_uuid()",
	"uuid_generate_v4()",
	"datetime('now')",
	"datetime('now', 'localtime')",
	"date('now')",
	"date('now', 'localtime')",
	"time('now')",
	"time('now', 'localtime')",
	"now64()",
	"today()",
	"yesterday()",
	"generateuuidv4()",
}

// dangerousPatterns are scanned after a whitelist miss to produce a
// specific diagnostic. Rejection does not depend on this list; it only
// sharpens the error message.
var dangerousPatterns = []string{
	"drop", "delete", "truncate", "alter", "create", "insert",
	"update", "exec", "execute", "union", "select", "from", "where",
	"having", "grant", "revoke", "commit", "rollback", "begin",
	"transaction", ";", "--", "/*", "*/", "xp_", "sp_", "script",
	"javascript",
}

// ValidateRawSQL accepts a raw SQL fragment only if it exactly matches
// the allow-list (or, for a narrow subset, matches case-insensitively).
// Everything else is rejected: with a dangerous-pattern diagnostic when
// one is found, generically otherwise.
func ValidateRawSQL(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return &ValidationError{Reason: "raw SQL value cannot be empty"}
	}

	if _, ok := allowedFunctions[trimmed]; ok {
		return nil
	}

	lower := strings.ToLower(trimmed)
	for _, fn := range caseInsensitiveAllowed {
		if lower == fn {
			return nil
		}
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(lower, pattern) {
			return &ValidationError{Reason: fmt.Sprintf(
				"raw SQL value contains potentially dangerous pattern %q; only whitelisted SQL functions are allowed",
				pattern)}
		}
	}

	return &ValidationError{Reason: fmt.Sprintf(
		"raw SQL value %q is not in the whitelist of allowed functions", trimmed)}
}

// AllowedFunctions returns a copy of the exact-match allow-list, for
// consumers that mirror it (the list is compiled into both sides of
// the boundary and must match exactly).
func AllowedFunctions() []string {
	out := make([]string, 0, len(allowedFunctions))
	for fn := range allowedFunctions {
		out = append(out, fn)
	}
	return out
}
