// Package sqlbuild turns structured row edits into backend-appropriate
// SQL text. There is no prepared-statement layer for every backend and
// operation combination, so values are rendered as escaped literals
// and raw SQL fragments are limited to a fixed allow-list of known
// functions.
package sqlbuild

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"dbbridge/core"
)

// EscapeIdentifier doubles embedded double quotes in an identifier
// (table, schema, column). This neutralizes identifiers like
// `column" OR 1=1 --`.
func EscapeIdentifier(identifier string) string {
	return strings.ReplaceAll(identifier, `"`, `""`)
}

// QuoteIdentifier escapes an identifier and wraps it in double quotes.
func QuoteIdentifier(identifier string) string {
	return `"` + EscapeIdentifier(identifier) + `"`
}

// TableRef builds the qualified table reference. SQLite has no schema
// concept, so the schema qualifier is omitted there; all other
// backends use "schema"."table".
func TableRef(dbType core.DatabaseType, schema, table string) string {
	if dbType == core.DatabaseTypeSQLite {
		return QuoteIdentifier(table)
	}
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(table)
}

// FormatValue renders a JSON-compatible value as a SQL literal.
// Strings are single-quoted with embedded quotes doubled; arrays and
// objects are serialized to their JSON text form and then quoted the
// same way.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case string:
		return quoteString(v)
	default:
		// Arrays, objects, and anything else JSON-representable.
		data, err := json.Marshal(v)
		if err != nil {
			return quoteString(fmt.Sprintf("%v", v))
		}
		return quoteString(string(data))
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
