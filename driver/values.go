package driver

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"dbbridge/core"
	"dbbridge/sqlbuild"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// filterReplacer undoes the quote mangling that GUI text fields and
// shells inflict on hand-typed WHERE fragments before they reach us.
var filterReplacer = strings.NewReplacer(
	"‘", "'", // left single quote
	"’", "'", // right single quote
	"“", `"`, // left double quote
	"”", `"`, // right double quote
	`\'`, "'",
)

// NormalizeFilter rewrites smart quotes and escaped quotes in a user
// filter fragment to their plain SQL forms.
func NormalizeFilter(filter string) string {
	return strings.TrimSpace(filterReplacer.Replace(filter))
}

// normalizePaging clamps page and limit to sane values.
func normalizePaging(req *core.TableDataRequest) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit < 1 {
		req.Limit = defaultPageLimit
	}
	if req.Limit > maxPageLimit {
		req.Limit = maxPageLimit
	}
}

// sortClause renders an ORDER BY for the request, or "" when no sort
// column was given. The direction is forced to ASC or DESC so the
// request can never smuggle SQL through it.
func sortClause(req core.TableDataRequest) string {
	if req.SortColumn == "" {
		return ""
	}
	direction := "ASC"
	if strings.EqualFold(req.SortDirection, "desc") {
		direction = "DESC"
	}
	return " ORDER BY " + sqlbuild.QuoteIdentifier(req.SortColumn) + " " + direction
}

// whereFragment renders a WHERE clause from a normalized filter, or ""
// when the filter is empty.
func whereFragment(filter string) string {
	normalized := NormalizeFilter(filter)
	if normalized == "" {
		return ""
	}
	return " WHERE " + normalized
}

// convertValue maps a scanned database value into the JSON object
// model: native scalars pass through, time and binary values become
// strings, and anything unrecognized is rendered best-effort.
func convertValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, string, float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val
	case time.Time:
		return val.Format("2006-01-02 15:04:05.999999")
	case []byte:
		return `\x` + hex.EncodeToString(val)
	case [16]byte:
		return formatUUIDBytes(val)
	case map[string]any, []any:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		s := fmt.Sprint(val)
		if s == "" {
			return fmt.Sprintf("<%T>", val)
		}
		return s
	}
}

func formatUUIDBytes(b [16]byte) string {
	dst := make([]byte, 36)
	hex.Encode(dst[0:8], b[0:4])
	dst[8] = '-'
	hex.Encode(dst[9:13], b[4:6])
	dst[13] = '-'
	hex.Encode(dst[14:18], b[6:8])
	dst[18] = '-'
	hex.Encode(dst[19:23], b[8:10])
	dst[23] = '-'
	hex.Encode(dst[24:36], b[10:16])
	return string(dst)
}

// scanRows drains a database/sql result set into the row model.
func scanRows(rows *sql.Rows) ([]core.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]core.Row, 0, 64)
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(core.Row, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// isReadStatement reports whether a SQL statement produces a result
// set, deciding Query versus Exec dispatch.
func isReadStatement(query string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(query))
	for _, prefix := range []string{"select", "with", "show", "describe", "desc ", "explain", "values", "pragma", "exists"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
