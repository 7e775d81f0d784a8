package sqlbuild

import (
	"fmt"
	"strings"

	"dbbridge/core"
)

// ValidationError reports a malformed mutation request. It is raised
// before any SQL text is constructed and never reaches the network.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// ColumnValue is one column assignment in an update or insert. When
// RawSQL is set the value must be a string passing ValidateRawSQL and
// is emitted verbatim; otherwise it is formatted as a literal.
type ColumnValue struct {
	Column string
	Value  any
	RawSQL bool
}

func renderValue(cv ColumnValue) (string, error) {
	if !cv.RawSQL {
		return FormatValue(cv.Value), nil
	}
	raw, ok := cv.Value.(string)
	if !ok {
		return "", &ValidationError{Reason: "raw SQL value must be a string"}
	}
	if err := ValidateRawSQL(raw); err != nil {
		return "", fmt.Errorf("invalid raw SQL value: %w", err)
	}
	return strings.TrimSpace(raw), nil
}

func checkPrimaryKey(pkColumns []string, pkValues []any) error {
	if len(pkColumns) == 0 || len(pkColumns) != len(pkValues) {
		return &ValidationError{Reason: "primary key columns and values must match"}
	}
	return nil
}

func whereClause(pkColumns []string, pkValues []any) string {
	parts := make([]string, len(pkColumns))
	for i, col := range pkColumns {
		parts[i] = QuoteIdentifier(col) + " = " + FormatValue(pkValues[i])
	}
	return strings.Join(parts, " AND ")
}

// BuildUpdate assembles an UPDATE statement targeting the rows matched
// by the primary key columns/values. Requires at least one update.
func BuildUpdate(dbType core.DatabaseType, schema, table string, updates []ColumnValue, pkColumns []string, pkValues []any) (string, error) {
	if err := checkPrimaryKey(pkColumns, pkValues); err != nil {
		return "", err
	}
	if len(updates) == 0 {
		return "", &ValidationError{Reason: "no updates provided"}
	}

	setParts := make([]string, len(updates))
	for i, cv := range updates {
		rendered, err := renderValue(cv)
		if err != nil {
			return "", err
		}
		setParts[i] = QuoteIdentifier(cv.Column) + " = " + rendered
	}

	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		TableRef(dbType, schema, table),
		strings.Join(setParts, ", "),
		whereClause(pkColumns, pkValues)), nil
}

// BuildDelete assembles a DELETE statement targeting the rows matched
// by the primary key columns/values.
func BuildDelete(dbType core.DatabaseType, schema, table string, pkColumns []string, pkValues []any) (string, error) {
	if err := checkPrimaryKey(pkColumns, pkValues); err != nil {
		return "", err
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s",
		TableRef(dbType, schema, table),
		whereClause(pkColumns, pkValues)), nil
}

// BuildInsert assembles an INSERT statement from column/value pairs.
// Requires at least one value.
func BuildInsert(dbType core.DatabaseType, schema, table string, values []ColumnValue) (string, error) {
	if len(values) == 0 {
		return "", &ValidationError{Reason: "no values provided"}
	}

	columns := make([]string, len(values))
	rendered := make([]string, len(values))
	for i, cv := range values {
		columns[i] = QuoteIdentifier(cv.Column)
		r, err := renderValue(cv)
		if err != nil {
			return "", err
		}
		rendered[i] = r
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		TableRef(dbType, schema, table),
		strings.Join(columns, ", "),
		strings.Join(rendered, ", ")), nil
}
