package sqlbuild

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbbridge/core"
)

func TestEscapeIdentifier(t *testing.T) {
	assert.Equal(t, `a""b`, EscapeIdentifier(`a"b`))
	assert.Equal(t, `plain`, EscapeIdentifier(`plain`))
	assert.Equal(t, `""""`, EscapeIdentifier(`""`))
	assert.Equal(t, `"a""b"`, QuoteIdentifier(`a"b`))
}

func TestTableRef(t *testing.T) {
	assert.Equal(t, `"public"."users"`, TableRef(core.DatabaseTypePostgres, "public", "users"))
	// SQLite has no schemas; the qualifier is dropped.
	assert.Equal(t, `"users"`, TableRef(core.DatabaseTypeSQLite, "main", "users"))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "NULL", FormatValue(nil))
	assert.Equal(t, "TRUE", FormatValue(true))
	assert.Equal(t, "FALSE", FormatValue(false))
	assert.Equal(t, "42", FormatValue(float64(42)))
	assert.Equal(t, "3.5", FormatValue(3.5))
	assert.Equal(t, "'hello'", FormatValue("hello"))
	assert.Equal(t, "'it''s'", FormatValue("it's"))
	assert.Equal(t, `'[1,2]'`, FormatValue([]any{float64(1), float64(2)}))
	assert.Equal(t, `'{"k":"v"}'`, FormatValue(map[string]any{"k": "v"}))
}

func TestValidateRawSQL_Whitelisted(t *testing.T) {
	for _, ok := range []string{"now()", "NOW()", " now() ", "current_timestamp", "gen_random_uuid()", "datetime('now')", "today()", "DEFAULT", "NULL"} {
		assert.NoError(t, ValidateRawSQL(ok), ok)
	}
}

func TestValidateRawSQL_DangerousPattern(t *testing.T) {
	err := ValidateRawSQL("now(); DROP TABLE x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dangerous pattern")

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
}

func TestValidateRawSQL_NotWhitelisted(t *testing.T) {
	// Contains a dangerous keyword, so the diagnostic names it.
	err := ValidateRawSQL("SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dangerous pattern")

	// No dangerous pattern at all: still rejected, whitelist-first.
	err = ValidateRawSQL("random()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the whitelist")

	require.Error(t, ValidateRawSQL(""))
	require.Error(t, ValidateRawSQL("   "))
}

func TestBuildUpdate(t *testing.T) {
	sql, err := BuildUpdate(core.DatabaseTypePostgres, "public", "users",
		[]ColumnValue{{Column: "name", Value: "Bob"}, {Column: "age", Value: float64(30)}},
		[]string{"id"}, []any{float64(7)})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "public"."users" SET "name" = 'Bob', "age" = 30 WHERE "id" = 7`, sql)
}

func TestBuildUpdate_RawSQL(t *testing.T) {
	sql, err := BuildUpdate(core.DatabaseTypePostgres, "public", "events",
		[]ColumnValue{{Column: "updated_at", Value: "now()", RawSQL: true}},
		[]string{"id"}, []any{"abc"})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "public"."events" SET "updated_at" = now() WHERE "id" = 'abc'`, sql)

	_, err = BuildUpdate(core.DatabaseTypePostgres, "public", "events",
		[]ColumnValue{{Column: "updated_at", Value: "now(); DROP TABLE x", RawSQL: true}},
		[]string{"id"}, []any{"abc"})
	require.Error(t, err)

	_, err = BuildUpdate(core.DatabaseTypePostgres, "public", "events",
		[]ColumnValue{{Column: "updated_at", Value: 5, RawSQL: true}},
		[]string{"id"}, []any{"abc"})
	require.Error(t, err)
}

func TestBuildUpdate_PrimaryKeyArity(t *testing.T) {
	// Mismatched pk columns/values must be rejected before any SQL is built.
	_, err := BuildUpdate(core.DatabaseTypePostgres, "public", "users",
		[]ColumnValue{{Column: "name", Value: "x"}},
		[]string{"id", "tenant"}, []any{float64(1)})
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))

	_, err = BuildUpdate(core.DatabaseTypePostgres, "public", "users",
		[]ColumnValue{{Column: "name", Value: "x"}},
		nil, nil)
	require.Error(t, err)

	_, err = BuildUpdate(core.DatabaseTypePostgres, "public", "users",
		nil, []string{"id"}, []any{float64(1)})
	require.Error(t, err)
}

func TestBuildDelete(t *testing.T) {
	sql, err := BuildDelete(core.DatabaseTypeSQLite, "main", "users",
		[]string{"id"}, []any{float64(3)})
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "users" WHERE "id" = 3`, sql)

	sql, err = BuildDelete(core.DatabaseTypePostgres, "public", "users",
		[]string{"id", "org"}, []any{float64(3), "acme"})
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "public"."users" WHERE "id" = 3 AND "org" = 'acme'`, sql)
}

func TestBuildInsert(t *testing.T) {
	sql, err := BuildInsert(core.DatabaseTypePostgres, "public", "users",
		[]ColumnValue{
			{Column: "id", Value: "gen_random_uuid()", RawSQL: true},
			{Column: "name", Value: "O'Brien"},
			{Column: "active", Value: true},
		})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "public"."users" ("id", "name", "active") VALUES (gen_random_uuid(), 'O''Brien', TRUE)`, sql)

	_, err = BuildInsert(core.DatabaseTypePostgres, "public", "users", nil)
	require.Error(t, err)
}

func TestInjectionThroughIdentifier(t *testing.T) {
	sql, err := BuildDelete(core.DatabaseTypePostgres, "public", `users" WHERE 1=1 --`,
		[]string{"id"}, []any{float64(1)})
	require.NoError(t, err)
	// The doubled quote keeps the malicious text inside the identifier.
	assert.True(t, strings.Contains(sql, `"users"" WHERE 1=1 --"`))
}
