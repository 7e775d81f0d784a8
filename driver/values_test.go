package driver

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dbbridge/core"
)

func TestNormalizeFilter(t *testing.T) {
	assert.Equal(t, `name = 'Alice'`, NormalizeFilter("name = ‘Alice’"))
	assert.Equal(t, `tag = "x"`, NormalizeFilter("tag = “x”"))
	assert.Equal(t, `name = 'O'Brien'`, NormalizeFilter(`name = 'O\'Brien'`))
	assert.Equal(t, `id > 5`, NormalizeFilter("  id > 5  "))
	assert.Equal(t, "", NormalizeFilter("   "))
}

func TestSortClause(t *testing.T) {
	assert.Equal(t, "", sortClause(core.TableDataRequest{}))
	assert.Equal(t, ` ORDER BY "age" ASC`, sortClause(core.TableDataRequest{SortColumn: "age"}))
	assert.Equal(t, ` ORDER BY "age" DESC`, sortClause(core.TableDataRequest{SortColumn: "age", SortDirection: "DESC"}))
	// Anything that is not desc falls back to ASC.
	assert.Equal(t, ` ORDER BY "age" ASC`, sortClause(core.TableDataRequest{SortColumn: "age", SortDirection: "sideways"}))
}

func TestNormalizePaging(t *testing.T) {
	req := core.TableDataRequest{Page: 0, Limit: -1}
	normalizePaging(&req)
	assert.Equal(t, int64(1), req.Page)
	assert.Equal(t, int64(defaultPageLimit), req.Limit)

	req = core.TableDataRequest{Page: 3, Limit: 99999}
	normalizePaging(&req)
	assert.Equal(t, int64(3), req.Page)
	assert.Equal(t, int64(maxPageLimit), req.Limit)
}

func TestConvertValue(t *testing.T) {
	assert.Nil(t, convertValue(nil))
	assert.Equal(t, int64(7), convertValue(int64(7)))
	assert.Equal(t, "hello", convertValue("hello"))

	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-05-01 12:30:00", convertValue(ts))

	assert.Equal(t, `\xdeadbeef`, convertValue([]byte{0xde, 0xad, 0xbe, 0xef}))

	uuid := [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
	assert.Equal(t, "12345678-9abc-def0-1234-56789abcdef0", convertValue(uuid))
}

func TestIsReadStatement(t *testing.T) {
	assert.True(t, isReadStatement("SELECT 1"))
	assert.True(t, isReadStatement("  with t as (select 1) select * from t"))
	assert.True(t, isReadStatement("SHOW TABLES"))
	assert.True(t, isReadStatement("EXPLAIN SELECT 1"))
	assert.False(t, isReadStatement("INSERT INTO t VALUES (1)"))
	assert.False(t, isReadStatement("UPDATE t SET x = 1"))
}

func TestIsTransportError(t *testing.T) {
	assert.False(t, IsTransportError(nil))
	assert.False(t, IsTransportError(errors.New("syntax error at or near")))
	assert.True(t, IsTransportError(errors.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransportError(errors.New("write: broken pipe")))
	assert.True(t, IsTransportError(errors.New("unexpected EOF: server closed the connection")))
}
