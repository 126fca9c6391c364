package sqlitelog

import (
	"bytes"
	"testing"

	"github.com/go-pkgz/lgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiandb/sqlite"
)

func TestExecTracerLogs(t *testing.T) {
	var buf bytes.Buffer
	l := lgr.New(lgr.Out(&buf), lgr.Debug)

	conn, err := sqlite.Open("file:"+t.TempDir()+"/log_test.db",
		sqlite.WithExecTracer(ExecTracer(l)))
	require.NoError(t, err)
	defer conn.Close(true)

	cur, err := conn.Execute("CREATE TABLE t (c)", nil)
	require.NoError(t, err)
	require.NoError(t, cur.Close(false))

	cur, err = conn.Execute("INSERT INTO t VALUES (?)", []any{int64(7)})
	require.NoError(t, err)
	require.NoError(t, cur.Close(false))

	out := buf.String()
	assert.Contains(t, out, "CREATE TABLE t (c)")
	assert.Contains(t, out, "INSERT INTO t VALUES (?)")
	assert.Contains(t, out, "bindings=[7]")
	assert.Contains(t, out, "DEBUG")
}

func TestExecTracerNeverVetoes(t *testing.T) {
	tracer := ExecTracer(lgr.New(lgr.Out(&bytes.Buffer{})))
	assert.True(t, tracer("SELECT 1", nil))
}
