// Copyright (c) 2026 The meridiandb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite

import (
	"errors"
	"expvar"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func openTestConn(t testing.TB, opts ...OpenOption) *Conn {
	t.Helper()
	conn, err := Open("file:"+t.TempDir()+"/test.db", opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close(true) })
	return conn
}

func mustExec(t testing.TB, conn *Conn, query string, bindings any) {
	t.Helper()
	c, err := conn.Execute(query, bindings)
	if err != nil {
		t.Fatalf("Execute(%q): %v", query, err)
	}
	drainCursor(t, c)
	if err := c.Close(false); err != nil {
		t.Fatalf("Close after %q: %v", query, err)
	}
}

func drainCursor(t testing.TB, c *Cursor) [][]any {
	t.Helper()
	var rows [][]any
	for {
		row, err := c.Next()
		if errors.Is(err, io.EOF) {
			return rows
		}
		if err != nil {
			t.Fatal(err)
		}
		rows = append(rows, row)
	}
}

func queryAll(t testing.TB, conn *Conn, query string, bindings any) [][]any {
	t.Helper()
	c, err := conn.Execute(query, bindings)
	if err != nil {
		t.Fatalf("Execute(%q): %v", query, err)
	}
	rows := drainCursor(t, c)
	if err := c.Close(false); err != nil {
		t.Fatal(err)
	}
	return rows
}

func usesAfterClose(key string) int64 {
	if v, ok := UsesAfterClose.Get(key).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

func TestOpenAndQuery(t *testing.T) {
	conn := openTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (c)", nil)
	mustExec(t, conn, "INSERT INTO t VALUES (?)", []any{int64(42)})

	got := queryAll(t, conn, "SELECT c FROM t", nil)
	want := [][]any{{int64(42)}}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("rows mismatch (-got +want):\n%s", diff)
	}
	if err := conn.Close(false); err != nil {
		t.Fatal(err)
	}
}

func TestConnCounters(t *testing.T) {
	conn := openTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (c)", nil)
	mustExec(t, conn, "INSERT INTO t VALUES (1), (2), (3)", nil)

	if n, err := conn.Changes(); err != nil || n != 3 {
		t.Errorf("Changes = %d, %v, want 3, nil", n, err)
	}
	if id, err := conn.LastInsertRowid(); err != nil || id != 3 {
		t.Errorf("LastInsertRowid = %d, %v, want 3, nil", id, err)
	}
	n0, err := conn.TotalChanges()
	if err != nil {
		t.Fatal(err)
	}
	mustExec(t, conn, "INSERT INTO t VALUES (4)", nil)
	if n, err := conn.TotalChanges(); err != nil || n != n0+1 {
		t.Errorf("TotalChanges = %d, %v, want %d, nil", n, err, n0+1)
	}
}

func TestCloseIdempotent(t *testing.T) {
	conn := openTestConn(t)
	if err := conn.Close(false); err != nil {
		t.Fatal(err)
	}
	before := usesAfterClose("Close")
	if err := conn.Close(false); err != nil {
		t.Fatalf("second Close = %v, want nil", err)
	}
	if got := usesAfterClose("Close"); got != before+1 {
		t.Errorf("UsesAfterClose[Close] = %d, want %d", got, before+1)
	}
}

func TestUseAfterClose(t *testing.T) {
	conn := openTestConn(t)
	if err := conn.Close(false); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Cursor(); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Cursor after close = %v, want ErrConnClosed", err)
	}
	if _, err := conn.Changes(); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Changes after close = %v, want ErrConnClosed", err)
	}
}

func TestCloseCascadesToDependents(t *testing.T) {
	conn := openTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (c)", nil)
	mustExec(t, conn, "INSERT INTO t VALUES (1), (2)", nil)

	c, err := conn.Cursor()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Execute("SELECT c FROM t", nil); err != nil {
		t.Fatal(err)
	}
	// The cursor sits on a pending row of its only statement, which
	// does not block a non-force close.
	if err := conn.Close(false); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Next(); !errors.Is(err, ErrCursorClosed) {
		t.Errorf("Next after conn close = %v, want ErrCursorClosed", err)
	}
}

func TestCloseRefusesIncompleteDependent(t *testing.T) {
	conn := openTestConn(t)
	c, err := conn.Cursor()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Execute("SELECT 1; SELECT 2", nil); err != nil {
		t.Fatal(err)
	}
	if err := conn.Close(false); !errors.Is(err, ErrIncompleteExecution) {
		t.Fatalf("Close = %v, want ErrIncompleteExecution", err)
	}
	// The connection must still be usable after the refused close.
	if got := queryAll(t, conn, "SELECT 7", nil); len(got) != 1 || got[0][0] != int64(7) {
		t.Fatalf("SELECT 7 after refused close = %v", got)
	}
	if err := conn.Close(true); err != nil {
		t.Fatal(err)
	}
}

func TestDependentRegistryPruning(t *testing.T) {
	conn := openTestConn(t)
	var cursors []*Cursor
	for i := 0; i < 5; i++ {
		c, err := conn.Cursor()
		if err != nil {
			t.Fatal(err)
		}
		cursors = append(cursors, c)
	}
	if got := conn.liveDependents(); got != 5 {
		t.Fatalf("liveDependents = %d, want 5", got)
	}
	// Close out of order; removal scans from the front.
	for _, i := range []int{2, 0, 4, 1, 3} {
		if err := cursors[i].Close(false); err != nil {
			t.Fatal(err)
		}
	}
	if got := conn.liveDependents(); got != 0 {
		t.Fatalf("liveDependents = %d, want 0", got)
	}
}

func TestMissingBindingsAsNullOption(t *testing.T) {
	conn := openTestConn(t, WithMissingBindingsAsNull(true))
	mustExec(t, conn, "CREATE TABLE t (a, b)", nil)
	mustExec(t, conn, "INSERT INTO t VALUES (:a, :b)", map[string]any{"a": int64(1)})

	got := queryAll(t, conn, "SELECT a, b FROM t", nil)
	want := [][]any{{int64(1), nil}}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("rows mismatch (-got +want):\n%s", diff)
	}
}

func TestErrorCarriesCodeAndQuery(t *testing.T) {
	conn := openTestConn(t)
	_, err := conn.Execute("SELECT * FROM nosuchtable", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("error type %T, want *Error", err)
	}
	if e.Code.Primary() != 1 { // SQLITE_ERROR
		t.Errorf("Code = %v, want SQLITE_ERROR", e.Code)
	}
	if e.Query == "" {
		t.Error("Query not set on error")
	}
}

func TestInterrupt(t *testing.T) {
	conn := openTestConn(t)
	// With nothing running, Interrupt is a no-op and the connection
	// keeps working.
	conn.Interrupt()
	mustExec(t, conn, "SELECT 1", nil)

	if err := conn.Close(false); err != nil {
		t.Fatal(err)
	}
	before := usesAfterClose("Interrupt")
	conn.Interrupt()
	if got := usesAfterClose("Interrupt"); got != before+1 {
		t.Errorf("UsesAfterClose[Interrupt] = %d, want %d", got, before+1)
	}
}

func TestBusyTimeout(t *testing.T) {
	conn := openTestConn(t)
	if err := conn.BusyTimeout(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	calls := 0
	if err := conn.SetBusyHandler(func(retries int) bool {
		calls++
		return false
	}); err != nil {
		t.Fatal(err)
	}
	if err := conn.SetBusyHandler(nil); err != nil {
		t.Fatal(err)
	}
	_ = calls
}
