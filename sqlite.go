// Copyright (c) 2026 The meridiandb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sqlite is a session-level binding onto SQLite3.
//
// A Conn wraps one sqlite3* handle. Cursors created from it execute
// SQL text that may hold several statements, compiled lazily one at a
// time through a per-connection prepared statement cache. Blobs and
// Backups round out the objects whose lifetimes the connection
// tracks: closing a connection closes everything derived from it
// first, and objects that become unreachable without Close salvage
// their engine handles through a runtime cleanup.
//
// This package requires a file: URI to open a database. For details
// see https://sqlite.org/c3ref/open.html#urifilenames.
//
// # Memory Mode
//
// In-memory databases are popular for tests. Use the "memdb" VFS
// (*not* the legacy in-memory modes) so several connections can share
// one database:
//
//	file:/dbname?vfs=memdb
//
// Use a different dbname for each memory database opened.
package sqlite

import (
	"errors"
	"expvar"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/meridiandb/sqlite/sqliteh"
)

// openEngine is the underlying SQLite implementation, set by the
// build-tagged driver file. Tests swap in fakes.
var openEngine sqliteh.OpenFunc

// UsesAfterClose is a metric that is incremented every time an
// operation is attempted on an object after Close has already been
// called. The keys are internal identifiers for the code path that
// incremented a counter.
var UsesAfterClose expvar.Map

// MissingBindingsAsNull is the process-wide default for named
// parameters that have no key in a bindings mapping: false means the
// statement fails with a BindingsError, true means NULL is bound.
// Overridable per connection with WithMissingBindingsAsNull.
var MissingBindingsAsNull bool

// Conn is a database connection.
//
// A Conn is not safe for concurrent use: overlapping calls from two
// goroutines return ErrThreadingViolation rather than being
// serialized. Interrupt is the one exception.
type Conn struct {
	*connState
	cleanup runtime.Cleanup
}

// connState is the part of a Conn the runtime cleanup may touch, so
// it must not point back at the Conn.
type connState struct {
	db    sqliteh.DB
	cache *stmtCache

	closed atomic.Bool
	inUse  atomic.Bool

	mu         sync.Mutex
	dependents []depEntry

	execTracer  ExecTracer
	rowTracer   RowTracer
	missingNull *bool // nil means use the package default
}

// dependent is an object whose lifetime a connection tracks.
type dependent interface {
	closeForConn(force bool) error
}

// depEntry is a weak registry slot. live returns the dependent while
// it is still reachable, nil after collection.
type depEntry struct {
	live func() dependent
}

// OpenOption adjusts how Open configures a connection.
type OpenOption func(*openOptions)

type openOptions struct {
	flags       sqliteh.OpenFlags
	vfs         string
	cacheSize   int
	missingNull *bool
	execTracer  ExecTracer
	rowTracer   RowTracer
}

// WithFlags replaces the default open flags
// (sqliteh.OpenFlagsDefault).
func WithFlags(flags sqliteh.OpenFlags) OpenOption {
	return func(o *openOptions) { o.flags = flags }
}

// WithVFS opens the database through the named VFS.
func WithVFS(vfs string) OpenOption {
	return func(o *openOptions) { o.vfs = vfs }
}

// WithCacheSize sets the statement cache capacity. Values are clamped
// to [0, MaxCacheSize]; 0 disables caching.
func WithCacheSize(n int) OpenOption {
	return func(o *openOptions) { o.cacheSize = n }
}

// WithMissingBindingsAsNull overrides MissingBindingsAsNull for this
// connection.
func WithMissingBindingsAsNull(v bool) OpenOption {
	return func(o *openOptions) { o.missingNull = &v }
}

// WithExecTracer sets the connection-wide exec tracer. Cursors can
// override it with SetExecTracer.
func WithExecTracer(t ExecTracer) OpenOption {
	return func(o *openOptions) { o.execTracer = t }
}

// WithRowTracer sets the connection-wide row tracer. Cursors can
// override it with SetRowTracer.
func WithRowTracer(t RowTracer) OpenOption {
	return func(o *openOptions) { o.rowTracer = t }
}

// Open opens a database connection.
func Open(filename string, opts ...OpenOption) (*Conn, error) {
	if openEngine == nil {
		return nil, errors.New("sqlite: no engine linked into the binary")
	}
	o := openOptions{
		flags:     sqliteh.OpenFlagsDefault,
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	db, err := openEngine(filename, o.flags, o.vfs)
	if err != nil {
		var e error
		if db != nil {
			e = reserr(db, "Open", filename, err)
			db.Close()
		} else {
			e = &Error{Loc: "Open", Query: filename, Msg: err.Error()}
			if code, ok := err.(sqliteh.ErrCode); ok {
				e = &Error{Code: sqliteh.Code(code), Loc: "Open", Query: filename}
			}
		}
		return nil, e
	}
	st := &connState{
		db:          db,
		cache:       newStmtCache(db, o.cacheSize),
		execTracer:  o.execTracer,
		rowTracer:   o.rowTracer,
		missingNull: o.missingNull,
	}
	conn := &Conn{connState: st}
	conn.cleanup = runtime.AddCleanup(conn, cleanupConn, st)
	return conn, nil
}

func (st *connState) enter(loc string) error {
	if st.closed.Load() {
		UsesAfterClose.Add(loc, 1)
		return ErrConnClosed
	}
	if !st.inUse.CompareAndSwap(false, true) {
		return ErrThreadingViolation
	}
	return nil
}

func (st *connState) leave() { st.inUse.Store(false) }

func (st *connState) missingBindingsAsNull() bool {
	if st.missingNull != nil {
		return *st.missingNull
	}
	return MissingBindingsAsNull
}

// SetExecTracer replaces the connection-wide exec tracer.
func (conn *Conn) SetExecTracer(t ExecTracer) { conn.execTracer = t }

// SetRowTracer replaces the connection-wide row tracer.
func (conn *Conn) SetRowTracer(t RowTracer) { conn.rowTracer = t }

// Cursor returns a new cursor on this connection.
func (conn *Conn) Cursor() (*Cursor, error) {
	if conn.closed.Load() {
		UsesAfterClose.Add("Cursor", 1)
		return nil, ErrConnClosed
	}
	st := &cursorState{conn: conn, status: statusDone}
	c := &Cursor{st: st}
	c.cleanup = runtime.AddCleanup(c, cleanupCursor, st)
	wp := weak.Make(c)
	conn.addDependent(func() dependent {
		if c := wp.Value(); c != nil {
			return c
		}
		return nil
	})
	return c, nil
}

// Execute runs query on a fresh cursor and returns the cursor
// positioned on the first result row (or exhausted, for statements
// that produce none).
func (conn *Conn) Execute(query string, bindings any) (*Cursor, error) {
	c, err := conn.Cursor()
	if err != nil {
		return nil, err
	}
	if err := c.Execute(query, bindings); err != nil {
		c.Close(true)
		return nil, err
	}
	return c, nil
}

// ExecuteMany runs query once per element of sets on a fresh cursor.
func (conn *Conn) ExecuteMany(query string, sets []any) (*Cursor, error) {
	c, err := conn.Cursor()
	if err != nil {
		return nil, err
	}
	if err := c.ExecuteMany(query, sets); err != nil {
		c.Close(true)
		return nil, err
	}
	return c, nil
}

// Changes is sqlite3_changes: rows modified by the most recent
// statement.
func (conn *Conn) Changes() (int, error) {
	if err := conn.enter("Changes"); err != nil {
		return 0, err
	}
	defer conn.leave()
	return conn.db.Changes(), nil
}

// TotalChanges is sqlite3_total_changes.
func (conn *Conn) TotalChanges() (int, error) {
	if err := conn.enter("TotalChanges"); err != nil {
		return 0, err
	}
	defer conn.leave()
	return conn.db.TotalChanges(), nil
}

// LastInsertRowid is sqlite3_last_insert_rowid.
func (conn *Conn) LastInsertRowid() (int64, error) {
	if err := conn.enter("LastInsertRowid"); err != nil {
		return 0, err
	}
	defer conn.leave()
	return conn.db.LastInsertRowid(), nil
}

// Interrupt asks the engine to abort any long-running statement on
// this connection. Unlike every other method it is safe to call while
// another goroutine uses the connection; the interrupted call returns
// an SQLITE_INTERRUPT error.
func (conn *Conn) Interrupt() {
	if conn.closed.Load() {
		UsesAfterClose.Add("Interrupt", 1)
		return
	}
	conn.db.Interrupt()
}

// BusyTimeout installs the engine's built-in busy handler with the
// given total wait. It replaces any handler set with SetBusyHandler.
func (conn *Conn) BusyTimeout(d time.Duration) error {
	if err := conn.enter("BusyTimeout"); err != nil {
		return err
	}
	defer conn.leave()
	return reserr(conn.db, "BusyTimeout", "", conn.db.BusyTimeout(int(d/time.Millisecond)))
}

// SetBusyHandler installs handler to run when the engine cannot get a
// lock. handler receives the number of prior retries for this lock
// and reports whether to retry. A nil handler clears it.
func (conn *Conn) SetBusyHandler(handler func(retries int) bool) error {
	if err := conn.enter("SetBusyHandler"); err != nil {
		return err
	}
	defer conn.leave()
	return reserr(conn.db, "SetBusyHandler", "", conn.db.SetBusyHandler(handler))
}

// CacheStats snapshots the statement cache counters, with the idle
// entry list when includeEntries is set.
func (conn *Conn) CacheStats(includeEntries bool) CacheStats {
	if conn.closed.Load() {
		UsesAfterClose.Add("CacheStats", 1)
		return CacheStats{}
	}
	return conn.cache.stats(includeEntries)
}

// Close closes the connection.
//
// Live cursors, blobs, and backups are closed first, oldest first.
// With force false the first dependent that refuses (for example a
// cursor with unexecuted statements) aborts the close with its error;
// force true pushes through, routing dependent errors to the
// unraisable hook. Closing twice is a no-op.
func (conn *Conn) Close(force bool) error {
	st := conn.connState
	if st.closed.Load() {
		UsesAfterClose.Add("Close", 1)
		return nil
	}
	if st.inUse.Load() {
		// Another goroutine, or a backup with this connection as its
		// source, is mid-call.
		return ErrThreadingViolation
	}
	for {
		d := st.firstLiveDependent()
		if d == nil {
			break
		}
		if err := d.closeForConn(force); err != nil {
			if !force {
				return err
			}
			unraisable("Conn.Close", err)
			st.removeDependent(d)
		}
	}
	st.closed.Store(true)
	conn.cleanup.Stop()
	var firstErr error
	if err := st.cache.close(); err != nil {
		firstErr = reserr(st.db, "Close", "", err)
	}
	if err := st.db.Close(); err != nil && firstErr == nil {
		firstErr = &Error{Code: errcode(err), Loc: "Close"}
	}
	return firstErr
}

// cleanupConn runs when a Conn became unreachable without Close.
// Dependents strong-reference the connection, so by the time this
// runs they have all been cleaned up themselves.
func cleanupConn(st *connState) {
	if st.closed.Load() {
		return
	}
	st.closed.Store(true)
	if err := st.cache.close(); err != nil {
		unraisable("Conn.cleanup", err)
	}
	if err := st.db.Close(); err != nil {
		unraisable("Conn.cleanup", err)
	}
}

func (st *connState) addDependent(live func() dependent) {
	st.mu.Lock()
	st.dependents = append(st.dependents, depEntry{live: live})
	st.mu.Unlock()
}

// removeDependent drops d from the registry, pruning entries whose
// referent has been collected along the way.
func (st *connState) removeDependent(d dependent) {
	st.mu.Lock()
	defer st.mu.Unlock()
	kept := st.dependents[:0]
	removed := false
	for _, e := range st.dependents {
		v := e.live()
		if v == nil {
			continue // collected, prune
		}
		if !removed && v == d {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	// Clear the tail so dropped entries do not pin their closures.
	for i := len(kept); i < len(st.dependents); i++ {
		st.dependents[i] = depEntry{}
	}
	st.dependents = kept
}

// firstLiveDependent returns the oldest dependent still reachable,
// pruning dead entries in front of it.
func (st *connState) firstLiveDependent() dependent {
	st.mu.Lock()
	defer st.mu.Unlock()
	for len(st.dependents) > 0 {
		if v := st.dependents[0].live(); v != nil {
			return v
		}
		st.dependents = st.dependents[1:]
	}
	return nil
}

// liveDependents counts reachable dependents.
func (st *connState) liveDependents() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for _, e := range st.dependents {
		if e.live() != nil {
			n++
		}
	}
	return n
}

func errcode(err error) sqliteh.Code {
	if code, ok := err.(sqliteh.ErrCode); ok {
		return sqliteh.Code(code)
	}
	return sqliteh.SQLITE_ERROR
}
