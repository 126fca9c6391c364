package sqlite

import (
	"io"
	"runtime"
	"strconv"
	"sync/atomic"
)

// ExecTracer is called once per statement, after binding and before
// the first step. Returning false vetoes the statement: Execute
// returns ErrTraceAbort and nothing runs.
type ExecTracer func(query string, bindings any) bool

// RowTracer is called for each result row before Next returns it. The
// returned slice replaces the row; returning nil skips the row and
// Next moves on to the following one.
type RowTracer func(row []any) []any

// cursorStatus tracks where a cursor is in its execution lifecycle.
type cursorStatus int

const (
	// statusBegin: the current statement has work left but no unfetched
	// row: nothing stepped yet, or the last row was consumed and the
	// statement resumes on the next fetch.
	statusBegin cursorStatus = iota
	// statusRow: the engine is positioned on an unfetched row.
	statusRow
	// statusDone: no pending work. Fresh and exhausted cursors both.
	statusDone
)

// Cursor executes SQL on its connection and iterates result rows.
//
// A query may contain several statements; they are compiled one at a
// time as execution reaches them. A cursor is not safe for concurrent
// use: overlapping calls from two goroutines return
// ErrThreadingViolation. Strictly sequential use from different
// goroutines is fine.
type Cursor struct {
	st      *cursorState
	cleanup runtime.Cleanup
}

// cursorState is the part of a Cursor the runtime cleanup may touch,
// so it must not point back at the Cursor.
type cursorState struct {
	conn   *Conn
	inUse  atomic.Bool
	closed bool

	status cursorStatus
	stmt   *prepared
	opts   StmtOptions

	bindKind       bindingsKind
	bindSeq        []any
	bindMap        map[string]any
	bindings       any // as given, for the exec tracer
	bindingsOffset int

	// executemany: the query re-run for each set, and the sets not
	// yet consumed.
	emQuery string
	emSets  []any

	execTracer ExecTracer
	rowTracer  RowTracer
}

// enter takes both the cursor's and the connection's in-use flags.
// Overlapping use of one cursor, of two cursors on one connection, or
// of a cursor while a backup holds the connection as its source, all
// fail the same way.
func (st *cursorState) enter() error {
	if !st.inUse.CompareAndSwap(false, true) {
		return ErrThreadingViolation
	}
	if !st.conn.inUse.CompareAndSwap(false, true) {
		st.inUse.Store(false)
		return ErrThreadingViolation
	}
	return nil
}

func (st *cursorState) leave() {
	st.conn.inUse.Store(false)
	st.inUse.Store(false)
}

// SetExecTracer overrides the connection's exec tracer for this cursor.
func (c *Cursor) SetExecTracer(t ExecTracer) { c.st.execTracer = t }

// SetRowTracer overrides the connection's row tracer for this cursor.
func (c *Cursor) SetRowTracer(t RowTracer) { c.st.rowTracer = t }

// Conn returns the connection this cursor executes on.
func (c *Cursor) Conn() *Conn { return c.st.conn }

// Execute compiles and runs query, which may hold several statements.
//
// bindings may be nil, a slice (positional parameters, consumed left
// to right across all statements of the query), or a map with string
// keys (named parameters, the :name/$name/@name marker stripped).
//
// Statements that produce no rows run to completion; Execute stops at
// the first result row, which Next then fetches.
func (c *Cursor) Execute(query string, bindings any) error {
	return c.ExecuteOpts(query, bindings, StmtOptions{})
}

// ExecuteOpts is Execute with per-call statement options.
func (c *Cursor) ExecuteOpts(query string, bindings any, opts StmtOptions) error {
	st := c.st
	if err := st.enter(); err != nil {
		return err
	}
	defer st.leave()
	if st.closed {
		UsesAfterClose.Add("Cursor.Execute", 1)
		return ErrCursorClosed
	}
	if err := st.reset(false); err != nil {
		return err
	}
	kind, seq, mapping, err := classifyBindings(bindings)
	if err != nil {
		return err
	}
	st.bindKind, st.bindSeq, st.bindMap, st.bindings = kind, seq, mapping, bindings
	st.bindingsOffset = 0
	st.opts = opts
	return st.run(query)
}

// ExecuteMany runs query once per element of sets, reusing the same
// compiled statement chain. An empty sets runs nothing and leaves the
// cursor ready for reuse.
func (c *Cursor) ExecuteMany(query string, sets []any) error {
	return c.ExecuteManyOpts(query, sets, StmtOptions{})
}

// ExecuteManyOpts is ExecuteMany with per-call statement options.
func (c *Cursor) ExecuteManyOpts(query string, sets []any, opts StmtOptions) error {
	st := c.st
	if err := st.enter(); err != nil {
		return err
	}
	defer st.leave()
	if st.closed {
		UsesAfterClose.Add("Cursor.ExecuteMany", 1)
		return ErrCursorClosed
	}
	if err := st.reset(false); err != nil {
		return err
	}
	if len(sets) == 0 {
		return nil
	}
	kind, seq, mapping, err := classifyBindings(sets[0])
	if err != nil {
		return err
	}
	st.bindKind, st.bindSeq, st.bindMap, st.bindings = kind, seq, mapping, sets[0]
	st.bindingsOffset = 0
	st.opts = opts
	st.emQuery = query
	st.emSets = sets[1:]
	return st.run(query)
}

// run checks out the first statement, binds, traces, and advances.
func (st *cursorState) run(query string) error {
	p, err := st.conn.cache.prepare(query, st.opts)
	if err != nil {
		st.abort()
		return reserr(st.conn.db, "Cursor.Execute", query, err)
	}
	st.stmt = p
	st.status = statusBegin
	if err := st.bindCurrent(); err != nil {
		st.abort()
		return err
	}
	if err := st.trace(); err != nil {
		st.abort()
		return err
	}
	return st.advance()
}

// Next returns the next result row, with all declared columns
// materialized, or io.EOF once the cursor is exhausted.
//
// The cursor does not step past the returned row until the following
// call, so statements after the current one run only as fetching
// reaches them.
func (c *Cursor) Next() ([]any, error) {
	st := c.st
	if err := st.enter(); err != nil {
		return nil, err
	}
	defer st.leave()
	if st.closed {
		UsesAfterClose.Add("Cursor.Next", 1)
		return nil, ErrCursorClosed
	}
	for {
		if st.status == statusBegin {
			// The previous row was consumed; resume stepping now.
			if err := st.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if st.status != statusRow {
			return nil, io.EOF
		}
		stmt := st.stmt.stmt
		row := make([]any, stmt.ColumnCount())
		for i := range row {
			row[i] = columnValue(stmt, i)
		}
		st.status = statusBegin
		if rt := st.effectiveRowTracer(); rt != nil {
			row = rt(row)
			if row == nil {
				// Tracer dropped the row; move to the next one.
				continue
			}
		}
		return row, nil
	}
}

// Columns returns the declared column names of the pending row.
func (c *Cursor) Columns() ([]string, error) {
	st := c.st
	if err := st.enter(); err != nil {
		return nil, err
	}
	defer st.leave()
	if st.closed {
		UsesAfterClose.Add("Cursor.Columns", 1)
		return nil, ErrCursorClosed
	}
	if st.status == statusDone || st.stmt == nil || st.stmt.stmt == nil {
		return nil, io.EOF
	}
	stmt := st.stmt.stmt
	names := make([]string, stmt.ColumnCount())
	for i := range names {
		names[i] = stmt.ColumnName(i)
	}
	return names, nil
}

// Close releases the cursor. With force false it refuses, with
// ErrIncompleteExecution, while unexecuted statements or unconsumed
// ExecuteMany sets remain; force true discards them. Closing twice is
// a no-op.
func (c *Cursor) Close(force bool) error {
	st := c.st
	if err := st.enter(); err != nil {
		return err
	}
	defer st.leave()
	if st.closed {
		UsesAfterClose.Add("Cursor.Close", 1)
		return nil
	}
	if err := st.reset(force); err != nil {
		return err
	}
	st.closed = true
	st.execTracer, st.rowTracer = nil, nil
	c.cleanup.Stop()
	st.conn.removeDependent(c)
	return nil
}

func (c *Cursor) closeForConn(force bool) error { return c.Close(force) }

// cleanupCursor runs when a Cursor became unreachable without Close.
// It salvages the checked-out statement; errors have no caller to go
// to and are reported through the unraisable hook.
func cleanupCursor(st *cursorState) {
	if !st.inUse.CompareAndSwap(false, true) {
		return
	}
	defer st.inUse.Store(false)
	if st.closed {
		return
	}
	st.closed = true
	if err := st.reset(true); err != nil {
		unraisable("Cursor.cleanup", err)
	}
}

// reset returns the cursor to a runnable idle state. With force false
// it refuses while committed work remains: statements after the
// current one, or ExecuteMany sets not yet consumed. A pending result
// row on the final statement is not committed work and is discarded.
func (st *cursorState) reset(force bool) error {
	if !force {
		if st.status != statusDone && st.stmt != nil && st.stmt.hasMore() {
			return ErrIncompleteExecution
		}
		if len(st.emSets) > 0 {
			return ErrIncompleteExecution
		}
	}
	if st.stmt != nil {
		// Release errors here replay the last step error, which the
		// caller already saw.
		st.conn.cache.release(st.stmt)
		st.stmt = nil
	}
	st.emQuery = ""
	st.emSets = nil
	st.bindKind, st.bindSeq, st.bindMap, st.bindings = bindNone, nil, nil, nil
	st.bindingsOffset = 0
	st.status = statusDone
	return nil
}

// abort discards the current statement after a bind, trace, or
// prepare failure.
func (st *cursorState) abort() {
	if st.stmt != nil {
		st.conn.cache.release(st.stmt)
		st.stmt = nil
	}
	st.emQuery = ""
	st.emSets = nil
	st.status = statusDone
}

// advance steps until a result row is available or all work is done.
// Statement boundaries and ExecuteMany set boundaries are crossed
// here: the next statement is compiled, bound, and traced before the
// exhausted one is returned to the cache.
func (st *cursorState) advance() error {
	for {
		if st.stmt != nil && st.stmt.stmt != nil {
			row, err := st.stmt.stmt.Step()
			if err != nil {
				rerr := reserr(st.conn.db, "Cursor.Step", st.stmt.leading(), err)
				st.abort()
				return rerr
			}
			if row {
				st.status = statusRow
				return nil
			}
		}
		if st.stmt != nil && st.stmt.hasMore() {
			if err := st.nextStatement(st.stmt.tail()); err != nil {
				return err
			}
			continue
		}
		if len(st.emSets) > 0 {
			set := st.emSets[0]
			st.emSets = st.emSets[1:]
			kind, seq, mapping, err := classifyBindings(set)
			if err != nil {
				st.abort()
				return err
			}
			st.bindKind, st.bindSeq, st.bindMap, st.bindings = kind, seq, mapping, set
			st.bindingsOffset = 0
			if err := st.nextStatement(st.emQuery); err != nil {
				return err
			}
			continue
		}
		if st.stmt != nil {
			st.conn.cache.release(st.stmt)
			st.stmt = nil
		}
		st.status = statusDone
		return nil
	}
}

// nextStatement swaps in the statement compiled from query. The old
// statement is released only after the new one compiled, so a cache
// hit on identical adjacent statements still gets a distinct handle.
func (st *cursorState) nextStatement(query string) error {
	np, err := st.conn.cache.prepare(query, st.opts)
	if err != nil {
		st.abort()
		return reserr(st.conn.db, "Cursor.Execute", query, err)
	}
	if st.stmt != nil {
		st.conn.cache.release(st.stmt)
	}
	st.stmt = np
	st.status = statusBegin
	if err := st.bindCurrent(); err != nil {
		st.abort()
		return err
	}
	if err := st.trace(); err != nil {
		st.abort()
		return err
	}
	return nil
}

// bindCurrent applies the classified bindings to the current
// statement. Positional values are consumed from a running offset
// that spans all statements of the query.
func (st *cursorState) bindCurrent() error {
	p := st.stmt
	if p == nil || p.stmt == nil {
		return nil
	}
	n := p.stmt.BindParameterCount()
	switch st.bindKind {
	case bindNone:
		if n != 0 {
			return &BindingsError{
				Kind:     BindingsCount,
				Query:    p.leading(),
				Expected: n,
				Offset:   st.bindingsOffset,
			}
		}
	case bindSequence:
		// Each statement takes what it declares; the final statement of
		// the text must consume the sequence exactly.
		avail := len(st.bindSeq) - st.bindingsOffset
		if n > avail || (!p.hasMore() && avail != n) {
			return &BindingsError{
				Kind:      BindingsCount,
				Query:     p.leading(),
				Expected:  n,
				Available: avail,
				Offset:    st.bindingsOffset,
			}
		}
		for i := 0; i < n; i++ {
			if err := bindValue(p.stmt, i+1, st.bindSeq[st.bindingsOffset+i]); err != nil {
				return st.bindErr(p, err)
			}
		}
		st.bindingsOffset += n
	case bindMapping:
		for i := 1; i <= n; i++ {
			name := p.stmt.BindParameterName(i)
			if name == "" {
				return &BindingsError{
					Kind:  BindingsUnnamedParam,
					Query: p.leading(),
					Param: "?" + strconv.Itoa(i),
				}
			}
			key := name[1:] // drop the ':', '$', or '@' marker
			v, ok := st.bindMap[key]
			if !ok {
				if !st.conn.missingBindingsAsNull() {
					return &BindingsError{
						Kind:  BindingsMissingKey,
						Query: p.leading(),
						Param: key,
					}
				}
				if err := p.stmt.BindNull(i); err != nil {
					return st.bindErr(p, err)
				}
				continue
			}
			if err := bindValue(p.stmt, i, v); err != nil {
				return st.bindErr(p, err)
			}
		}
	}
	return nil
}

func (st *cursorState) bindErr(p *prepared, err error) error {
	if be, ok := err.(*BindingsError); ok {
		be.Query = p.leading()
		return be
	}
	return reserr(st.conn.db, "Cursor.Bind", p.leading(), err)
}

func (st *cursorState) trace() error {
	tracer := st.execTracer
	if tracer == nil {
		tracer = st.conn.execTracer
	}
	if tracer == nil || st.stmt == nil || st.stmt.stmt == nil {
		return nil
	}
	if !tracer(st.stmt.leading(), st.bindings) {
		return ErrTraceAbort
	}
	return nil
}

func (st *cursorState) effectiveRowTracer() RowTracer {
	if st.rowTracer != nil {
		return st.rowTracer
	}
	return st.conn.rowTracer
}
