package sqlite

import (
	"errors"
	"strconv"
	"strings"

	"github.com/meridiandb/sqlite/sqliteh"
)

// ErrConnClosed is returned when an operation is attempted on a
// connection after Close has already been called.
var ErrConnClosed = errors.New("sqlite: connection already closed")

// ErrCursorClosed is returned when an operation is attempted on a
// cursor after Close has already been called.
var ErrCursorClosed = errors.New("sqlite: cursor already closed")

// ErrBlobClosed is returned when an operation is attempted on a blob
// handle after Close has already been called.
var ErrBlobClosed = errors.New("sqlite: blob already closed")

// ErrBackupFinished is returned when an operation is attempted on a
// backup after Finish has already been called.
var ErrBackupFinished = errors.New("sqlite: backup already finished")

// ErrBackupDependents is returned when a backup is started into a
// connection that has other live cursors, blobs, or backups.
var ErrBackupDependents = errors.New("sqlite: backup destination has open cursors, blobs, or backups")

// ErrIncompleteExecution is returned when a cursor is reused or closed
// while unexecuted statements or unconsumed binding sequences remain.
// Pass force to Close, or execute the remaining work, to clear it.
var ErrIncompleteExecution = errors.New("sqlite: incomplete execution: unexecuted statements remain")

// ErrThreadingViolation is returned when an object is used from two
// goroutines at the same time. Objects here are not serialized; the
// overlap is detected and rejected.
var ErrThreadingViolation = errors.New("sqlite: object used concurrently from multiple goroutines")

// ErrTraceAbort is returned by Execute when the exec tracer vetoes a
// statement. The statement has not been stepped.
var ErrTraceAbort = errors.New("sqlite: statement aborted by exec tracer")

// Error is an error produced by SQLite.
type Error struct {
	Code  sqliteh.Code // SQLite extended error code (SQLITE_OK is an invalid value)
	Loc   string       // method name that generated the error
	Query string       // original SQL query text
	Msg   string       // value of sqlite3_errmsg at the time of the error
}

func (err Error) Error() string {
	b := new(strings.Builder)
	b.WriteString("sqlite")
	if err.Loc != "" {
		b.WriteByte('.')
		b.WriteString(err.Loc)
	}
	b.WriteString(": ")
	b.WriteString(err.Code.String())
	if err.Msg != "" {
		b.WriteString(": ")
		b.WriteString(err.Msg)
	}
	if err.Query != "" {
		b.WriteString(" (")
		b.WriteString(err.Query)
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the interned sqliteh.ErrCode so that
// errors.Is(err, sqliteh.ErrCode(sqliteh.SQLITE_BUSY)) works.
func (err Error) Unwrap() error {
	return sqliteh.CodeAsError(err.Code)
}

func reserr(db sqliteh.DB, loc, query string, err error) error {
	if err == nil {
		return nil
	}
	e := &Error{
		Loc:   loc,
		Query: query,
	}
	if code, ok := err.(sqliteh.ErrCode); ok {
		e.Code = sqliteh.Code(code)
	}
	if db != nil {
		e.Msg = db.ErrMsg()
		// The step/prepare return value is the primary code;
		// the extended code has the detail.
		if c := db.ExtendedErrCode(); c.Primary() == e.Code.Primary() {
			e.Code = c
		}
	}
	return e
}

// BindingsKind says which way a bindings value failed.
type BindingsKind int

const (
	// BindingsCount: a positional sequence did not line up with the
	// statement's parameter count.
	BindingsCount BindingsKind = iota
	// BindingsType: a value's Go type has no SQLite storage class.
	BindingsType
	// BindingsMissingKey: a named parameter has no key in the mapping
	// and the connection binds strictly.
	BindingsMissingKey
	// BindingsUnnamedParam: a mapping was supplied but the statement
	// has a nameless (positional) parameter.
	BindingsUnnamedParam
)

// BindingsError reports a mismatch between a statement's parameters
// and the bindings supplied for it.
type BindingsError struct {
	Kind  BindingsKind
	Query string

	// For BindingsCount.
	Expected  int // parameters the current statement uses
	Available int // values remaining in the sequence
	Offset    int // index into the sequence where this statement started

	// For BindingsMissingKey and BindingsUnnamedParam.
	Param string

	// For BindingsType.
	Value any
}

func (err *BindingsError) Error() string {
	switch err.Kind {
	case BindingsCount:
		return "sqlite: incorrect number of bindings: statement uses " +
			strconv.Itoa(err.Expected) + ", " +
			strconv.Itoa(err.Available) + " available at offset " +
			strconv.Itoa(err.Offset)
	case BindingsType:
		return "sqlite: cannot bind value of type " + typeName(err.Value)
	case BindingsMissingKey:
		return "sqlite: missing binding for parameter " + err.Param
	case BindingsUnnamedParam:
		return "sqlite: mapping bindings supplied but statement has an unnamed parameter " + err.Param
	default:
		return "sqlite: invalid bindings"
	}
}
