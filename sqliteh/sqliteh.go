// Package sqliteh describes the boundary between the high-level sqlite
// package and the SQLite C library.
package sqliteh

// Given everything in here has an sqliteh. prefix,
// why not strip the SQLITE_ prefix from constants?
// Because this way standard names show up in search.

import "sync"

// OpenFunc is sqlite3_open_v2.
//
// Surprisingly: an error opening the DB can return a non-nil handle.
// Call Close on it.
//
// https://sqlite.org/c3ref/open.html
type OpenFunc func(filename string, flags OpenFlags, vfs string) (DB, error)

// DB is an sqlite3* database connection object.
// https://sqlite.org/c3ref/sqlite3.html
type DB interface {
	// Close is sqlite3_close.
	Close() error
	// ErrMsg is sqlite3_errmsg.
	ErrMsg() string
	// ExtendedErrCode is sqlite3_extended_errcode.
	ExtendedErrCode() Code
	// Changes is sqlite3_changes.
	Changes() int
	// TotalChanges is sqlite3_total_changes.
	TotalChanges() int
	// LastInsertRowid is sqlite3_last_insert_rowid.
	LastInsertRowid() int64
	// Prepare is sqlite3_prepare_v3. The remaining query is the tail of
	// query not consumed by the first statement. A whitespace-only or
	// comment-only query returns a nil Stmt and no error.
	// https://www.sqlite.org/c3ref/prepare.html
	Prepare(query string, prepFlags PrepareFlags) (stmt Stmt, remainingQuery string, err error)
	// Interrupt is sqlite3_interrupt. Safe to call from any goroutine
	// while others drive the connection.
	Interrupt()
	// BusyTimeout is sqlite3_busy_timeout, in milliseconds.
	BusyTimeout(ms int) error
	// SetBusyHandler is sqlite3_busy_handler. The handler reports
	// whether the engine should retry after the given number of prior
	// attempts for this lock. A nil handler clears it.
	SetBusyHandler(handler func(retries int) (retry bool)) error
	// BackupInit is sqlite3_backup_init. src must be a DB produced by
	// the same OpenFunc implementation as the receiver.
	BackupInit(dstName string, src DB, srcName string) (Backup, error)
	// BlobOpen is sqlite3_blob_open.
	BlobOpen(dbName, table, column string, rowid int64, write bool) (Blob, error)
}

// Stmt is an sqlite3_stmt* prepared statement object.
// https://sqlite.org/c3ref/stmt.html
type Stmt interface {
	// SQL is sqlite3_sql.
	SQL() string
	// Step is sqlite3_step.
	//	For SQLITE_ROW, Step returns (true, nil).
	//	For SQLITE_DONE, Step returns (false, nil).
	//	For any error, Step returns (false, err).
	Step() (row bool, err error)
	// Reset is sqlite3_reset.
	Reset() error
	// ClearBindings is sqlite3_clear_bindings.
	ClearBindings() error
	// Finalize is sqlite3_finalize.
	Finalize() error

	// BindDouble is sqlite3_bind_double.
	BindDouble(col int, val float64) error
	// BindInt64 is sqlite3_bind_int64.
	BindInt64(col int, val int64) error
	// BindNull is sqlite3_bind_null.
	BindNull(col int) error
	// BindText64 is sqlite3_bind_text64.
	BindText64(col int, val string) error
	// BindBlob64 is sqlite3_bind_blob64.
	BindBlob64(col int, val []byte) error
	// BindZeroBlob64 is sqlite3_bind_zeroblob64.
	BindZeroBlob64(col int, n uint64) error

	// BindParameterCount is sqlite3_bind_parameter_count.
	BindParameterCount() int
	// BindParameterName is sqlite3_bind_parameter_name.
	// The name keeps its ':', '$', or '@' marker. Positional
	// parameters have no name and return "".
	BindParameterName(col int) string
	// BindParameterIndex is sqlite3_bind_parameter_index.
	// Zero means no matching parameter.
	BindParameterIndex(name string) int

	// ColumnCount is sqlite3_column_count.
	ColumnCount() int
	// DataCount is sqlite3_data_count.
	DataCount() int
	// ColumnName is sqlite3_column_name.
	ColumnName(col int) string
	// ColumnDeclType is sqlite3_column_decltype.
	ColumnDeclType(col int) string
	// ColumnType is sqlite3_column_type.
	ColumnType(col int) ColumnType
	// ColumnInt64 is sqlite3_column_int64.
	ColumnInt64(col int) int64
	// ColumnDouble is sqlite3_column_double.
	ColumnDouble(col int) float64
	// ColumnText is sqlite3_column_text.
	ColumnText(col int) string
	// ColumnBlob is sqlite3_column_blob.
	//
	// WARNING: The returned memory is managed by C and is only valid
	//          until another call is made on this Stmt.
	ColumnBlob(col int) []byte
}

// Backup is an sqlite3_backup online backup object.
// https://sqlite.org/c3ref/backup.html
type Backup interface {
	// Step is sqlite3_backup_step: copy up to n pages, or all remaining
	// pages if n is negative. done reports SQLITE_DONE.
	Step(n int) (done bool, err error)
	// Remaining is sqlite3_backup_remaining.
	Remaining() int
	// PageCount is sqlite3_backup_pagecount.
	PageCount() int
	// Finish is sqlite3_backup_finish.
	Finish() error
}

// Blob is an sqlite3_blob incremental I/O handle.
// https://sqlite.org/c3ref/blob.html
type Blob interface {
	// Bytes is sqlite3_blob_bytes.
	Bytes() int
	// ReadAt is sqlite3_blob_read.
	ReadAt(p []byte, off int) error
	// WriteAt is sqlite3_blob_write.
	WriteAt(p []byte, off int) error
	// Reopen is sqlite3_blob_reopen.
	Reopen(rowid int64) error
	// Close is sqlite3_blob_close.
	Close() error
}

// ColumnType are constants for each of the SQLite datatypes.
// https://www.sqlite.org/c3ref/c_blob.html
type ColumnType int

const (
	SQLITE_INTEGER ColumnType = 1
	SQLITE_FLOAT   ColumnType = 2
	SQLITE_TEXT    ColumnType = 3
	SQLITE_BLOB    ColumnType = 4
	SQLITE_NULL    ColumnType = 5
)

func (t ColumnType) String() string {
	switch t {
	case SQLITE_INTEGER:
		return "SQLITE_INTEGER"
	case SQLITE_FLOAT:
		return "SQLITE_FLOAT"
	case SQLITE_TEXT:
		return "SQLITE_TEXT"
	case SQLITE_BLOB:
		return "SQLITE_BLOB"
	case SQLITE_NULL:
		return "SQLITE_NULL"
	default:
		return "UNKNOWN_SQLITE_DATATYPE"
	}
}

// PrepareFlags are flags for sqlite3_prepare_v3.
// https://www.sqlite.org/c3ref/c_prepare_normalize.html
type PrepareFlags int

const (
	SQLITE_PREPARE_PERSISTENT PrepareFlags = 0x01
	SQLITE_PREPARE_NORMALIZE  PrepareFlags = 0x02
	SQLITE_PREPARE_NO_VTAB    PrepareFlags = 0x04
)

// OpenFlags are flags used when opening a DB.
// https://www.sqlite.org/c3ref/c_open_autoproxy.html
type OpenFlags int

const (
	SQLITE_OPEN_READONLY     OpenFlags = 0x00000001
	SQLITE_OPEN_READWRITE    OpenFlags = 0x00000002
	SQLITE_OPEN_CREATE       OpenFlags = 0x00000004
	SQLITE_OPEN_URI          OpenFlags = 0x00000040
	SQLITE_OPEN_MEMORY       OpenFlags = 0x00000080
	SQLITE_OPEN_NOMUTEX      OpenFlags = 0x00008000
	SQLITE_OPEN_FULLMUTEX    OpenFlags = 0x00010000
	SQLITE_OPEN_SHAREDCACHE  OpenFlags = 0x00020000
	SQLITE_OPEN_PRIVATECACHE OpenFlags = 0x00040000
	SQLITE_OPEN_WAL          OpenFlags = 0x00080000
	SQLITE_OPEN_NOFOLLOW     OpenFlags = 0x00100000

	// OpenFlagsDefault is used when a connection is opened without
	// explicit flags.
	OpenFlagsDefault = SQLITE_OPEN_READWRITE |
		SQLITE_OPEN_CREATE |
		SQLITE_OPEN_URI |
		SQLITE_OPEN_NOMUTEX
)

// ErrCode is an SQLite error code as a Go error.
// It must not be one of the status codes SQLITE_OK, SQLITE_ROW, or SQLITE_DONE.
type ErrCode Code

func (e ErrCode) Error() string { return Code(e).String() }

// Code is an SQLite extended result code.
//
// The three status codes (SQLITE_OK, SQLITE_ROW, and SQLITE_DONE) are
// not errors and must not be wrapped in an ErrCode.
//
// https://www.sqlite.org/rescode.html
type Code int

// Primary reduces an extended code to its primary result code.
func (code Code) Primary() Code { return code & 0xff }

func (code Code) String() string {
	if s, ok := codeNames[code]; ok {
		return s
	}
	if s, ok := codeNames[code.Primary()]; ok {
		return s + "(" + itoa(int64(code)) + ")"
	}
	return "SQLITE_UNKNOWN_ERR(" + itoa(int64(code)) + ")"
}

const (
	SQLITE_OK         = Code(0) // do not use in ErrCode
	SQLITE_ERROR      = Code(1)
	SQLITE_INTERNAL   = Code(2)
	SQLITE_PERM       = Code(3)
	SQLITE_ABORT      = Code(4)
	SQLITE_BUSY       = Code(5)
	SQLITE_LOCKED     = Code(6)
	SQLITE_NOMEM      = Code(7)
	SQLITE_READONLY   = Code(8)
	SQLITE_INTERRUPT  = Code(9)
	SQLITE_IOERR      = Code(10)
	SQLITE_CORRUPT    = Code(11)
	SQLITE_NOTFOUND   = Code(12)
	SQLITE_FULL       = Code(13)
	SQLITE_CANTOPEN   = Code(14)
	SQLITE_PROTOCOL   = Code(15)
	SQLITE_EMPTY      = Code(16)
	SQLITE_SCHEMA     = Code(17)
	SQLITE_TOOBIG     = Code(18)
	SQLITE_CONSTRAINT = Code(19)
	SQLITE_MISMATCH   = Code(20)
	SQLITE_MISUSE     = Code(21)
	SQLITE_NOLFS      = Code(22)
	SQLITE_AUTH       = Code(23)
	SQLITE_FORMAT     = Code(24)
	SQLITE_RANGE      = Code(25)
	SQLITE_NOTADB     = Code(26)
	SQLITE_NOTICE     = Code(27)
	SQLITE_WARNING    = Code(28)
	SQLITE_ROW        = Code(100) // do not use in ErrCode
	SQLITE_DONE       = Code(101) // do not use in ErrCode

	// Extended result codes.

	SQLITE_ERROR_RETRY           = Code(SQLITE_ERROR | (2 << 8))
	SQLITE_ERROR_SNAPSHOT        = Code(SQLITE_ERROR | (3 << 8))
	SQLITE_IOERR_READ            = Code(SQLITE_IOERR | (1 << 8))
	SQLITE_IOERR_SHORT_READ      = Code(SQLITE_IOERR | (2 << 8))
	SQLITE_IOERR_WRITE           = Code(SQLITE_IOERR | (3 << 8))
	SQLITE_IOERR_FSYNC           = Code(SQLITE_IOERR | (4 << 8))
	SQLITE_IOERR_LOCK            = Code(SQLITE_IOERR | (15 << 8))
	SQLITE_LOCKED_SHAREDCACHE    = Code(SQLITE_LOCKED | (1 << 8))
	SQLITE_LOCKED_VTAB           = Code(SQLITE_LOCKED | (2 << 8))
	SQLITE_BUSY_RECOVERY         = Code(SQLITE_BUSY | (1 << 8))
	SQLITE_BUSY_SNAPSHOT         = Code(SQLITE_BUSY | (2 << 8))
	SQLITE_BUSY_TIMEOUT          = Code(SQLITE_BUSY | (3 << 8))
	SQLITE_CANTOPEN_NOTEMPDIR    = Code(SQLITE_CANTOPEN | (1 << 8))
	SQLITE_CANTOPEN_ISDIR        = Code(SQLITE_CANTOPEN | (2 << 8))
	SQLITE_READONLY_RECOVERY     = Code(SQLITE_READONLY | (1 << 8))
	SQLITE_READONLY_CANTLOCK     = Code(SQLITE_READONLY | (2 << 8))
	SQLITE_ABORT_ROLLBACK        = Code(SQLITE_ABORT | (2 << 8))
	SQLITE_CONSTRAINT_CHECK      = Code(SQLITE_CONSTRAINT | (1 << 8))
	SQLITE_CONSTRAINT_FOREIGNKEY = Code(SQLITE_CONSTRAINT | (3 << 8))
	SQLITE_CONSTRAINT_NOTNULL    = Code(SQLITE_CONSTRAINT | (5 << 8))
	SQLITE_CONSTRAINT_PRIMARYKEY = Code(SQLITE_CONSTRAINT | (6 << 8))
	SQLITE_CONSTRAINT_TRIGGER    = Code(SQLITE_CONSTRAINT | (7 << 8))
	SQLITE_CONSTRAINT_UNIQUE     = Code(SQLITE_CONSTRAINT | (8 << 8))
	SQLITE_CONSTRAINT_ROWID      = Code(SQLITE_CONSTRAINT | (10 << 8))
)

var codeNames = map[Code]string{
	SQLITE_OK:         "SQLITE_OK(not an error)",
	SQLITE_ERROR:      "SQLITE_ERROR",
	SQLITE_INTERNAL:   "SQLITE_INTERNAL",
	SQLITE_PERM:       "SQLITE_PERM",
	SQLITE_ABORT:      "SQLITE_ABORT",
	SQLITE_BUSY:       "SQLITE_BUSY",
	SQLITE_LOCKED:     "SQLITE_LOCKED",
	SQLITE_NOMEM:      "SQLITE_NOMEM",
	SQLITE_READONLY:   "SQLITE_READONLY",
	SQLITE_INTERRUPT:  "SQLITE_INTERRUPT",
	SQLITE_IOERR:      "SQLITE_IOERR",
	SQLITE_CORRUPT:    "SQLITE_CORRUPT",
	SQLITE_NOTFOUND:   "SQLITE_NOTFOUND",
	SQLITE_FULL:       "SQLITE_FULL",
	SQLITE_CANTOPEN:   "SQLITE_CANTOPEN",
	SQLITE_PROTOCOL:   "SQLITE_PROTOCOL",
	SQLITE_EMPTY:      "SQLITE_EMPTY",
	SQLITE_SCHEMA:     "SQLITE_SCHEMA",
	SQLITE_TOOBIG:     "SQLITE_TOOBIG",
	SQLITE_CONSTRAINT: "SQLITE_CONSTRAINT",
	SQLITE_MISMATCH:   "SQLITE_MISMATCH",
	SQLITE_MISUSE:     "SQLITE_MISUSE",
	SQLITE_NOLFS:      "SQLITE_NOLFS",
	SQLITE_AUTH:       "SQLITE_AUTH",
	SQLITE_FORMAT:     "SQLITE_FORMAT",
	SQLITE_RANGE:      "SQLITE_RANGE",
	SQLITE_NOTADB:     "SQLITE_NOTADB",
	SQLITE_NOTICE:     "SQLITE_NOTICE",
	SQLITE_WARNING:    "SQLITE_WARNING",
	SQLITE_ROW:        "SQLITE_ROW(not an error)",
	SQLITE_DONE:       "SQLITE_DONE(not an error)",

	SQLITE_ERROR_RETRY:           "SQLITE_ERROR_RETRY",
	SQLITE_ERROR_SNAPSHOT:        "SQLITE_ERROR_SNAPSHOT",
	SQLITE_IOERR_READ:            "SQLITE_IOERR_READ",
	SQLITE_IOERR_SHORT_READ:      "SQLITE_IOERR_SHORT_READ",
	SQLITE_IOERR_WRITE:           "SQLITE_IOERR_WRITE",
	SQLITE_IOERR_FSYNC:           "SQLITE_IOERR_FSYNC",
	SQLITE_IOERR_LOCK:            "SQLITE_IOERR_LOCK",
	SQLITE_LOCKED_SHAREDCACHE:    "SQLITE_LOCKED_SHAREDCACHE",
	SQLITE_LOCKED_VTAB:           "SQLITE_LOCKED_VTAB",
	SQLITE_BUSY_RECOVERY:         "SQLITE_BUSY_RECOVERY",
	SQLITE_BUSY_SNAPSHOT:         "SQLITE_BUSY_SNAPSHOT",
	SQLITE_BUSY_TIMEOUT:          "SQLITE_BUSY_TIMEOUT",
	SQLITE_CANTOPEN_NOTEMPDIR:    "SQLITE_CANTOPEN_NOTEMPDIR",
	SQLITE_CANTOPEN_ISDIR:        "SQLITE_CANTOPEN_ISDIR",
	SQLITE_READONLY_RECOVERY:     "SQLITE_READONLY_RECOVERY",
	SQLITE_READONLY_CANTLOCK:     "SQLITE_READONLY_CANTLOCK",
	SQLITE_ABORT_ROLLBACK:        "SQLITE_ABORT_ROLLBACK",
	SQLITE_CONSTRAINT_CHECK:      "SQLITE_CONSTRAINT_CHECK",
	SQLITE_CONSTRAINT_FOREIGNKEY: "SQLITE_CONSTRAINT_FOREIGNKEY",
	SQLITE_CONSTRAINT_NOTNULL:    "SQLITE_CONSTRAINT_NOTNULL",
	SQLITE_CONSTRAINT_PRIMARYKEY: "SQLITE_CONSTRAINT_PRIMARYKEY",
	SQLITE_CONSTRAINT_TRIGGER:    "SQLITE_CONSTRAINT_TRIGGER",
	SQLITE_CONSTRAINT_UNIQUE:     "SQLITE_CONSTRAINT_UNIQUE",
	SQLITE_CONSTRAINT_ROWID:      "SQLITE_CONSTRAINT_ROWID",
}

// CodeAsError interns Codes as ErrCodes.
// The non-error status codes return nil.
func CodeAsError(code Code) error {
	if code == SQLITE_OK || code == SQLITE_ROW || code == SQLITE_DONE {
		return nil
	}
	codeAsErrorOnce.Do(func() {
		codeAsError = make(map[Code]error, len(codeNames))
		for c := range codeNames {
			codeAsError[c] = ErrCode(c)
		}
	})
	if err, ok := codeAsError[code]; ok {
		return err
	}
	return ErrCode(code)
}

var (
	codeAsError     map[Code]error
	codeAsErrorOnce sync.Once
)

func itoa(val int64) string {
	var buf [20]byte
	i := len(buf) - 1
	neg := false
	if val < 0 {
		neg = true
		val = -val
	}
	for val >= 10 {
		buf[i] = byte(val%10 + '0')
		i--
		val /= 10
	}
	buf[i] = byte(val + '0')
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
