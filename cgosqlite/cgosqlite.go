package cgosqlite

// This list of compiler options is heavily influenced by:
//
// https://www.sqlite.org/compile.html#recommended_compile_time_options

// #cgo CFLAGS: -DSQLITE_THREADSAFE=2
// #cgo CFLAGS: -DSQLITE_DQS=0
// #cgo CFLAGS: -DSQLITE_DEFAULT_MEMSTATUS=0
// #cgo CFLAGS: -DSQLITE_LIKE_DOESNT_MATCH_BLOBS
// #cgo CFLAGS: -DSQLITE_MAX_EXPR_DEPTH=0
// #cgo CFLAGS: -DSQLITE_OMIT_DEPRECATED
// #cgo CFLAGS: -DSQLITE_OMIT_PROGRESS_CALLBACK
// #cgo CFLAGS: -DSQLITE_OMIT_SHARED_CACHE
// #cgo CFLAGS: -DSQLITE_USE_ALLOCA
// #cgo CFLAGS: -DSQLITE_ENABLE_FTS5
// #cgo CFLAGS: -DSQLITE_ENABLE_RTREE
// #cgo CFLAGS: -DSQLITE_ENABLE_JSON1
// #cgo CFLAGS: -DSQLITE_ENABLE_COLUMN_METADATA
// #cgo CFLAGS: -DSQLITE_ENABLE_STAT4
// #cgo CFLAGS: -DHAVE_USLEEP=1
// #cgo linux LDFLAGS: -ldl -lm
// #cgo linux CFLAGS: -std=c99
//
// #include <stdint.h>
// #include <stdlib.h>
// #include <string.h>
// #include <sqlite3.h>
//
// extern int busyHandlerGo(void*, int);
//
// static int set_busy_handler(sqlite3* db) {
//	return sqlite3_busy_handler(db, busyHandlerGo, db);
// }
// static int clear_busy_handler(sqlite3* db) {
//	return sqlite3_busy_handler(db, 0, 0);
// }
// static int bind_text64(sqlite3_stmt* stmt, int col, char* str, sqlite3_uint64 n) {
//	return sqlite3_bind_text64(stmt, col, str, n, free, SQLITE_UTF8);
// }
// static int bind_text64_empty(sqlite3_stmt* stmt, int col) {
//	return sqlite3_bind_text64(stmt, col, "", 0, SQLITE_STATIC, SQLITE_UTF8);
// }
// static int bind_blob64(sqlite3_stmt* stmt, int col, char* str, sqlite3_uint64 n) {
//	return sqlite3_bind_blob64(stmt, col, str, n, SQLITE_TRANSIENT);
// }
import "C"
import (
	"unsafe"

	"github.com/meridiandb/sqlite/sqliteh"
)

func init() {
	C.sqlite3_initialize()
}

// DB is an sqlite3* database connection object.
// https://sqlite.org/c3ref/sqlite3.html
type DB struct {
	db *C.sqlite3

	declTypes map[string]string
}

// Stmt is an sqlite3_stmt* prepared statement object.
// https://sqlite.org/c3ref/stmt.html
type Stmt struct {
	db   *DB
	stmt *C.sqlite3_stmt
}

// Open is sqlite3_open_v2.
//
// Surprisingly: an error opening the DB can return a non-nil handle.
// Call Close on it.
//
// https://sqlite.org/c3ref/open.html
func Open(filename string, flags sqliteh.OpenFlags, vfs string) (sqliteh.DB, error) {
	cfilename := C.CString(filename)
	defer C.free(unsafe.Pointer(cfilename))

	cvfs := (*C.char)(nil)
	if vfs != "" {
		cvfs = C.CString(vfs)
		defer C.free(unsafe.Pointer(cvfs))
	}

	var cdb *C.sqlite3
	res := C.sqlite3_open_v2(cfilename, &cdb, C.int(flags), cvfs)
	var db *DB
	if cdb != nil {
		db = &DB{db: cdb}
	}
	if err := errCode(res); err != nil {
		if db == nil {
			return nil, err
		}
		return db, err
	}
	return db, nil
}

// Close is sqlite3_close.
// https://sqlite.org/c3ref/close.html
func (db *DB) Close() error {
	busyHandlers.Delete(db.db)
	res := C.sqlite3_close(db.db)
	return errCode(res)
}

// ErrMsg is sqlite3_errmsg.
// https://sqlite.org/c3ref/errcode.html
func (db *DB) ErrMsg() string {
	return C.GoString(C.sqlite3_errmsg(db.db))
}

// Changes is sqlite3_changes.
// https://sqlite.org/c3ref/changes.html
func (db *DB) Changes() int {
	return int(C.sqlite3_changes(db.db))
}

// TotalChanges is sqlite3_total_changes.
// https://sqlite.org/c3ref/total_changes.html
func (db *DB) TotalChanges() int {
	return int(C.sqlite3_total_changes(db.db))
}

// ExtendedErrCode is sqlite3_extended_errcode.
// https://sqlite.org/c3ref/errcode.html
func (db *DB) ExtendedErrCode() sqliteh.Code {
	return sqliteh.Code(C.sqlite3_extended_errcode(db.db))
}

// LastInsertRowid is sqlite3_last_insert_rowid.
// https://sqlite.org/c3ref/last_insert_rowid.html
func (db *DB) LastInsertRowid() int64 {
	return int64(C.sqlite3_last_insert_rowid(db.db))
}

// Interrupt is sqlite3_interrupt.
// https://sqlite.org/c3ref/interrupt.html
func (db *DB) Interrupt() {
	C.sqlite3_interrupt(db.db)
}

// BusyTimeout is sqlite3_busy_timeout.
// https://sqlite.org/c3ref/busy_timeout.html
func (db *DB) BusyTimeout(ms int) error {
	busyHandlers.Delete(db.db)
	return errCode(C.sqlite3_busy_timeout(db.db, C.int(ms)))
}

// SetBusyHandler is sqlite3_busy_handler.
// https://sqlite.org/c3ref/busy_handler.html
func (db *DB) SetBusyHandler(handler func(retries int) bool) error {
	if handler == nil {
		busyHandlers.Delete(db.db)
		return errCode(C.clear_busy_handler(db.db))
	}
	busyHandlers.Store(db.db, handler)
	return errCode(C.set_busy_handler(db.db))
}

// Prepare is sqlite3_prepare_v3.
//
// A whitespace-only or comment-only query compiles to no statement at
// all; Prepare reports that as a nil Stmt with a nil error.
//
// https://www.sqlite.org/c3ref/prepare.html
func (db *DB) Prepare(query string, prepFlags sqliteh.PrepareFlags) (stmt sqliteh.Stmt, remainingQuery string, err error) {
	csql := C.CString(query)
	defer C.free(unsafe.Pointer(csql))

	var cstmt *C.sqlite3_stmt
	var csqlTail *C.char
	res := C.sqlite3_prepare_v3(db.db, csql, C.int(len(query))+1, C.uint(prepFlags), &cstmt, &csqlTail)
	if err := errCode(res); err != nil {
		return nil, "", err
	}
	remainingQuery = query[len(query)-int(C.strlen(csqlTail)):]
	if cstmt == nil {
		return nil, remainingQuery, nil
	}
	return &Stmt{db: db, stmt: cstmt}, remainingQuery, nil
}

// BackupInit is sqlite3_backup_init.
// https://sqlite.org/c3ref/backup_finish.html
func (db *DB) BackupInit(dstName string, src sqliteh.DB, srcName string) (sqliteh.Backup, error) {
	srcDB, ok := src.(*DB)
	if !ok {
		return nil, sqliteh.ErrCode(sqliteh.SQLITE_MISUSE)
	}
	cdst := C.CString(dstName)
	defer C.free(unsafe.Pointer(cdst))
	csrc := C.CString(srcName)
	defer C.free(unsafe.Pointer(csrc))

	b := C.sqlite3_backup_init(db.db, cdst, srcDB.db, csrc)
	if b == nil {
		return nil, errCode(C.sqlite3_extended_errcode(db.db))
	}
	return &Backup{backup: b}, nil
}

// BlobOpen is sqlite3_blob_open.
// https://sqlite.org/c3ref/blob_open.html
func (db *DB) BlobOpen(dbName, table, column string, rowid int64, write bool) (sqliteh.Blob, error) {
	cdb := C.CString(dbName)
	defer C.free(unsafe.Pointer(cdb))
	ctable := C.CString(table)
	defer C.free(unsafe.Pointer(ctable))
	ccolumn := C.CString(column)
	defer C.free(unsafe.Pointer(ccolumn))

	flags := C.int(0)
	if write {
		flags = 1
	}
	var cblob *C.sqlite3_blob
	res := C.sqlite3_blob_open(db.db, cdb, ctable, ccolumn, C.sqlite3_int64(rowid), flags, &cblob)
	if err := errCode(res); err != nil {
		return nil, err
	}
	return &Blob{blob: cblob}, nil
}

// SQL is sqlite3_sql.
// https://www.sqlite.org/c3ref/expanded_sql.html
func (stmt *Stmt) SQL() string {
	return C.GoString(C.sqlite3_sql(stmt.stmt))
}

// Reset is sqlite3_reset.
// https://www.sqlite.org/c3ref/reset.html
func (stmt *Stmt) Reset() error {
	return errCode(C.sqlite3_reset(stmt.stmt))
}

// Finalize is sqlite3_finalize.
// https://sqlite.org/c3ref/finalize.html
func (stmt *Stmt) Finalize() error {
	return errCode(C.sqlite3_finalize(stmt.stmt))
}

// ClearBindings is sqlite3_clear_bindings.
// https://www.sqlite.org/c3ref/clear_bindings.html
func (stmt *Stmt) ClearBindings() error {
	return errCode(C.sqlite3_clear_bindings(stmt.stmt))
}

// Step is sqlite3_step.
// 	For SQLITE_ROW, Step returns (true, nil).
// 	For SQLITE_DONE, Step returns (false, nil).
// 	For any error, Step returns (false, err).
// https://www.sqlite.org/c3ref/step.html
func (stmt *Stmt) Step() (row bool, err error) {
	res := C.sqlite3_step(stmt.stmt)
	switch res {
	case C.SQLITE_ROW:
		return true, nil
	case C.SQLITE_DONE:
		return false, nil
	default:
		return false, errCode(res)
	}
}

// BindDouble is sqlite3_bind_double.
// https://sqlite.org/c3ref/bind_blob.html
func (stmt *Stmt) BindDouble(col int, val float64) error {
	return errCode(C.sqlite3_bind_double(stmt.stmt, C.int(col), C.double(val)))
}

// BindInt64 is sqlite3_bind_int64.
// https://sqlite.org/c3ref/bind_blob.html
func (stmt *Stmt) BindInt64(col int, val int64) error {
	return errCode(C.sqlite3_bind_int64(stmt.stmt, C.int(col), C.sqlite3_int64(val)))
}

// BindNull is sqlite3_bind_null.
// https://sqlite.org/c3ref/bind_blob.html
func (stmt *Stmt) BindNull(col int) error {
	return errCode(C.sqlite3_bind_null(stmt.stmt, C.int(col)))
}

// BindText64 is sqlite3_bind_text64.
// https://sqlite.org/c3ref/bind_blob.html
func (stmt *Stmt) BindText64(col int, val string) error {
	if len(val) == 0 {
		return errCode(C.bind_text64_empty(stmt.stmt, C.int(col)))
	}
	v := C.CString(val) // freed by sqlite
	return errCode(C.bind_text64(stmt.stmt, C.int(col), v, C.sqlite3_uint64(len(val))))
}

// BindBlob64 is sqlite3_bind_blob64.
// https://sqlite.org/c3ref/bind_blob.html
func (stmt *Stmt) BindBlob64(col int, val []byte) error {
	var str *C.char
	if len(val) > 0 {
		str = (*C.char)(unsafe.Pointer(&val[0]))
	}
	return errCode(C.bind_blob64(stmt.stmt, C.int(col), str, C.sqlite3_uint64(len(val))))
}

// BindZeroBlob64 is sqlite3_bind_zeroblob64.
// https://sqlite.org/c3ref/bind_blob.html
func (stmt *Stmt) BindZeroBlob64(col int, n uint64) error {
	return errCode(C.sqlite3_bind_zeroblob64(stmt.stmt, C.int(col), C.sqlite3_uint64(n)))
}

// BindParameterCount is sqlite3_bind_parameter_count.
// https://sqlite.org/c3ref/bind_parameter_count.html
func (stmt *Stmt) BindParameterCount() int {
	return int(C.sqlite3_bind_parameter_count(stmt.stmt))
}

// BindParameterName is sqlite3_bind_parameter_name.
// https://sqlite.org/c3ref/bind_parameter_name.html
func (stmt *Stmt) BindParameterName(col int) string {
	cstr := C.sqlite3_bind_parameter_name(stmt.stmt, C.int(col))
	if cstr == nil {
		return ""
	}
	return C.GoString(cstr)
}

// BindParameterIndex is sqlite3_bind_parameter_index.
// Returns zero if no matching parameter is found.
// https://sqlite.org/c3ref/bind_parameter_index.html
func (stmt *Stmt) BindParameterIndex(name string) int {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return int(C.sqlite3_bind_parameter_index(stmt.stmt, cname))
}

// ColumnCount is sqlite3_column_count.
// https://sqlite.org/c3ref/column_count.html
func (stmt *Stmt) ColumnCount() int {
	return int(C.sqlite3_column_count(stmt.stmt))
}

// DataCount is sqlite3_data_count.
// https://sqlite.org/c3ref/data_count.html
func (stmt *Stmt) DataCount() int {
	return int(C.sqlite3_data_count(stmt.stmt))
}

// ColumnName is sqlite3_column_name.
// https://sqlite.org/c3ref/column_name.html
func (stmt *Stmt) ColumnName(col int) string {
	return C.GoString(C.sqlite3_column_name(stmt.stmt, C.int(col)))
}

// ColumnText is sqlite3_column_text.
// https://sqlite.org/c3ref/column_blob.html
func (stmt *Stmt) ColumnText(col int) string {
	str := (*C.char)(unsafe.Pointer(C.sqlite3_column_text(stmt.stmt, C.int(col))))
	n := C.sqlite3_column_bytes(stmt.stmt, C.int(col))
	if str == nil || n == 0 {
		return ""
	}
	return C.GoStringN(str, n)
}

// ColumnBlob is sqlite3_column_blob.
//
// WARNING: The returned memory is managed by C and is only valid until
//          another call is made on this Stmt.
//
// https://sqlite.org/c3ref/column_blob.html
func (stmt *Stmt) ColumnBlob(col int) []byte {
	res := C.sqlite3_column_blob(stmt.stmt, C.int(col))
	if res == nil {
		return nil
	}
	n := int(C.sqlite3_column_bytes(stmt.stmt, C.int(col)))
	return unsafe.Slice((*byte)(res), n)
}

// ColumnDouble is sqlite3_column_double.
// https://sqlite.org/c3ref/column_blob.html
func (stmt *Stmt) ColumnDouble(col int) float64 {
	return float64(C.sqlite3_column_double(stmt.stmt, C.int(col)))
}

// ColumnInt64 is sqlite3_column_int64.
// https://sqlite.org/c3ref/column_blob.html
func (stmt *Stmt) ColumnInt64(col int) int64 {
	return int64(C.sqlite3_column_int64(stmt.stmt, C.int(col)))
}

// ColumnType is sqlite3_column_type.
// https://www.sqlite.org/c3ref/column_blob.html
func (stmt *Stmt) ColumnType(col int) sqliteh.ColumnType {
	return sqliteh.ColumnType(C.sqlite3_column_type(stmt.stmt, C.int(col)))
}

// ColumnDeclType is sqlite3_column_decltype.
// https://sqlite.org/c3ref/column_decltype.html
func (stmt *Stmt) ColumnDeclType(col int) string {
	cstr := C.sqlite3_column_decltype(stmt.stmt, C.int(col))
	if cstr == nil {
		return ""
	}
	clen := C.strlen(cstr)
	b := unsafe.Slice((*byte)(unsafe.Pointer(cstr)), clen)
	if stmt.db.declTypes == nil {
		stmt.db.declTypes = make(map[string]string)
	}
	if res, found := stmt.db.declTypes[string(b)]; found {
		return res
	}
	res := string(b)
	stmt.db.declTypes[res] = res
	return res
}

// Backup is an sqlite3_backup object.
// https://sqlite.org/c3ref/backup.html
type Backup struct {
	backup *C.sqlite3_backup
}

// Step is sqlite3_backup_step.
// https://sqlite.org/c3ref/backup_finish.html
func (b *Backup) Step(n int) (done bool, err error) {
	res := C.sqlite3_backup_step(b.backup, C.int(n))
	switch res {
	case C.SQLITE_OK:
		return false, nil
	case C.SQLITE_DONE:
		return true, nil
	default:
		return false, errCode(res)
	}
}

// Remaining is sqlite3_backup_remaining.
func (b *Backup) Remaining() int {
	return int(C.sqlite3_backup_remaining(b.backup))
}

// PageCount is sqlite3_backup_pagecount.
func (b *Backup) PageCount() int {
	return int(C.sqlite3_backup_pagecount(b.backup))
}

// Finish is sqlite3_backup_finish.
// https://sqlite.org/c3ref/backup_finish.html
func (b *Backup) Finish() error {
	return errCode(C.sqlite3_backup_finish(b.backup))
}

// Blob is an sqlite3_blob incremental I/O handle.
// https://sqlite.org/c3ref/blob.html
type Blob struct {
	blob *C.sqlite3_blob
}

// Bytes is sqlite3_blob_bytes.
func (b *Blob) Bytes() int {
	return int(C.sqlite3_blob_bytes(b.blob))
}

// ReadAt is sqlite3_blob_read.
// https://sqlite.org/c3ref/blob_read.html
func (b *Blob) ReadAt(p []byte, off int) error {
	if len(p) == 0 {
		return nil
	}
	return errCode(C.sqlite3_blob_read(b.blob, unsafe.Pointer(&p[0]), C.int(len(p)), C.int(off)))
}

// WriteAt is sqlite3_blob_write.
// https://sqlite.org/c3ref/blob_write.html
func (b *Blob) WriteAt(p []byte, off int) error {
	if len(p) == 0 {
		return nil
	}
	return errCode(C.sqlite3_blob_write(b.blob, unsafe.Pointer(&p[0]), C.int(len(p)), C.int(off)))
}

// Reopen is sqlite3_blob_reopen.
// https://sqlite.org/c3ref/blob_reopen.html
func (b *Blob) Reopen(rowid int64) error {
	return errCode(C.sqlite3_blob_reopen(b.blob, C.sqlite3_int64(rowid)))
}

// Close is sqlite3_blob_close.
// https://sqlite.org/c3ref/blob_close.html
func (b *Blob) Close() error {
	return errCode(C.sqlite3_blob_close(b.blob))
}

func errCode(code C.int) error { return sqliteh.CodeAsError(sqliteh.Code(code)) }
