package sqlite

import (
	"runtime"
	"sync/atomic"
	"weak"

	"github.com/meridiandb/sqlite/sqliteh"
)

// Blob is an open handle for incremental I/O on one blob cell,
// located by (database, table, column, rowid) at open time.
//
// Like a Cursor, a Blob is a dependent of its connection and detects
// rather than serializes concurrent use.
type Blob struct {
	st      *blobState
	cleanup runtime.Cleanup
}

type blobState struct {
	conn   *Conn
	blob   sqliteh.Blob
	inUse  atomic.Bool
	closed bool
}

// BlobOpen opens the blob in row rowid, column column of table in the
// named database ("main" for the default). write false opens it
// read-only.
//
// The handle reads and writes within the blob's current size; use the
// zeroblob SQL function to allocate space first.
func (conn *Conn) BlobOpen(dbName, table, column string, rowid int64, write bool) (*Blob, error) {
	if err := conn.enter("BlobOpen"); err != nil {
		return nil, err
	}
	defer conn.leave()
	eb, err := conn.db.BlobOpen(dbName, table, column, rowid, write)
	if err != nil {
		return nil, reserr(conn.db, "BlobOpen", table+"."+column, err)
	}
	st := &blobState{conn: conn, blob: eb}
	b := &Blob{st: st}
	b.cleanup = runtime.AddCleanup(b, cleanupBlob, st)
	wp := weak.Make(b)
	conn.addDependent(func() dependent {
		if b := wp.Value(); b != nil {
			return b
		}
		return nil
	})
	return b, nil
}

func (st *blobState) enter(loc string) error {
	if !st.inUse.CompareAndSwap(false, true) {
		return ErrThreadingViolation
	}
	if st.closed {
		st.inUse.Store(false)
		UsesAfterClose.Add(loc, 1)
		return ErrBlobClosed
	}
	if !st.conn.inUse.CompareAndSwap(false, true) {
		st.inUse.Store(false)
		return ErrThreadingViolation
	}
	return nil
}

func (st *blobState) leave() {
	st.conn.inUse.Store(false)
	st.inUse.Store(false)
}

// Len is the size of the open blob in bytes. It does not change for
// the life of the handle.
func (b *Blob) Len() (int, error) {
	st := b.st
	if err := st.enter("Blob.Len"); err != nil {
		return 0, err
	}
	defer st.leave()
	return st.blob.Bytes(), nil
}

// ReadAt fills p from the blob starting at byte offset off. Reads
// past the end of the blob fail with SQLITE_ERROR.
func (b *Blob) ReadAt(p []byte, off int) error {
	st := b.st
	if err := st.enter("Blob.ReadAt"); err != nil {
		return err
	}
	defer st.leave()
	return reserr(st.conn.db, "Blob.ReadAt", "", st.blob.ReadAt(p, off))
}

// WriteAt writes p into the blob starting at byte offset off. Writes
// cannot grow the blob; past-the-end writes fail with SQLITE_ERROR,
// and writes on a read-only handle with SQLITE_READONLY.
func (b *Blob) WriteAt(p []byte, off int) error {
	st := b.st
	if err := st.enter("Blob.WriteAt"); err != nil {
		return err
	}
	defer st.leave()
	return reserr(st.conn.db, "Blob.WriteAt", "", st.blob.WriteAt(p, off))
}

// Reopen moves the handle to the same column of another row, which is
// much cheaper than closing and reopening. If the row does not
// qualify, the handle is left unusable until a Reopen that does.
func (b *Blob) Reopen(rowid int64) error {
	st := b.st
	if err := st.enter("Blob.Reopen"); err != nil {
		return err
	}
	defer st.leave()
	return reserr(st.conn.db, "Blob.Reopen", "", st.blob.Reopen(rowid))
}

// Close releases the blob handle. The engine reports errors from
// deferred writes here; force discards them. Closing twice is a
// no-op.
func (b *Blob) Close(force bool) error {
	st := b.st
	if !st.inUse.CompareAndSwap(false, true) {
		return ErrThreadingViolation
	}
	defer st.inUse.Store(false)
	if st.closed {
		UsesAfterClose.Add("Blob.Close", 1)
		return nil
	}
	st.closed = true
	err := st.blob.Close()
	b.cleanup.Stop()
	st.conn.removeDependent(b)
	if err != nil && !force {
		return &Error{Code: errcode(err), Loc: "Blob.Close"}
	}
	return nil
}

func (b *Blob) closeForConn(force bool) error { return b.Close(force) }

// cleanupBlob runs when a Blob became unreachable without Close.
func cleanupBlob(st *blobState) {
	if !st.inUse.CompareAndSwap(false, true) {
		return
	}
	defer st.inUse.Store(false)
	if st.closed {
		return
	}
	st.closed = true
	if err := st.blob.Close(); err != nil {
		unraisable("Blob.cleanup", err)
	}
}
