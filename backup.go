package sqlite

import (
	"runtime"
	"sync/atomic"
	"weak"

	"github.com/meridiandb/sqlite/sqliteh"
)

// Backup copies a database across two connections using the engine's
// online backup machinery, a few pages per Step.
//
// A backup is a dependent of both connections. Closing the destination
// connection closes the backup. The source is held in use for the
// backup's whole life, so calls on it, Close included, fail with
// ErrThreadingViolation until Finish.
type Backup struct {
	st      *backupState
	cleanup runtime.Cleanup
}

type backupState struct {
	b        sqliteh.Backup
	dst, src *Conn
	inUse    atomic.Bool
	finished bool
}

// Backup starts copying the srcName database of src over the dstName
// database of the receiver ("main" for the default database).
//
// The destination connection must have no other live cursors, blobs,
// or backups, and the source must not be occupied by another call or
// backup.
func (conn *Conn) Backup(dstName string, src *Conn, srcName string) (*Backup, error) {
	if conn.closed.Load() || src.closed.Load() {
		UsesAfterClose.Add("Backup", 1)
		return nil, ErrConnClosed
	}
	if conn.liveDependents() != 0 {
		return nil, ErrBackupDependents
	}
	// Hold the source until Finish. Everything else on the source
	// bounces off this flag in the meantime.
	if !src.inUse.CompareAndSwap(false, true) {
		return nil, ErrThreadingViolation
	}
	eb, err := conn.db.BackupInit(dstName, src.db, srcName)
	if err != nil {
		src.inUse.Store(false)
		return nil, reserr(conn.db, "Backup", "", err)
	}
	st := &backupState{b: eb, dst: conn, src: src}
	b := &Backup{st: st}
	b.cleanup = runtime.AddCleanup(b, cleanupBackup, st)
	wp := weak.Make(b)
	live := func() dependent {
		if b := wp.Value(); b != nil {
			return b
		}
		return nil
	}
	conn.addDependent(live)
	src.addDependent(live)
	return b, nil
}

func (st *backupState) enter() error {
	if !st.inUse.CompareAndSwap(false, true) {
		return ErrThreadingViolation
	}
	return nil
}

func (st *backupState) leave() { st.inUse.Store(false) }

// Step copies up to pages pages, or everything left if pages is
// negative. done reports that the copy is complete; call Finish to
// release the handles.
func (b *Backup) Step(pages int) (done bool, err error) {
	st := b.st
	if err := st.enter(); err != nil {
		return false, err
	}
	defer st.leave()
	if st.finished {
		UsesAfterClose.Add("Backup.Step", 1)
		return false, ErrBackupFinished
	}
	done, err = st.b.Step(pages)
	if err != nil {
		return false, reserr(st.dst.db, "Backup.Step", "", err)
	}
	return done, nil
}

// Remaining is the number of pages still to be copied, as of the last
// Step.
func (b *Backup) Remaining() (int, error) {
	st := b.st
	if err := st.enter(); err != nil {
		return 0, err
	}
	defer st.leave()
	if st.finished {
		UsesAfterClose.Add("Backup.Remaining", 1)
		return 0, ErrBackupFinished
	}
	return st.b.Remaining(), nil
}

// PageCount is the total number of pages in the source database, as
// of the last Step.
func (b *Backup) PageCount() (int, error) {
	st := b.st
	if err := st.enter(); err != nil {
		return 0, err
	}
	defer st.leave()
	if st.finished {
		UsesAfterClose.Add("Backup.PageCount", 1)
		return 0, ErrBackupFinished
	}
	return st.b.PageCount(), nil
}

// Finish releases the backup. It reports errors from the copy; an
// incomplete backup leaves the destination in an undefined state but
// finishing it is not itself an error.
func (b *Backup) Finish() error { return b.Close(false) }

// Close releases the backup. force discards any error from the
// engine. Closing twice is a no-op.
func (b *Backup) Close(force bool) error {
	st := b.st
	if err := st.enter(); err != nil {
		return err
	}
	defer st.leave()
	if st.finished {
		UsesAfterClose.Add("Backup.Close", 1)
		return nil
	}
	err := st.release()
	b.cleanup.Stop()
	st.dst.removeDependent(b)
	st.src.removeDependent(b)
	if err != nil && !force {
		return &Error{Code: errcode(err), Loc: "Backup.Finish"}
	}
	return nil
}

func (b *Backup) closeForConn(force bool) error { return b.Close(force) }

// release finishes the engine backup and frees the source. The caller
// holds st.inUse.
func (st *backupState) release() error {
	st.finished = true
	err := st.b.Finish()
	st.src.inUse.Store(false)
	return err
}

// cleanupBackup runs when a Backup became unreachable without Close.
func cleanupBackup(st *backupState) {
	if !st.inUse.CompareAndSwap(false, true) {
		return
	}
	defer st.leave()
	if st.finished {
		return
	}
	if err := st.release(); err != nil {
		unraisable("Backup.cleanup", err)
	}
}
