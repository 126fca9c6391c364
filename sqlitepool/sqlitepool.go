// Package sqlitepool implements a pool of SQLite database connections.
package sqlitepool

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/meridiandb/sqlite"
)

// A Pool is a fixed-size pool of SQLite database connections.
// One is reserved for writable transactions, the others are
// used for read-only transactions.
type Pool struct {
	poolSize    int
	rwConnFree  chan *sqlite.Conn // cap == 1
	roConnsFree chan *sqlite.Conn // cap == poolSize-1
	closed      chan struct{}
}

// NewPool creates a Pool of poolSize database connections.
//
// For each connection, initFn is called to initialize the connection.
// Any opts are applied to every connection.
func NewPool(filename string, poolSize int, initFn func(*sqlite.Conn) error, opts ...sqlite.OpenOption) (_ *Pool, err error) {
	if poolSize < 2 {
		return nil, fmt.Errorf("sqlitepool.NewPool: poolSize=%d is too small", poolSize)
	}
	p := &Pool{
		poolSize:    poolSize,
		rwConnFree:  make(chan *sqlite.Conn, 1),
		roConnsFree: make(chan *sqlite.Conn, poolSize-1),
		closed:      make(chan struct{}),
	}
	defer func() {
		if err == nil {
			return
		}
		err = fmt.Errorf("sqlitepool.NewPool: %w", err)
		for {
			select {
			case conn := <-p.rwConnFree:
				conn.Close(true)
			case conn := <-p.roConnsFree:
				conn.Close(true)
			default:
				return
			}
		}
	}()
	for i := 0; i < poolSize; i++ {
		conn, err := sqlite.Open(filename, opts...)
		if err != nil {
			return nil, err
		}
		if initFn != nil {
			if err := initFn(conn); err != nil {
				conn.Close(true)
				return nil, err
			}
		}
		if i == 0 {
			p.rwConnFree <- conn
		} else {
			if err := ExecScript(conn, "PRAGMA query_only=true"); err != nil {
				conn.Close(true)
				return nil, err
			}
			p.roConnsFree <- conn
		}
	}

	return p, nil
}

// Close closes every connection in the pool. It blocks until all
// transactions in flight finish.
func (p *Pool) Close() error {
	select {
	case <-p.closed:
		return errors.New("pool already closed")
	default:
	}
	close(p.closed)

	c := <-p.rwConnFree
	err := c.Close(true)

	for i := 0; i < p.poolSize-1; i++ {
		c := <-p.roConnsFree
		err2 := c.Close(true)
		if err == nil {
			err = err2
		}
	}
	return err
}

var errPoolClosed = fmt.Errorf("%w: sqlitepool closed", context.Canceled)

// BeginTx creates a writable transaction using BEGIN IMMEDIATE.
func (p *Pool) BeginTx(ctx context.Context) (*Tx, error) {
	select {
	case <-p.closed:
		return nil, errPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case conn := <-p.rwConnFree:
		tx := &Tx{Rx: &Rx{pool: p, conn: conn, inTx: true}}
		if err := tx.Exec("BEGIN IMMEDIATE", nil); err != nil {
			p.rwConnFree <- conn // can't block, buffer is big enough
			return nil, err
		}
		return tx, nil
	}
}

// BeginRx creates a read-only transaction.
func (p *Pool) BeginRx(ctx context.Context) (*Rx, error) {
	select {
	case <-p.closed:
		return nil, errPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case conn := <-p.roConnsFree:
		rx := &Rx{pool: p, conn: conn}
		if err := rx.Exec("BEGIN", nil); err != nil {
			p.roConnsFree <- conn // can't block, buffer is big enough
			return nil, err
		}
		return rx, nil
	}
}

// Rx is a read-only transaction.
//
// It is *not* safe for concurrent use.
type Rx struct {
	pool *Pool
	conn *sqlite.Conn
	inTx bool // true if this Rx is embedded in a writable Tx

	// OnRollback is an optional function called after rollback.
	// If Rx is part of a Tx and it is committed, then OnRollback
	// is not called.
	OnRollback func()
}

// Exec runs sql to completion, discarding any result rows.
func (rx *Rx) Exec(sql string, bindings any) error {
	cur, err := rx.conn.Execute(sql, bindings)
	if err != nil {
		return err
	}
	if err := drain(cur); err != nil {
		cur.Close(true)
		return err
	}
	return cur.Close(false)
}

// Query runs sql and returns a cursor over the result rows. Close the
// cursor before ending the transaction.
func (rx *Rx) Query(sql string, bindings any) (*sqlite.Cursor, error) {
	return rx.conn.Execute(sql, bindings)
}

// QueryRow runs sql expecting at most one row. No row at all returns
// io.EOF.
func (rx *Rx) QueryRow(sql string, bindings any) ([]any, error) {
	cur, err := rx.conn.Execute(sql, bindings)
	if err != nil {
		return nil, err
	}
	row, err := cur.Next()
	if err != nil {
		cur.Close(true)
		return nil, err
	}
	if cerr := cur.Close(true); cerr != nil && err == nil {
		return nil, cerr
	}
	return row, nil
}

// Conn returns the underlying database connection.
//
// Be careful: a transaction is in progress. Any use of
// BEGIN/COMMIT/ROLLBACK should be modelled as a nested transaction,
// and when done the original outer transaction should be left
// in-progress.
func (rx *Rx) Conn() *sqlite.Conn {
	return rx.conn
}

// Rollback executes ROLLBACK and cleans up the Rx.
// It is a no-op if Rx is already rolled back.
func (rx *Rx) Rollback() {
	if rx.conn == nil {
		return
	}
	if rx.inTx {
		panic("Tx.Rx.Rollback called, only call Rollback on the Tx object")
	}
	err := rx.Exec("ROLLBACK", nil)
	rx.pool.roConnsFree <- rx.conn
	rx.conn = nil
	if rx.OnRollback != nil {
		rx.OnRollback()
		rx.OnRollback = nil
	}
	if err != nil {
		panic(err)
	}
}

// Tx is a writable SQLite database transaction.
//
// It is *not* safe for concurrent use.
//
// A Tx contains an embedded Rx, which can be used to pass to functions
// that want to perform read-only queries on the writable Tx.
type Tx struct {
	*Rx

	// OnCommit is an optional function called after successful commit.
	OnCommit func()
}

// Rollback executes ROLLBACK and cleans up the Tx.
// It is a no-op if the Tx is already rolled back or committed.
func (tx *Tx) Rollback() {
	if tx.conn == nil {
		return
	}
	err := tx.Exec("ROLLBACK", nil)
	tx.pool.rwConnFree <- tx.conn
	tx.conn = nil
	if tx.OnRollback != nil {
		tx.OnRollback()
		tx.OnRollback = nil
		tx.OnCommit = nil
	}
	if err != nil {
		panic(err)
	}
}

// Commit executes COMMIT and cleans up the Tx.
// It is an error to call if the Tx is already rolled back or committed.
func (tx *Tx) Commit() error {
	if tx.conn == nil {
		return errors.New("tx already done")
	}
	err := tx.Exec("COMMIT", nil)
	tx.pool.rwConnFree <- tx.conn
	tx.conn = nil
	if tx.OnCommit != nil {
		tx.OnCommit()
		tx.OnCommit = nil
		tx.OnRollback = nil
	}
	return err
}

// ExecScript executes a series of SQL statements against a database
// connection. It is intended for one-off scripts.
func ExecScript(conn *sqlite.Conn, queries string) error {
	cur, err := conn.Cursor()
	if err != nil {
		return err
	}
	if err := cur.Execute(queries, nil); err != nil {
		cur.Close(true)
		return fmt.Errorf("ExecScript: %w", err)
	}
	if err := drain(cur); err != nil {
		cur.Close(true)
		return fmt.Errorf("ExecScript: %w", err)
	}
	return cur.Close(false)
}

// drain steps cur to exhaustion, running any statements after the
// current one.
func drain(cur *sqlite.Cursor) error {
	for {
		if _, err := cur.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
