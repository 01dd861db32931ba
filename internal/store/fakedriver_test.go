package store

import (
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
)

// logDriver is a minimal database/sql/driver.Driver that records every
// executed statement instead of running it against a real database. It
// exists only so PersistBlock's and DeleteAboveLevel's statement ordering
// can be asserted without a Postgres instance or a third-party SQL mock
// library (the example pack carries none).
type logDriver struct {
	mu  sync.Mutex
	log []string
}

func (d *logDriver) Open(name string) (driver.Conn, error) {
	return &logConn{d: d}, nil
}

type logConn struct {
	d *logDriver
}

func (c *logConn) Prepare(query string) (driver.Stmt, error) {
	return &logStmt{d: c.d, query: query}, nil
}

func (c *logConn) Close() error { return nil }

func (c *logConn) Begin() (driver.Tx, error) {
	return logTx{}, nil
}

type logTx struct{}

func (logTx) Commit() error   { return nil }
func (logTx) Rollback() error { return nil }

type logStmt struct {
	d     *logDriver
	query string
}

func (s *logStmt) Close() error  { return nil }
func (s *logStmt) NumInput() int { return -1 }

func (s *logStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.d.mu.Lock()
	s.d.log = append(s.d.log, s.query)
	s.d.mu.Unlock()
	return driver.RowsAffected(1), nil
}

func (s *logStmt) Query(args []driver.Value) (driver.Rows, error) {
	return &emptyRows{}, nil
}

type emptyRows struct{}

func (r *emptyRows) Columns() []string              { return nil }
func (r *emptyRows) Close() error                   { return nil }
func (r *emptyRows) Next(dest []driver.Value) error { return io.EOF }

func openFakeDB() (*sql.DB, *logDriver) {
	d := &logDriver{}
	name := "lorrefake" + randSuffix()
	sql.Register(name, d)
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, d
}

// randSuffix keeps each test's driver name unique since sql.Register panics
// on a duplicate name and tests may run in the same binary more than once.
var suffixCounter int
var suffixMu sync.Mutex

func randSuffix() string {
	suffixMu.Lock()
	defer suffixMu.Unlock()
	suffixCounter++
	out := make([]byte, 0, 8)
	n := suffixCounter
	for n > 0 {
		out = append(out, byte('a'+n%26))
		n /= 26
	}
	return string(out)
}
