package checkpoint

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"strings"
	"sync"
	"testing"

	"lorre/internal/chain"
)

// logDriver mirrors internal/store's test fake: it records executed
// statements instead of running them, since the pack carries no SQL mock
// library to exercise against a real database.
type logDriver struct {
	mu  sync.Mutex
	log []string
}

func (d *logDriver) Open(name string) (driver.Conn, error) { return &logConn{d: d}, nil }

type logConn struct{ d *logDriver }

func (c *logConn) Prepare(query string) (driver.Stmt, error) {
	return &logStmt{d: c.d, query: query}, nil
}
func (c *logConn) Close() error          { return nil }
func (c *logConn) Begin() (driver.Tx, error) { return logTx{}, nil }

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
func (s *logStmt) Query(args []driver.Value) (driver.Rows, error) { return &emptyRows{}, nil }

type emptyRows struct{}

func (r *emptyRows) Columns() []string              { return nil }
func (r *emptyRows) Close() error                   { return nil }
func (r *emptyRows) Next(dest []driver.Value) error { return io.EOF }

var suffixCounter int
var suffixMu sync.Mutex

func openFakeDB(t *testing.T) (*sql.DB, *logDriver) {
	t.Helper()
	d := &logDriver{}
	suffixMu.Lock()
	suffixCounter++
	name := "lorrefake_checkpoint"
	for n := suffixCounter; n > 0; n /= 26 {
		name += string(rune('a' + n%26))
	}
	suffixMu.Unlock()
	sql.Register(name, d)
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	return db, d
}

func TestPruneResolvedIssuesOneDeletePerItem(t *testing.T) {
	db, drv := openFakeDB(t)
	defer db.Close()

	resolved := []pending{
		{id: "tz1a", blockHash: "BL1", blockLevel: 10},
		{id: "tz1b", blockHash: "BL1", blockLevel: 11},
	}
	if err := pruneResolved(context.Background(), db, "accounts_checkpoint", "account_id", resolved); err != nil {
		t.Fatalf("pruneResolved: %v", err)
	}
	if len(drv.log) != len(resolved) {
		t.Fatalf("expected %d delete statements, got %d", len(resolved), len(drv.log))
	}
	for _, stmt := range drv.log {
		if !strings.Contains(stmt, "DELETE FROM accounts_checkpoint") || !strings.Contains(stmt, "account_id") {
			t.Fatalf("unexpected delete statement: %s", stmt)
		}
	}
}

func TestPruneResolvedNoOpOnEmpty(t *testing.T) {
	db, drv := openFakeDB(t)
	defer db.Close()

	if err := pruneResolved(context.Background(), db, "accounts_checkpoint", "account_id", nil); err != nil {
		t.Fatalf("pruneResolved: %v", err)
	}
	if len(drv.log) != 0 {
		t.Fatalf("expected no statements for empty resolved set, got %v", drv.log)
	}
}

func TestUpsertAccountStatementGuardsOnBlockLevel(t *testing.T) {
	db, drv := openFakeDB(t)
	defer db.Close()

	acc := chain.Account{AccountID: "tz1a", BlockID: "BL1", BlockLevel: 5, Balance: 100}
	if err := upsertAccount(context.Background(), db, acc); err != nil {
		t.Fatalf("upsertAccount: %v", err)
	}
	if len(drv.log) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(drv.log))
	}
	if !strings.Contains(drv.log[0], "ON CONFLICT (account_id) DO UPDATE") {
		t.Fatalf("expected conflict-aware upsert, got: %s", drv.log[0])
	}
	if !strings.Contains(drv.log[0], "EXCLUDED.block_level >= accounts.block_level") {
		t.Fatalf("expected block_level guard, got: %s", drv.log[0])
	}
}

func TestUpsertDelegateStatementGuardsOnBlockLevel(t *testing.T) {
	db, drv := openFakeDB(t)
	defer db.Close()

	del := chain.Delegate{PKH: "tz1baker", BlockID: "BL1", BlockLevel: 5}
	if err := upsertDelegate(context.Background(), db, del); err != nil {
		t.Fatalf("upsertDelegate: %v", err)
	}
	if len(drv.log) != 1 || !strings.Contains(drv.log[0], "ON CONFLICT (pkh) DO UPDATE") {
		t.Fatalf("unexpected statement log: %v", drv.log)
	}
}
