package cache

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
)

// fakeDriver lets construction-path tests fail at chosen stages (ping,
// schema exec, statement prepare) without a real database. The pgx stdlib
// driver only registers "pgx", so the "postgres" name is free to claim for
// exercising the postgres dialect branches.
type fakeDriver struct {
	pingErr    error
	execErr    error
	prepareErr error
}

func (d *fakeDriver) Open(string) (driver.Conn, error) {
	return &fakeConn{pingErr: d.pingErr, execErr: d.execErr, prepareErr: d.prepareErr}, nil
}

type fakeConn struct {
	pingErr    error
	execErr    error
	prepareErr error
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	if c.prepareErr != nil {
		return nil, c.prepareErr
	}
	return &fakeStmt{}, nil
}

func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return nil, errors.New("transactions not faked") }

func (c *fakeConn) ExecContext(context.Context, string, []driver.NamedValue) (driver.Result, error) {
	if c.execErr != nil {
		return nil, c.execErr
	}
	return driver.RowsAffected(1), nil
}

func (c *fakeConn) Ping(context.Context) error { return c.pingErr }

type fakeStmt struct{}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec([]driver.Value) (driver.Result, error) {
	return driver.RowsAffected(1), nil
}

func (s *fakeStmt) Query([]driver.Value) (driver.Rows, error) {
	return &fakeRows{}, nil
}

// fakeRows is always empty, so point reads scan as sql.ErrNoRows.
type fakeRows struct{}

func (r *fakeRows) Columns() []string         { return []string{"v", "ea"} }
func (r *fakeRows) Close() error              { return nil }
func (r *fakeRows) Next([]driver.Value) error { return io.EOF }

func init() {
	sql.Register("postgres", &fakeDriver{})
	sql.Register("pingfail", &fakeDriver{pingErr: errors.New("ping boom")})
	sql.Register("schemafail", &fakeDriver{execErr: errors.New("schema boom")})
	sql.Register("preparefail", &fakeDriver{prepareErr: errors.New("prepare boom")})
}
