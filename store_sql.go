package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// sqlStore is the relational rendition of the single-table record model:
// one row per key with an opaque value column and a unix-seconds expiry
// column. Conditional writes become guarded INSERT/UPDATE/DELETE statements
// and counter arithmetic runs inside a row-locking transaction.
type sqlStore struct {
	db         *sql.DB
	table      string
	driverName string
	prefix     string
	log        Logger

	getStmt         *sql.Stmt
	upsertStmt      *sql.Stmt
	insertStmt      *sql.Stmt
	reviveStmt      *sql.Stmt
	adjustStmt      *sql.Stmt
	reapStmt        *sql.Stmt
	deleteStmt      *sql.Stmt
	releaseStmt     *sql.Stmt
	flushStmt       *sql.Stmt
	scopedFlushStmt *sql.Stmt

	// now is swapped by tests that walk the clock across expiry boundaries.
	now func() time.Time
}

var sqlIdentPartRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func newSQLStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	if cfg.SQLDriverName == "" || cfg.SQLDSN == "" {
		return nil, errors.New("sql cache requires a driver name and dsn")
	}
	if err := validateSQLTableName(cfg.Table); err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.SQLDriverName, cfg.SQLDSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = NopLogger{}
	}
	s := &sqlStore{
		db:         db,
		table:      cfg.Table,
		driverName: cfg.SQLDriverName,
		prefix:     cfg.Prefix,
		log:        log,
		now:        time.Now,
	}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.prepareStatements(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) Driver() Driver { return DriverSQL }

func (s *sqlStore) Prefix() string { return s.prefix }

func (s *sqlStore) WithPrefix(prefix string) Store {
	// Prepared statements take the key as an argument, so clones share them.
	clone := *s
	clone.prefix = prefix
	return &clone
}

func (s *sqlStore) Ready(ctx context.Context) error {
	if s.db == nil {
		return errors.New("sql cache database unavailable")
	}
	return s.db.PingContext(ctx)
}

func (s *sqlStore) ensureSchema(ctx context.Context) error {
	var stmt string
	switch s.driverName {
	case "postgres", "pgx":
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k TEXT PRIMARY KEY,
			v BYTEA NOT NULL,
			ea BIGINT NOT NULL
		);`, s.table)
	case "mysql":
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k VARBINARY(255) PRIMARY KEY,
			v LONGBLOB NOT NULL,
			ea BIGINT NOT NULL
		) ENGINE=InnoDB;`, s.table)
	default: // sqlite
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k TEXT PRIMARY KEY,
			v BLOB NOT NULL,
			ea INTEGER NOT NULL
		);`, s.table)
	}
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *sqlStore) Get(ctx context.Context, key string) (Value, bool, error) {
	var body []byte
	var exp int64
	err := s.getStmt.QueryRowContext(ctx, s.cacheKey(key)).Scan(&body, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return Value{}, false, nil
	}
	if err != nil {
		return Value{}, false, err
	}
	if now := s.now().Unix(); now >= exp {
		// Reads sweep dead rows opportunistically. The expiry guard in the
		// statement keeps a racing fresh write alive, and a failed sweep is
		// harmless because the row stays invisible either way.
		if _, derr := s.reapStmt.ExecContext(ctx, s.cacheKey(key), now); derr != nil {
			s.log.Debug("sql expired row sweep failed", Fields{"key": key, "error": derr.Error()})
		}
		return Value{}, false, nil
	}
	return wireDecode(body), true, nil
}

func (s *sqlStore) Set(ctx context.Context, key string, value Value, ttl time.Duration) error {
	body, err := wireEncode(value)
	if err != nil {
		return err
	}
	exp := s.expiryAt(s.now(), ttl)
	_, err = s.upsertStmt.ExecContext(ctx, s.cacheKey(key), body, exp, body, exp)
	return err
}

// Add installs the value only when no live row holds the key. An expired
// leftover counts as absent and is revived in place.
func (s *sqlStore) Add(ctx context.Context, key string, value Value, ttl time.Duration) (bool, error) {
	body, err := wireEncode(value)
	if err != nil {
		return false, err
	}
	return s.addRow(ctx, s.cacheKey(key), body, ttl)
}

// addRow inserts a fresh row, or revives one whose expiry is strictly in
// the past. A live row defeats both arms, which is how concurrent adders
// race safely: one wins, the rest see false.
func (s *sqlStore) addRow(ctx context.Context, rowKey string, body []byte, ttl time.Duration) (bool, error) {
	now := s.now()
	exp := s.expiryAt(now, ttl)
	_, err := s.insertStmt.ExecContext(ctx, rowKey, body, exp)
	if err == nil {
		return true, nil
	}
	if !isDuplicateErr(err, s.driverName) {
		return false, err
	}
	res, err := s.reviveStmt.ExecContext(ctx, body, exp, rowKey, now.Unix())
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *sqlStore) Increment(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.adjust(ctx, key, delta)
}

func (s *sqlStore) Decrement(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.adjust(ctx, key, -delta)
}

// adjust applies delta to a live integer row inside a transaction, locking
// the row where the dialect supports it. The expiry column is left
// untouched, and a missing or stale row refuses the update instead of
// resurrecting a counter from zero.
func (s *sqlStore) adjust(ctx context.Context, key string, delta int64) (int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	selectSQL := fmt.Sprintf("SELECT v, ea FROM %s WHERE k = %s", s.table, s.ph(1))
	if s.driverName == "postgres" || s.driverName == "pgx" || s.driverName == "mysql" {
		selectSQL += " FOR UPDATE"
	}
	var body []byte
	var exp int64
	err = tx.QueryRowContext(ctx, selectSQL, s.cacheKey(key)).Scan(&body, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if s.now().Unix() >= exp {
		return 0, false, nil
	}
	current, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("cache key %q: %w", key, ErrNotNumeric)
	}
	next := current + delta

	adjust := tx.StmtContext(ctx, s.adjustStmt)
	defer adjust.Close()
	if _, err := adjust.ExecContext(ctx, []byte(strconv.FormatInt(next, 10)), s.cacheKey(key)); err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return next, true, nil
}

func (s *sqlStore) Forever(ctx context.Context, key string, value Value) error {
	return s.Set(ctx, key, value, foreverTTL)
}

func (s *sqlStore) Delete(ctx context.Context, key string) error {
	_, err := s.deleteStmt.ExecContext(ctx, s.cacheKey(key))
	return err
}

func (s *sqlStore) DeleteMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(keys))
	for i := range keys {
		placeholders = append(placeholders, s.ph(i+1))
	}
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		args = append(args, s.cacheKey(k))
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE k IN (%s)", s.table, strings.Join(placeholders, ",")), args...)
	return err
}

// Flush clears this store's prefix scope; with no prefix it empties the
// whole table.
func (s *sqlStore) Flush(ctx context.Context) error {
	if s.prefix == "" {
		_, err := s.flushStmt.ExecContext(ctx)
		return err
	}
	_, err := s.scopedFlushStmt.ExecContext(ctx, likePattern(s.prefix+":"))
	return err
}

// Lock returns a handle for a distributed mutex living in the same table.
// An empty owner is replaced with a random token.
func (s *sqlStore) Lock(name string, ttl time.Duration, owner string) *Lock {
	return newLock(s, name, ttl, owner)
}

// RestoreLock rebuilds a handle around an owner token captured from a
// previous Lock call, typically in another process.
func (s *sqlStore) RestoreLock(name, owner string) *Lock {
	return restoreLock(s, name, owner)
}

// acquireLock reuses the add machinery. A lock row stores the bare owner
// token, which non-numeric reads surface as opaque bytes.
func (s *sqlStore) acquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = foreverTTL
	}
	return s.addRow(ctx, s.cacheKey(name), []byte(owner), ttl)
}

// releaseLock deletes the lock row only while the caller still owns it.
// A lost race, where the lock expired and someone else re-acquired it,
// reports false instead of deleting the new holder's row.
func (s *sqlStore) releaseLock(ctx context.Context, name, owner string) (bool, error) {
	res, err := s.releaseStmt.ExecContext(ctx, s.cacheKey(name), []byte(owner))
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *sqlStore) forceReleaseLock(ctx context.Context, name string) error {
	return s.Delete(ctx, name)
}

// lockOwner reads the current owner token, or "" when the lock is free or
// expired.
func (s *sqlStore) lockOwner(ctx context.Context, name string) (string, error) {
	var body []byte
	var exp int64
	err := s.getStmt.QueryRowContext(ctx, s.cacheKey(name)).Scan(&body, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if s.now().Unix() >= exp {
		return "", nil
	}
	return string(body), nil
}

func (s *sqlStore) cacheKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// expiryAt converts a ttl into an absolute unix-seconds deadline. Anything
// non-positive lands exactly on now, an already-dead row. Positive
// sub-second ttls round up so the row lives at least one second.
func (s *sqlStore) expiryAt(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return now.Unix()
	}
	exp := now.Add(ttl).Unix()
	if exp <= now.Unix() {
		exp = now.Unix() + 1
	}
	return exp
}

func (s *sqlStore) getSQL() string {
	return fmt.Sprintf("SELECT v, ea FROM %s WHERE k = %s", s.table, s.ph(1))
}

func (s *sqlStore) upsertSQL() string {
	// Placeholders must be positional for postgres/pgx.
	p1, p2, p3, p4, p5 := s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5)
	switch s.driverName {
	case "postgres", "pgx":
		return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s) ON CONFLICT (k) DO UPDATE SET v = %s, ea = %s", s.table, p1, p2, p3, p4, p5)
	case "mysql":
		return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s) ON DUPLICATE KEY UPDATE v = %s, ea = %s", s.table, p1, p2, p3, p4, p5)
	default: // sqlite
		return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s) ON CONFLICT(k) DO UPDATE SET v = %s, ea = %s", s.table, p1, p2, p3, p4, p5)
	}
}

func (s *sqlStore) insertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (k, v, ea) VALUES (%s, %s, %s)", s.table, s.ph(1), s.ph(2), s.ph(3))
}

// reviveSQL steals an expired row. The bound is strictly in the past, the
// same asymmetry the readers apply from the other side.
func (s *sqlStore) reviveSQL() string {
	return fmt.Sprintf("UPDATE %s SET v = %s, ea = %s WHERE k = %s AND ea < %s", s.table, s.ph(1), s.ph(2), s.ph(3), s.ph(4))
}

func (s *sqlStore) adjustSQL() string {
	return fmt.Sprintf("UPDATE %s SET v = %s WHERE k = %s", s.table, s.ph(1), s.ph(2))
}

func (s *sqlStore) reapSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE k = %s AND ea <= %s", s.table, s.ph(1), s.ph(2))
}

func (s *sqlStore) deleteSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE k = %s", s.table, s.ph(1))
}

func (s *sqlStore) releaseSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE k = %s AND v = %s", s.table, s.ph(1), s.ph(2))
}

func (s *sqlStore) flushSQL() string {
	return fmt.Sprintf("DELETE FROM %s", s.table)
}

func (s *sqlStore) scopedFlushSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE k LIKE %s ESCAPE '!'", s.table, s.ph(1))
}

func (s *sqlStore) prepareStatements(ctx context.Context) error {
	var err error
	if s.getStmt, err = s.db.PrepareContext(ctx, s.getSQL()); err != nil {
		return err
	}
	if s.upsertStmt, err = s.db.PrepareContext(ctx, s.upsertSQL()); err != nil {
		return err
	}
	if s.insertStmt, err = s.db.PrepareContext(ctx, s.insertSQL()); err != nil {
		return err
	}
	if s.reviveStmt, err = s.db.PrepareContext(ctx, s.reviveSQL()); err != nil {
		return err
	}
	if s.adjustStmt, err = s.db.PrepareContext(ctx, s.adjustSQL()); err != nil {
		return err
	}
	if s.reapStmt, err = s.db.PrepareContext(ctx, s.reapSQL()); err != nil {
		return err
	}
	if s.deleteStmt, err = s.db.PrepareContext(ctx, s.deleteSQL()); err != nil {
		return err
	}
	if s.releaseStmt, err = s.db.PrepareContext(ctx, s.releaseSQL()); err != nil {
		return err
	}
	if s.flushStmt, err = s.db.PrepareContext(ctx, s.flushSQL()); err != nil {
		return err
	}
	if s.scopedFlushStmt, err = s.db.PrepareContext(ctx, s.scopedFlushSQL()); err != nil {
		return err
	}
	return nil
}

func (s *sqlStore) ph(i int) string {
	if s.driverName == "postgres" || s.driverName == "pgx" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// likePattern turns a literal key prefix into a LIKE pattern, neutralizing
// the wildcard characters with '!' as the escape rune.
func likePattern(literal string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(literal) + "%"
}

func isDuplicateErr(err error, driver string) bool {
	msg := err.Error()
	switch driver {
	case "postgres", "pgx":
		return strings.Contains(msg, "duplicate key value")
	case "mysql":
		return strings.Contains(msg, "Duplicate entry")
	default:
		return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "unique constraint")
	}
}

func validateSQLTableName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("sql table name is required")
	}
	for _, part := range strings.Split(name, ".") {
		if !sqlIdentPartRE.MatchString(part) {
			return fmt.Errorf("invalid sql table name %q", name)
		}
	}
	return nil
}
