package security

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// sqlAttemptStore keeps login-attempt records in the login_attempts table so
// several instances can share lockout state. Row locks take the place of the
// in-memory store's per-key mutexes.
type sqlAttemptStore struct {
	db *sqlx.DB
}

// NewSQLAttemptStore returns an AttemptStore backed by the database.
func NewSQLAttemptStore(db *sqlx.DB) AttemptStore {
	return &sqlAttemptStore{db: db}
}

type attemptRow struct {
	Identifier   string       `db:"identifier"`
	FailureCount int          `db:"failure_count"`
	LockedUntil  sql.NullTime `db:"locked_until"`
}

func (r attemptRow) record() LoginAttemptRecord {
	rec := LoginAttemptRecord{Identifier: r.Identifier, FailureCount: r.FailureCount}
	if r.LockedUntil.Valid {
		t := r.LockedUntil.Time
		rec.LockedUntil = &t
	}
	return rec
}

func (s *sqlAttemptStore) Get(ctx context.Context, identifier string) (LoginAttemptRecord, bool, error) {
	var row attemptRow
	err := s.db.GetContext(ctx, &row,
		`SELECT identifier, failure_count, locked_until FROM login_attempts WHERE identifier = $1`, identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LoginAttemptRecord{}, false, nil
		}
		return LoginAttemptRecord{}, false, err
	}
	return row.record(), true, nil
}

func (s *sqlAttemptStore) Update(ctx context.Context, identifier string, fn func(rec *LoginAttemptRecord) bool) (LoginAttemptRecord, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return LoginAttemptRecord{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	var row attemptRow
	err = tx.GetContext(ctx, &row,
		`SELECT identifier, failure_count, locked_until FROM login_attempts WHERE identifier = $1 FOR UPDATE`, identifier)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return LoginAttemptRecord{}, err
	}

	rec := row.record()
	rec.Identifier = identifier
	keep := fn(&rec)

	if !keep {
		if _, err := tx.ExecContext(ctx, `DELETE FROM login_attempts WHERE identifier = $1`, identifier); err != nil {
			return LoginAttemptRecord{}, err
		}
		return rec, tx.Commit()
	}

	var lockedUntil sql.NullTime
	if rec.LockedUntil != nil {
		lockedUntil = sql.NullTime{Time: *rec.LockedUntil, Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO login_attempts (identifier, failure_count, locked_until)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (identifier)
		 DO UPDATE SET failure_count = EXCLUDED.failure_count, locked_until = EXCLUDED.locked_until`,
		identifier, rec.FailureCount, lockedUntil)
	if err != nil {
		return LoginAttemptRecord{}, err
	}
	return rec, tx.Commit()
}

func (s *sqlAttemptStore) Delete(ctx context.Context, identifier string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE identifier = $1`, identifier)
	return err
}

func (s *sqlAttemptStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE locked_until IS NOT NULL AND locked_until < $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}
