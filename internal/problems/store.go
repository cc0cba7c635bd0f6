// Package problems is the problem-bank surface: problems, problem sets and
// student answers. Handlers stay thin; every operation is gated through the
// policy engine.
package problems

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a row does not exist for the tenant.
var ErrNotFound = errors.New("problems: not found")

// Problem is a single exercise owned by a teacher.
type Problem struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	TeacherID string    `json:"teacher_id" db:"teacher_id"`
	Title     string    `json:"title" db:"title"`
	Body      string    `json:"body" db:"body"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ProblemSet is an ordered collection of problems a teacher assigns.
type ProblemSet struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	TeacherID string    `json:"teacher_id" db:"teacher_id"`
	Name      string    `json:"name" db:"name"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// StudentAnswer is a student's submission for a problem.
type StudentAnswer struct {
	ID          string    `json:"id" db:"id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	ProblemID   string    `json:"problem_id" db:"problem_id"`
	StudentID   string    `json:"student_id" db:"student_id"`
	Body        string    `json:"body" db:"body"`
	SubmittedAt time.Time `json:"submitted_at" db:"submitted_at"`
}

// Store persists the problem bank.
type Store interface {
	CreateProblem(ctx context.Context, p Problem) (Problem, error)
	GetProblem(ctx context.Context, tenantID, id string) (Problem, error)
	UpdateProblem(ctx context.Context, p Problem) error
	DeleteProblem(ctx context.Context, tenantID, id string) error

	GetProblemSet(ctx context.Context, tenantID, id string) (ProblemSet, error)
	AssignProblemSet(ctx context.Context, tenantID, setID string, studentIDs []string) error

	GetAnswer(ctx context.Context, tenantID, id string) (StudentAnswer, error)
	CreateAnswer(ctx context.Context, a StudentAnswer) (StudentAnswer, error)
}

type sqlStore struct {
	db *sqlx.DB
}

// NewStore creates a SQL-backed problem store.
func NewStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

func (s *sqlStore) CreateProblem(ctx context.Context, p Problem) (Problem, error) {
	p.ID = uuid.NewString()
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO problems (id, tenant_id, teacher_id, title, body, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.TenantID, p.TeacherID, p.Title, p.Body, p.Active, p.CreatedAt, p.UpdatedAt)
	return p, err
}

func (s *sqlStore) GetProblem(ctx context.Context, tenantID, id string) (Problem, error) {
	var p Problem
	err := s.db.GetContext(ctx, &p,
		`SELECT * FROM problems WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Problem{}, ErrNotFound
	}
	return p, err
}

func (s *sqlStore) UpdateProblem(ctx context.Context, p Problem) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE problems SET title = $1, body = $2, active = $3, updated_at = $4
		 WHERE tenant_id = $5 AND id = $6`,
		p.Title, p.Body, p.Active, time.Now(), p.TenantID, p.ID)
	if err != nil {
		return err
	}
	return rowsOrNotFound(res)
}

func (s *sqlStore) DeleteProblem(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM problems WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	return rowsOrNotFound(res)
}

func (s *sqlStore) GetProblemSet(ctx context.Context, tenantID, id string) (ProblemSet, error) {
	var ps ProblemSet
	err := s.db.GetContext(ctx, &ps,
		`SELECT * FROM problem_sets WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ProblemSet{}, ErrNotFound
	}
	return ps, err
}

func (s *sqlStore) AssignProblemSet(ctx context.Context, tenantID, setID string, studentIDs []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, studentID := range studentIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO problem_set_assignments (tenant_id, problem_set_id, student_id, assigned_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (tenant_id, problem_set_id, student_id) DO NOTHING`,
			tenantID, setID, studentID, time.Now()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) GetAnswer(ctx context.Context, tenantID, id string) (StudentAnswer, error) {
	var a StudentAnswer
	err := s.db.GetContext(ctx, &a,
		`SELECT * FROM student_answers WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return StudentAnswer{}, ErrNotFound
	}
	return a, err
}

func (s *sqlStore) CreateAnswer(ctx context.Context, a StudentAnswer) (StudentAnswer, error) {
	a.ID = uuid.NewString()
	a.SubmittedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO student_answers (id, tenant_id, problem_id, student_id, body, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.TenantID, a.ProblemID, a.StudentID, a.Body, a.SubmittedAt)
	return a, err
}

func rowsOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
