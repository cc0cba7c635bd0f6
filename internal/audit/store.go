package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// SQLSink persists audit events to the security_events table. It satisfies
// Sink directly; wrap it in an AsyncSink to keep inserts off the request
// path.
type SQLSink struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewSQLSink returns a sink backed by the given database handle.
func NewSQLSink(db *sqlx.DB, logger *zap.Logger) *SQLSink {
	return &SQLSink{db: db, logger: logger}
}

func (s *SQLSink) Emit(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO security_events (tenant_id, actor_id, role, action, resource, operation, reason, session_id, ip_address, user_agent, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.TenantID, e.ActorID, e.Role, e.Action, e.Resource, e.Operation, e.Reason, e.SessionID, e.IPAddress, e.UserAgent, e.Timestamp,
	)
	if err != nil {
		// Fire-and-forget: log and move on, never fail the caller.
		s.logger.Error("failed to persist audit event", zap.String("action", e.Action), zap.Error(err))
	}
}

// QueryParams filters a tenant's recent security events.
type QueryParams struct {
	TenantID string
	ActorID  string
	Action   string
	Since    *time.Time
	Limit    int
}

// Query returns a tenant's events, newest first.
func (s *SQLSink) Query(ctx context.Context, params QueryParams) ([]Event, error) {
	query := `SELECT * FROM security_events WHERE tenant_id = $1`
	args := []interface{}{params.TenantID}
	argIdx := 2

	if params.ActorID != "" {
		query += ` AND actor_id = $` + strconv.Itoa(argIdx)
		args = append(args, params.ActorID)
		argIdx++
	}
	if params.Action != "" {
		query += ` AND action = $` + strconv.Itoa(argIdx)
		args = append(args, params.Action)
		argIdx++
	}
	if params.Since != nil {
		query += ` AND timestamp >= $` + strconv.Itoa(argIdx)
		args = append(args, *params.Since)
		argIdx++
	}

	limit := params.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += ` ORDER BY timestamp DESC LIMIT $` + strconv.Itoa(argIdx)
	args = append(args, limit)

	var events []Event
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, err
	}
	return events, nil
}
