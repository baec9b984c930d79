package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
)

// SessionsRepo persists activity sessions, their file accesses, and
// session events.
type SessionsRepo struct {
	db *sql.DB
}

const sessionColumns = `id, started_at, ended_at, last_activity_at, is_active`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var s models.Session
	var ended sql.NullTime
	err := row.Scan(&s.ID, &s.StartedAt, &ended, &s.LastActivityAt, &s.Active)
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		s.EndedAt = ended.Time
	}
	return &s, nil
}

// Create inserts a session.
func (r *SessionsRepo) Create(ctx context.Context, s *models.Session) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO sessions
		(id, started_at, ended_at, last_activity_at, is_active)
		VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.StartedAt, nullTime(s.EndedAt), s.LastActivityAt, s.Active)
	return err
}

// Get returns a session by id.
func (r *SessionsRepo) Get(ctx context.Context, id string) (*models.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("session", id, err)
	}
	return s, nil
}

// ActiveSession returns the currently active session, or NotFound.
func (r *SessionsRepo) ActiveSession(ctx context.Context) (*models.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE is_active = 1
		 ORDER BY started_at DESC LIMIT 1`))
	if err != nil {
		return nil, notFound("active session", "", err)
	}
	return s, nil
}

// Touch bumps last_activity_at on an active session.
func (r *SessionsRepo) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = ? WHERE id = ? AND is_active = 1`, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.Newf(faults.NotFound, "active session not found: %s", id)
	}
	return nil
}

// End closes a session.
func (r *SessionsRepo) End(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, is_active = 0 WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.Newf(faults.NotFound, "session not found: %s", id)
	}
	return nil
}

// RecordAccess appends a file access to a session.
func (r *SessionsRepo) RecordAccess(ctx context.Context, a *models.SessionAccess) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO session_file_access
		(session_id, file_id, accessed_at, access_kind)
		VALUES (?, ?, ?, ?)`,
		a.SessionID, a.FileID, a.AccessedAt, a.Kind)
	return err
}

// Accesses returns a session's file accesses in time order.
func (r *SessionsRepo) Accesses(ctx context.Context, sessionID string) ([]*models.SessionAccess, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_id, file_id, accessed_at, access_kind
		 FROM session_file_access WHERE session_id = ? ORDER BY accessed_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.SessionAccess
	for rows.Next() {
		var a models.SessionAccess
		if err := rows.Scan(&a.SessionID, &a.FileID, &a.AccessedAt, &a.Kind); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// DistinctFiles returns the distinct file ids accessed in a session.
func (r *SessionsRepo) DistinctFiles(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT file_id FROM session_file_access
		 WHERE session_id = ? ORDER BY file_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecordEvent appends a durable session event.
func (r *SessionsRepo) RecordEvent(ctx context.Context, e *models.SessionEvent) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO session_events
		(id, session_id, file_id, event_type, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.FileID, e.EventType, e.Timestamp)
	return err
}

// Events returns a session's events in time order.
func (r *SessionsRepo) Events(ctx context.Context, sessionID string) ([]*models.SessionEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, file_id, event_type, timestamp
		 FROM session_events WHERE session_id = ? ORDER BY timestamp`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.SessionEvent
	for rows.Next() {
		var e models.SessionEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.FileID, &e.EventType, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
