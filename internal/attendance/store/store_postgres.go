package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"presence/internal/attendance/models"
	"presence/internal/platform/postgres"
	id "presence/pkg/domain"
	"presence/pkg/platform/sentinel"
)

// PostgresStore persists sessions in attendance_sessions. The partial unique
// index attendance_sessions_one_open_idx makes PutIfAbsent atomic.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `session_id, employee_id, day_key, check_in_time, check_out_time,
	check_in_lat, check_in_lng, check_out_lat, check_out_lng,
	verification_method, late, device`

func (s *PostgresStore) PutIfAbsent(ctx context.Context, session *models.Session) error {
	inLat, inLng := locationArgs(session.CheckInLocation)
	outLat, outLng := locationArgs(session.CheckOutLocation)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT DO NOTHING
	`,
		uuid.UUID(session.ID), session.EmployeeID.String(), session.DayKey.String(),
		session.CheckInTime, nullTime(session.CheckOutTime),
		inLat, inLng, outLat, outLng,
		string(session.VerificationMethod), session.Late, session.Device,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) UpdateIfOpen(ctx context.Context, session *models.Session) error {
	outLat, outLng := locationArgs(session.CheckOutLocation)
	res, err := s.db.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET check_out_time = $2, check_out_lat = $3, check_out_lng = $4
		WHERE session_id = $1 AND check_out_time IS NULL
	`, uuid.UUID(session.ID), nullTime(session.CheckOutTime), outLat, outLng)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return s.resolveMiss(ctx, res, session.ID)
}

func (s *PostgresStore) DeleteIfOpen(ctx context.Context, sessionID id.SessionID) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM attendance_sessions
		WHERE session_id = $1 AND check_out_time IS NULL
	`, uuid.UUID(sessionID))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return s.resolveMiss(ctx, res, sessionID)
}

// resolveMiss turns a zero-row conditional write into ErrNotFound or
// ErrConflict depending on whether the row still exists.
func (s *PostgresStore) resolveMiss(ctx context.Context, res sql.Result, sessionID id.SessionID) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}
	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM attendance_sessions WHERE session_id = $1)`,
		uuid.UUID(sessionID),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

func (s *PostgresStore) QueryByEmployeeAndDay(ctx context.Context, employeeID id.EmployeeID, day id.DayKey) ([]*models.Session, error) {
	return s.query(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE employee_id = $1 AND day_key = $2
		ORDER BY check_in_time, session_id
	`, employeeID.String(), day.String())
}

func (s *PostgresStore) ListOpenByDay(ctx context.Context, day id.DayKey) ([]*models.Session, error) {
	return s.query(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE day_key = $1 AND check_out_time IS NULL
		ORDER BY employee_id, check_in_time, session_id
	`, day.String())
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func scanSession(rows *sql.Rows) (*models.Session, error) {
	var (
		session                      models.Session
		sessionID                    uuid.UUID
		employeeID, dayKey, method   string
		checkOut                     sql.NullTime
		inLat, inLng, outLat, outLng sql.NullFloat64
	)
	err := rows.Scan(&sessionID, &employeeID, &dayKey, &session.CheckInTime, &checkOut,
		&inLat, &inLng, &outLat, &outLng,
		&method, &session.Late, &session.Device)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.ID = id.SessionID(sessionID)
	session.EmployeeID = id.EmployeeID(employeeID)
	session.DayKey = id.DayKey(dayKey)
	session.VerificationMethod = models.VerificationMethod(method)
	if checkOut.Valid {
		t := checkOut.Time
		session.CheckOutTime = &t
	}
	session.CheckInLocation = locationFrom(inLat, inLng)
	session.CheckOutLocation = locationFrom(outLat, outLng)
	return &session, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func locationArgs(loc *models.Location) (sql.NullFloat64, sql.NullFloat64) {
	if loc == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: loc.Latitude, Valid: true}, sql.NullFloat64{Float64: loc.Longitude, Valid: true}
}

func locationFrom(lat, lng sql.NullFloat64) *models.Location {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &models.Location{Latitude: lat.Float64, Longitude: lng.Float64}
}
