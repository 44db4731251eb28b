package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Krimson/fetal-monitory/extractor/internal/features"
	"github.com/Krimson/fetal-monitory/extractor/internal/session"
)

//go:embed schema.sql
var schemaSQL string

// PostgresRepository реализует Repository для PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// NewPostgresRepositoryFromDSN создает репозиторий из строки подключения
func NewPostgresRepositoryFromDSN(dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Настройки пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// EnsureSchema создает таблицы архива, если их нет
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveArchive сохраняет сессию одной транзакцией. Повторное сохранение
// перезаписывает метрики, события и ряды.
func (r *PostgresRepository) SaveArchive(ctx context.Context, sessionID string, archive *Archive) error {
	if archive.Metrics == nil {
		return fmt.Errorf("archive for session %s has no metrics", sessionID)
	}
	m := archive.Metrics

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, source, status, prediction, data_points, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source,
			status = EXCLUDED.status,
			prediction = EXCLUDED.prediction,
			data_points = EXCLUDED.data_points,
			saved_at = EXCLUDED.saved_at
	`, sessionID, archive.Source, string(m.Status), m.Prediction, m.DataPoints, archive.SavedAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_metrics (
			session_id, stv, ltv, baseline_heart_rate,
			total_accelerations, total_decelerations, late_decelerations, late_deceleration_ratio,
			total_contractions, accel_decel_ratio, stv_trend, bpm_trend,
			data_points, time_span_sec, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (session_id) DO UPDATE SET
			stv = EXCLUDED.stv,
			ltv = EXCLUDED.ltv,
			baseline_heart_rate = EXCLUDED.baseline_heart_rate,
			total_accelerations = EXCLUDED.total_accelerations,
			total_decelerations = EXCLUDED.total_decelerations,
			late_decelerations = EXCLUDED.late_decelerations,
			late_deceleration_ratio = EXCLUDED.late_deceleration_ratio,
			total_contractions = EXCLUDED.total_contractions,
			accel_decel_ratio = EXCLUDED.accel_decel_ratio,
			stv_trend = EXCLUDED.stv_trend,
			bpm_trend = EXCLUDED.bpm_trend,
			data_points = EXCLUDED.data_points,
			time_span_sec = EXCLUDED.time_span_sec,
			updated_at = EXCLUDED.updated_at
	`,
		sessionID,
		m.STV,
		m.LTV,
		m.BaselineHeartRate,
		m.TotalAccelerations,
		m.TotalDecelerations,
		m.LateDecelerations,
		m.LateDecelerationRatio,
		m.TotalContractions,
		m.AccelDecelRatio,
		m.STVTrend,
		m.BPMTrend,
		m.DataPoints,
		m.TimeSpanSec,
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save metrics: %w", err)
	}

	for _, q := range []string{
		"DELETE FROM session_events WHERE session_id = $1",
		"DELETE FROM session_timeseries WHERE session_id = $1",
	} {
		if _, err := tx.ExecContext(ctx, q, sessionID); err != nil {
			return fmt.Errorf("failed to clear previous archive: %w", err)
		}
	}

	if err := insertEvents(ctx, tx, sessionID, archive.Events); err != nil {
		return err
	}
	if err := insertTimeSeries(ctx, tx, sessionID, archive.TimeSeries); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, sessionID string, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO session_events (session_id, event_type, start_time, end_time, duration, amplitude, is_late, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		created := e.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, sessionID, string(e.Type), e.StartTime, e.EndTime, e.Duration, e.Amplitude, e.IsLate, created); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	return nil
}

func insertTimeSeries(ctx context.Context, tx *sql.Tx, sessionID string, points []TimeSeriesPoint) error {
	if len(points) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO session_timeseries (session_id, metric_type, time_index, value, window_duration)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, sessionID, string(p.Type), p.TimeIndex, p.Value, p.WindowDuration); err != nil {
			return fmt.Errorf("failed to insert time series point: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) GetArchive(ctx context.Context, sessionID string) (*Archive, error) {
	archive := &Archive{Metrics: &Metrics{SessionID: sessionID}}
	m := archive.Metrics

	var status string
	err := r.db.QueryRowContext(ctx, `
		SELECT s.source, s.status, s.prediction, s.saved_at,
			m.stv, m.ltv, m.baseline_heart_rate,
			m.total_accelerations, m.total_decelerations, m.late_decelerations, m.late_deceleration_ratio,
			m.total_contractions, m.accel_decel_ratio, m.stv_trend, m.bpm_trend,
			m.data_points, m.time_span_sec, m.updated_at
		FROM sessions s
		JOIN session_metrics m ON m.session_id = s.id
		WHERE s.id = $1
	`, sessionID).Scan(
		&archive.Source,
		&status,
		&m.Prediction,
		&archive.SavedAt,
		&m.STV,
		&m.LTV,
		&m.BaselineHeartRate,
		&m.TotalAccelerations,
		&m.TotalDecelerations,
		&m.LateDecelerations,
		&m.LateDecelerationRatio,
		&m.TotalContractions,
		&m.AccelDecelRatio,
		&m.STVTrend,
		&m.BPMTrend,
		&m.DataPoints,
		&m.TimeSpanSec,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("archive %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get archive: %w", err)
	}
	m.Status = session.Status(status)

	if archive.Events, err = r.getEvents(ctx, sessionID); err != nil {
		return nil, err
	}
	if archive.TimeSeries, err = r.getTimeSeries(ctx, sessionID); err != nil {
		return nil, err
	}
	return archive, nil
}

func (r *PostgresRepository) getEvents(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, start_time, end_time, duration, amplitude, is_late, created_at
		FROM session_events
		WHERE session_id = $1
		ORDER BY start_time ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e := Event{SessionID: sessionID}
		var kind string
		if err := rows.Scan(&e.ID, &kind, &e.StartTime, &e.EndTime, &e.Duration, &e.Amplitude, &e.IsLate, &e.CreatedAt); err != nil {
			continue // Пропускаем поврежденные записи
		}
		e.Type = features.EventKind(kind)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *PostgresRepository) getTimeSeries(ctx context.Context, sessionID string) ([]TimeSeriesPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT metric_type, time_index, value, window_duration
		FROM session_timeseries
		WHERE session_id = $1
		ORDER BY metric_type, time_index ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get time series: %w", err)
	}
	defer rows.Close()

	var points []TimeSeriesPoint
	for rows.Next() {
		p := TimeSeriesPoint{SessionID: sessionID}
		var kind string
		if err := rows.Scan(&kind, &p.TimeIndex, &p.Value, &p.WindowDuration); err != nil {
			continue
		}
		p.Type = TimeSeriesType(kind)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (r *PostgresRepository) ListSessions(ctx context.Context, limit, offset int) ([]ArchivedSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source, prediction, data_points, saved_at
		FROM sessions
		ORDER BY saved_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []ArchivedSession
	for rows.Next() {
		var s ArchivedSession
		if err := rows.Scan(&s.ID, &s.Source, &s.Prediction, &s.DataPoints, &s.SavedAt); err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *PostgresRepository) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	queries := []string{
		"DELETE FROM session_timeseries WHERE session_id = $1",
		"DELETE FROM session_events WHERE session_id = $1",
		"DELETE FROM session_metrics WHERE session_id = $1",
		"DELETE FROM sessions WHERE id = $1",
	}
	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query, sessionID); err != nil {
			return fmt.Errorf("failed to delete session data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
