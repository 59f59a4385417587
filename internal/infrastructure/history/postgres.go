// Package history журнал обнаружений в PostgreSQL.
package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deepfake-detector/client/internal/domain"
)

// DefaultLimit размер выборки Recent по умолчанию
const DefaultLimit = 20

// Store реализует HistoryStore поверх пула соединений pgx
type Store struct {
	pool *pgxpool.Pool
}

// New подключается к базе и создаёт схему, если её нет
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("подключение к базе истории: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("не удалось создать схему истории: %w", err)
	}
	return &Store{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS detections (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			source TEXT NOT NULL,
			is_deepfake BOOLEAN NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			faces_detected INT NOT NULL,
			processing_time_ms DOUBLE PRECISION NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS detections_recorded_at_idx ON detections (recorded_at DESC);
	`)
	return err
}

// Close закрывает пул
func (s *Store) Close() {
	s.pool.Close()
}

// Record сохраняет результат обнаружения
func (s *Store) Record(ctx context.Context, rec domain.DetectionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO detections (session_id, source, is_deepfake, confidence, faces_detected, processing_time_ms, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.SessionID, rec.Source, rec.IsDeepfake, rec.Confidence, rec.FacesDetected, rec.ProcessingTimeMs, rec.RecordedAt)
	return err
}

// Recent возвращает последние записи, новые первыми
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.DetectionRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, source, is_deepfake, confidence, faces_detected, processing_time_ms, recorded_at
		FROM detections
		ORDER BY recorded_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DetectionRecord, error) {
		var r domain.DetectionRecord
		err := row.Scan(&r.ID, &r.SessionID, &r.Source, &r.IsDeepfake, &r.Confidence,
			&r.FacesDetected, &r.ProcessingTimeMs, &r.RecordedAt)
		return r, err
	})
}

// Stats агрегаты по журналу: всего записей и из них deepfake
func (s *Store) Stats(ctx context.Context) (total, deepfakes int64, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_deepfake) FROM detections
	`).Scan(&total, &deepfakes)
	return total, deepfakes, err
}
