package records

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/session-coordinator/internal/domain"
)

// PgStore writes visit artifacts into the portal's Postgres. ON CONFLICT DO
// NOTHING keeps retried flushes idempotent.
type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (s *PgStore) PersistChatTranscript(ctx context.Context, roomID string, entries []domain.LogEntry) error {
	return s.insertEntries(ctx, `
		INSERT INTO visit_chat_messages (entry_id, room_id, author_id, seq, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entry_id) DO NOTHING`, roomID, entries, false)
}

func (s *PgStore) PersistFinalTranscript(ctx context.Context, roomID string, entries []domain.LogEntry) error {
	return s.insertEntries(ctx, `
		INSERT INTO visit_transcript_segments (entry_id, room_id, author_id, start_ms, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entry_id) DO NOTHING`, roomID, entries, true)
}

func (s *PgStore) insertEntries(ctx context.Context, query, roomID string, entries []domain.LogEntry, byStart bool) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		if byStart {
			batch.Queue(query, e.ID, roomID, e.AuthorID, e.StartMs, e.Payload, e.Created)
		} else {
			batch.Queue(query, e.ID, roomID, e.AuthorID, e.Seq, e.Payload, e.Created)
		}
	}
	br := s.db.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert log entry: %w", err)
		}
	}
	return nil
}

func (s *PgStore) PersistRecordingMetadata(ctx context.Context, roomID string, rec domain.RecordingSession) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO visit_recordings (recording_id, room_id, quality, started_at, stopped_at, paused_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (recording_id) DO NOTHING`,
		rec.RecordingID, roomID, string(rec.Quality), rec.StartedAt, rec.StoppedAt, rec.PausedFor.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert recording metadata: %w", err)
	}
	return nil
}
