package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cwrk-planet/command-relay/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createAuditTable = `
	CREATE TABLE IF NOT EXISTS room_audit (
		id         uuid PRIMARY KEY,
		room_code  text        NOT NULL,
		kind       text        NOT NULL,
		pending    integer     NOT NULL DEFAULT 0,
		created_at timestamptz NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS room_audit_room_code_idx ON room_audit (room_code, created_at);
`

// AuditRepository пишет только жизненный цикл комнат; содержимое команд не сохраняется.
type AuditRepository struct {
	db *pgxpool.Pool
}

func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createAuditTable); err != nil {
		return fmt.Errorf("create room_audit: %w", err)
	}
	return nil
}

func (r *AuditRepository) Record(ctx context.Context, ev domain.AuditEvent) error {
	id := uuid.New()
	if ev.ID != "" {
		parsed, err := uuid.Parse(ev.ID)
		if err != nil {
			return fmt.Errorf("audit event id: %w", err)
		}
		id = parsed
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO room_audit (id, room_code, kind, pending, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, ev.RoomCode, ev.Kind, ev.Pending, ev.At)
	return err
}

// History returns the audit trail of one room, oldest first.
func (r *AuditRepository) History(ctx context.Context, roomCode string, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT id::text, room_code, kind, pending, created_at
		FROM room_audit
		WHERE room_code = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, roomCode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var ev domain.AuditEvent
		if err := rows.Scan(&ev.ID, &ev.RoomCode, &ev.Kind, &ev.Pending, &ev.At); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
