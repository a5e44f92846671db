package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation detecta el código 23505 de Postgres.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Open abre Postgres a través del driver database/sql de pgx.
func Open(dsn string) (*sql.DB, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return sqlDB, nil
}

// OutboxRepoPostgres implementa sharedDomain.OutboxStore.
type OutboxRepoPostgres struct {
	db  *sql.DB
	now func() time.Time
}

func NewOutboxRepoPostgres(sqlDB *sql.DB) *OutboxRepoPostgres {
	return &OutboxRepoPostgres{db: sqlDB, now: time.Now}
}

func InitOutbox(ctx context.Context, sqlDB *sql.DB) error {
	_, err := sqlDB.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS outbox (
            seq BIGSERIAL PRIMARY KEY,
            id UUID NOT NULL UNIQUE,
            idempotency_key UUID NOT NULL UNIQUE,
            aggregate_type TEXT NOT NULL,
            aggregate_id TEXT NOT NULL,
            event_type TEXT NOT NULL,
            payload JSONB NOT NULL,
            status TEXT NOT NULL DEFAULT 'PENDING',
            attempts INT NOT NULL DEFAULT 0,
            available_at TIMESTAMPTZ NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            published_at TIMESTAMPTZ
        )
    `)
	if err != nil {
		return err
	}
	if _, err = sqlDB.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (status, available_at, created_at)`); err != nil {
		return err
	}
	_, err = sqlDB.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox (aggregate_type, aggregate_id, status, seq)`)
	return err
}

const outboxColumns = `id, idempotency_key, aggregate_type, aggregate_id, event_type, payload, status, attempts, created_at, published_at`

func (r *OutboxRepoPostgres) Save(ctx context.Context, msg sharedDomain.OutboxMessage) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO outbox (id, idempotency_key, aggregate_type, aggregate_id, event_type, payload, status, attempts, available_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		msg.ID, msg.IdempotencyKey, msg.AggregateType, msg.AggregateID, msg.EventType,
		msg.Payload, string(sharedDomain.OutboxPending), msg.Attempts, msg.CreatedAt.UTC(),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", sharedDomain.ErrDuplicateOutboxMessage, msg.IdempotencyKey)
		}
		return fmt.Errorf("failed to insert outbox message: %w", err)
	}
	return nil
}

func (r *OutboxRepoPostgres) FindPending(ctx context.Context, limit int) ([]sharedDomain.OutboxMessage, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox
		 WHERE status = $1
		 ORDER BY created_at, seq
		 LIMIT $2`, string(sharedDomain.OutboxPending), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOutboxRows(rows)
}

// ClaimPending usa FOR UPDATE SKIP LOCKED: dos relays nunca se bloquean ni comparten filas.
// Sólo se reserva la fila pendiente más antigua de cada agregado.
func (r *OutboxRepoPostgres) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]sharedDomain.OutboxMessage, error) {
	now := r.now().UTC()
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`WITH claimed AS (
		     SELECT c.seq FROM outbox c
		     WHERE c.status = $1 AND c.available_at <= $2
		       AND NOT EXISTS (
		           SELECT 1 FROM outbox prev
		           WHERE prev.aggregate_type = c.aggregate_type AND prev.aggregate_id = c.aggregate_id
		             AND prev.status = $1 AND prev.seq < c.seq
		       )
		     ORDER BY c.created_at, c.seq
		     LIMIT $3
		     FOR UPDATE SKIP LOCKED
		 )
		 UPDATE outbox o SET available_at = $4
		 FROM claimed c
		 WHERE o.seq = c.seq
		 RETURNING o.id, o.idempotency_key, o.aggregate_type, o.aggregate_id, o.event_type, o.payload,
		           o.status, o.attempts, o.created_at, o.published_at`,
		string(sharedDomain.OutboxPending), now, limit, now.Add(lease),
	)
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	defer rows.Close()

	msgs, err := scanOutboxRows(rows)
	if err != nil {
		return nil, err
	}
	sortByCreation(msgs)
	return msgs, nil
}

func (r *OutboxRepoPostgres) MarkPublished(ctx context.Context, id uuid.UUID) error {
	conn := db.Conn(ctx, r.db)
	res, err := conn.ExecContext(ctx,
		`UPDATE outbox SET status = $1, published_at = $2 WHERE id = $3 AND status = $4`,
		string(sharedDomain.OutboxPublished), r.now().UTC(), id, string(sharedDomain.OutboxPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message %s as published: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return ensureExists(ctx, conn, id)
}

func (r *OutboxRepoPostgres) MarkFailed(ctx context.Context, id uuid.UUID, retryAt time.Time) error {
	conn := db.Conn(ctx, r.db)
	res, err := conn.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, available_at = $1 WHERE id = $2 AND status = $3`,
		retryAt.UTC(), id, string(sharedDomain.OutboxPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message %s as failed: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return ensureExists(ctx, conn, id)
}

func (r *OutboxRepoPostgres) Stats(ctx context.Context) (sharedDomain.OutboxStats, error) {
	var (
		stats  sharedDomain.OutboxStats
		oldest sql.NullTime
	)
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT
		     COUNT(*) FILTER (WHERE status = $1),
		     COUNT(*) FILTER (WHERE status = $2),
		     MIN(created_at) FILTER (WHERE status = $1)
		 FROM outbox`,
		string(sharedDomain.OutboxPending), string(sharedDomain.OutboxPublished),
	).Scan(&stats.Pending, &stats.Published, &oldest)
	if err != nil {
		return stats, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		t := oldest.Time.UTC()
		stats.OldestPending = &t
	}
	return stats, nil
}

func ensureExists(ctx context.Context, conn db.Executor, id uuid.UUID) error {
	var one int
	err := conn.QueryRowContext(ctx, `SELECT 1 FROM outbox WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", sharedDomain.ErrOutboxNotFound, id)
	}
	return err
}

func scanOutboxRows(rows *sql.Rows) ([]sharedDomain.OutboxMessage, error) {
	var msgs []sharedDomain.OutboxMessage
	for rows.Next() {
		var (
			msg       sharedDomain.OutboxMessage
			status    string
			payload   []byte // JSONB
			published sql.NullTime
		)
		if err := rows.Scan(&msg.ID, &msg.IdempotencyKey, &msg.AggregateType, &msg.AggregateID, &msg.EventType,
			&payload, &status, &msg.Attempts, &msg.CreatedAt, &published); err != nil {
			return nil, err
		}
		msg.Payload = payload
		msg.Status = sharedDomain.OutboxStatus(status)
		msg.CreatedAt = msg.CreatedAt.UTC()
		if published.Valid {
			t := published.Time.UTC()
			msg.PublishedAt = &t
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func sortByCreation(msgs []sharedDomain.OutboxMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// Verificación en tiempo de compilación.
var _ sharedDomain.OutboxStore = (*OutboxRepoPostgres)(nil)
