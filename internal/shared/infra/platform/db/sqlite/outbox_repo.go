package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db"
)

// OutboxRepoSQLite implementa OutboxWriter y OutboxRepository sobre SQLite.
// Los instantes se guardan como UnixNano (INTEGER) para poder compararlos y ordenarlos.
type OutboxRepoSQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewOutboxRepoSQLite(sqlDB *sql.DB) *OutboxRepoSQLite {
	return &OutboxRepoSQLite{db: sqlDB, now: time.Now}
}

// InitOutbox crea la tabla outbox si no existe.
func InitOutbox(sqlDB *sql.DB) error {
	_, err := sqlDB.Exec(`
        CREATE TABLE IF NOT EXISTS outbox (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            idempotency_key TEXT NOT NULL UNIQUE,
            aggregate_type TEXT NOT NULL,
            aggregate_id TEXT NOT NULL,
            event_type TEXT NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'PENDING',
            attempts INTEGER NOT NULL DEFAULT 0,
            available_at INTEGER NOT NULL,
            created_at INTEGER NOT NULL,
            published_at INTEGER
        )
    `)
	if err != nil {
		return err
	}
	if _, err = sqlDB.Exec(`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (status, available_at, created_at)`); err != nil {
		return err
	}
	_, err = sqlDB.Exec(`CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox (aggregate_type, aggregate_id, status, seq)`)
	return err
}

const outboxColumns = `seq, id, idempotency_key, aggregate_type, aggregate_id, event_type, payload, status, attempts, created_at, published_at`

// Save inserta la fila usando la transacción de ctx. Nunca actualiza.
func (r *OutboxRepoSQLite) Save(ctx context.Context, msg sharedDomain.OutboxMessage) error {
	created := msg.CreatedAt.UTC().UnixNano()
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO outbox (id, idempotency_key, aggregate_type, aggregate_id, event_type, payload, status, attempts, available_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID.String(), msg.IdempotencyKey.String(), msg.AggregateType, msg.AggregateID, msg.EventType,
		string(msg.Payload), string(sharedDomain.OutboxPending), msg.Attempts, created, created,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", sharedDomain.ErrDuplicateOutboxMessage, msg.IdempotencyKey)
		}
		return fmt.Errorf("failed to insert outbox message: %w", err)
	}
	return nil
}

// FindPending devuelve las filas PENDING más antiguas sin reservarlas.
func (r *OutboxRepoSQLite) FindPending(ctx context.Context, limit int) ([]sharedDomain.OutboxMessage, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox
		 WHERE status = ?
		 ORDER BY created_at, seq
		 LIMIT ?`, string(sharedDomain.OutboxPending), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, _, err := scanOutboxRows(rows)
	return msgs, err
}

// ClaimPending reserva en una sola sentencia las filas disponibles, moviendo available_at al fin del lease.
// Sólo se reserva la fila pendiente más antigua de cada agregado: las siguientes esperan a que se publique.
func (r *OutboxRepoSQLite) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]sharedDomain.OutboxMessage, error) {
	now := r.now().UTC()
	pending := string(sharedDomain.OutboxPending)
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`UPDATE outbox SET available_at = ?
		 WHERE seq IN (
		     SELECT c.seq FROM outbox c
		     WHERE c.status = ? AND c.available_at <= ?
		       AND NOT EXISTS (
		           SELECT 1 FROM outbox prev
		           WHERE prev.aggregate_type = c.aggregate_type AND prev.aggregate_id = c.aggregate_id
		             AND prev.status = ? AND prev.seq < c.seq
		       )
		     ORDER BY c.created_at, c.seq
		     LIMIT ?
		 )
		 RETURNING `+outboxColumns,
		now.Add(lease).UnixNano(), pending, now.UnixNano(), pending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	defer rows.Close()

	msgs, seqs, err := scanOutboxRows(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING no garantiza orden
	idx := make([]int, len(msgs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ma, mb := msgs[idx[a]], msgs[idx[b]]
		if !ma.CreatedAt.Equal(mb.CreatedAt) {
			return ma.CreatedAt.Before(mb.CreatedAt)
		}
		return seqs[idx[a]] < seqs[idx[b]]
	})
	ordered := make([]sharedDomain.OutboxMessage, 0, len(msgs))
	for _, i := range idx {
		ordered = append(ordered, msgs[i])
	}
	return ordered, nil
}

// MarkPublished es idempotente: una fila ya PUBLISHED no se toca.
func (r *OutboxRepoSQLite) MarkPublished(ctx context.Context, id uuid.UUID) error {
	conn := db.Conn(ctx, r.db)
	res, err := conn.ExecContext(ctx,
		`UPDATE outbox SET status = ?, published_at = ? WHERE id = ? AND status = ?`,
		string(sharedDomain.OutboxPublished), r.now().UTC().UnixNano(), id.String(), string(sharedDomain.OutboxPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message %s as published: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return r.ensureExists(ctx, conn, id)
}

// MarkFailed suma un intento y reprograma la fila. Nunca devuelve una fila PUBLISHED a PENDING.
func (r *OutboxRepoSQLite) MarkFailed(ctx context.Context, id uuid.UUID, retryAt time.Time) error {
	conn := db.Conn(ctx, r.db)
	res, err := conn.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, available_at = ? WHERE id = ? AND status = ?`,
		retryAt.UTC().UnixNano(), id.String(), string(sharedDomain.OutboxPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message %s as failed: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return r.ensureExists(ctx, conn, id)
}

func (r *OutboxRepoSQLite) Stats(ctx context.Context) (sharedDomain.OutboxStats, error) {
	var (
		stats  sharedDomain.OutboxStats
		oldest sql.NullInt64
	)
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT
		     COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		     COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		     MIN(CASE WHEN status = ? THEN created_at END)
		 FROM outbox`,
		string(sharedDomain.OutboxPending), string(sharedDomain.OutboxPublished), string(sharedDomain.OutboxPending),
	).Scan(&stats.Pending, &stats.Published, &oldest)
	if err != nil {
		return stats, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		t := time.Unix(0, oldest.Int64).UTC()
		stats.OldestPending = &t
	}
	return stats, nil
}

func (r *OutboxRepoSQLite) ensureExists(ctx context.Context, conn db.Executor, id uuid.UUID) error {
	var one int
	err := conn.QueryRowContext(ctx, `SELECT 1 FROM outbox WHERE id = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", sharedDomain.ErrOutboxNotFound, id)
	}
	return err
}

func scanOutboxRows(rows *sql.Rows) ([]sharedDomain.OutboxMessage, []int64, error) {
	var (
		msgs []sharedDomain.OutboxMessage
		seqs []int64
	)
	for rows.Next() {
		var (
			seq                int64
			idStr, keyStr      string
			status, payloadStr string
			created            int64
			published          sql.NullInt64
			msg                sharedDomain.OutboxMessage
		)
		if err := rows.Scan(&seq, &idStr, &keyStr, &msg.AggregateType, &msg.AggregateID, &msg.EventType,
			&payloadStr, &status, &msg.Attempts, &created, &published); err != nil {
			return nil, nil, err
		}

		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid UUID in outbox row: %w", err)
		}
		key, err := uuid.Parse(keyStr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid idempotency key in outbox row %s: %w", id, err)
		}

		msg.ID = id
		msg.IdempotencyKey = key
		msg.Payload = []byte(payloadStr)
		msg.Status = sharedDomain.OutboxStatus(status)
		msg.CreatedAt = time.Unix(0, created).UTC()
		if published.Valid {
			t := time.Unix(0, published.Int64).UTC()
			msg.PublishedAt = &t
		}

		msgs = append(msgs, msg)
		seqs = append(seqs, seq)
	}
	return msgs, seqs, rows.Err()
}

// Verificación en tiempo de compilación.
var _ sharedDomain.OutboxStore = (*OutboxRepoSQLite)(nil)
