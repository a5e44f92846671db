package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/davicafu/hexagonal-orders/internal/order/domain"
)

// EventLogRepo guarda el histórico de eventos de pedidos para analítica.
type EventLogRepo struct {
	db *sql.DB
}

func NewEventLogRepo(addr string, dbName string) (*EventLogRepo, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}
	return &EventLogRepo{db: conn}, nil
}

// LogBatch inserta el lote en una sola transacción: ClickHouse rinde mejor con inserciones en bloque.
func (r *EventLogRepo) LogBatch(ctx context.Context, records []domain.OrderEventRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO order_events_log (event_id, event_name, order_number, occurred_at, logged_at)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	loggedAt := time.Now().UTC()
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.EventID, rec.EventName, rec.OrderNumber, rec.OccurredAt, loggedAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to exec statement for event %s: %w", rec.EventID, err)
		}
	}
	return tx.Commit()
}

// CountByEvent devuelve cuántos eventos de cada tipo hubo en [start, end).
func (r *EventLogRepo) CountByEvent(ctx context.Context, start, end time.Time) (map[string]uint64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_name, count() AS total
		FROM order_events_log
		WHERE occurred_at >= ? AND occurred_at < ?
		GROUP BY event_name
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var (
			name  string
			total uint64
		)
		if err := rows.Scan(&name, &total); err != nil {
			return nil, err
		}
		counts[name] = total
	}
	return counts, rows.Err()
}

// InitSchema crea la tabla si no existe. Particionada por mes, ordenada por pedido.
func (r *EventLogRepo) InitSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS order_events_log (
			event_id     UUID,
			event_name   LowCardinality(String),
			order_number String,
			occurred_at  DateTime64(3),
			logged_at    DateTime64(3)
		) ENGINE = ReplacingMergeTree(logged_at)
		PARTITION BY toYYYYMM(occurred_at)
		ORDER BY (order_number, occurred_at, event_id)
	`)
	return err
}

func (r *EventLogRepo) Close() error {
	return r.db.Close()
}

var _ domain.OrderEventLog = (*EventLogRepo)(nil)
