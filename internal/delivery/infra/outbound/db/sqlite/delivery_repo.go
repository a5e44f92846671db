package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/davicafu/hexagonal-orders/internal/delivery/domain"
)

type DeliveryRepoSQLite struct {
	db *sql.DB
}

func NewDeliveryRepoSQLite(sqlDB *sql.DB) *DeliveryRepoSQLite {
	return &DeliveryRepoSQLite{db: sqlDB}
}

// InitSQLite crea la tabla de entregas. order_number es UNIQUE: es la clave de idempotencia.
func InitSQLite(sqlDB *sql.DB) error {
	_, err := sqlDB.Exec(`
        CREATE TABLE IF NOT EXISTS deliveries (
            id TEXT PRIMARY KEY,
            order_number TEXT NOT NULL UNIQUE,
            status TEXT NOT NULL,
            order_confirmed_at INTEGER NOT NULL,
            created_at INTEGER NOT NULL
        )
    `)
	return err
}

func (r *DeliveryRepoSQLite) CreateIfAbsent(ctx context.Context, d *domain.Delivery) (*domain.Delivery, bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, order_number, status, order_confirmed_at, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(order_number) DO NOTHING`,
		d.ID.String(), d.OrderNumber, string(d.Status), d.OrderConfirmedAt.UTC().UnixNano(), d.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert delivery: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return d, true, nil
	}

	existing, err := r.GetByOrderNumber(ctx, d.OrderNumber)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *DeliveryRepoSQLite) GetByOrderNumber(ctx context.Context, orderNumber string) (*domain.Delivery, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, order_number, status, order_confirmed_at, created_at FROM deliveries WHERE order_number = ?`,
		orderNumber,
	)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrDeliveryNotFound, orderNumber)
	}
	return d, err
}

func (r *DeliveryRepoSQLite) List(ctx context.Context, limit, offset int) ([]*domain.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_number, status, order_confirmed_at, created_at
		 FROM deliveries ORDER BY created_at, order_number LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*domain.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDelivery(s scanner) (*domain.Delivery, error) {
	var (
		idStr, status          string
		d                      domain.Delivery
		confirmedAt, createdAt int64
	)
	if err := s.Scan(&idStr, &d.OrderNumber, &status, &confirmedAt, &createdAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID in delivery %s: %w", d.OrderNumber, err)
	}
	d.ID = id
	d.Status = domain.DeliveryStatus(status)
	d.OrderConfirmedAt = time.Unix(0, confirmedAt).UTC()
	d.CreatedAt = time.Unix(0, createdAt).UTC()
	return &d, nil
}

var _ domain.DeliveryRepository = (*DeliveryRepoSQLite)(nil)
