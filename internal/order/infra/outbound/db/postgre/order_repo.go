package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Driver de PostgreSQL

	"github.com/davicafu/hexagonal-orders/internal/order/domain"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db"
	sharedPostgres "github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db/postgres"
)

// OrderRepoPostgres guarda las líneas del pedido como JSONB junto a la cabecera.
type OrderRepoPostgres struct {
	db *sql.DB
}

func NewOrderRepoPostgres(sqlDB *sql.DB) *OrderRepoPostgres {
	return &OrderRepoPostgres{db: sqlDB}
}

// InitPostgres crea la tabla de pedidos y la outbox.
func InitPostgres(ctx context.Context, sqlDB *sql.DB) error {
	_, err := sqlDB.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS orders (
            id BIGSERIAL PRIMARY KEY,
            order_number TEXT NOT NULL UNIQUE,
            customer_id TEXT NOT NULL,
            order_date TIMESTAMPTZ NOT NULL,
            items JSONB NOT NULL,
            status TEXT NOT NULL,
            version INT NOT NULL DEFAULT 1
        )
    `)
	if err != nil {
		return err
	}
	return sharedPostgres.InitOutbox(ctx, sqlDB)
}

// ------------------ CRUD ------------------

func (r *OrderRepoPostgres) Create(ctx context.Context, o *domain.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}

	var id int64
	err = db.Conn(ctx, r.db).QueryRowContext(ctx,
		`INSERT INTO orders (order_number, customer_id, order_date, items, status, version)
		 VALUES ($1, $2, $3, $4, $5, 1) RETURNING id`,
		o.Number.String(), o.CustomerID, o.OrderDate.UTC(), items, string(o.Status),
	).Scan(&id)
	if err != nil {
		if sharedPostgres.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrOrderAlreadyExists, o.Number)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	o.ID = id
	o.Version = 1
	return nil
}

func (r *OrderRepoPostgres) Update(ctx context.Context, o *domain.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}

	conn := db.Conn(ctx, r.db)
	res, err := conn.ExecContext(ctx,
		`UPDATE orders SET customer_id=$1, order_date=$2, items=$3, status=$4, version=version+1
		 WHERE id=$5 AND version=$6`,
		o.CustomerID, o.OrderDate.UTC(), items, string(o.Status), o.ID, o.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return missingOrStale(ctx, conn, o)
	}

	o.Version++
	return nil
}

func (r *OrderRepoPostgres) Delete(ctx context.Context, o *domain.Order) error {
	conn := db.Conn(ctx, r.db)
	res, err := conn.ExecContext(ctx, `DELETE FROM orders WHERE id=$1 AND version=$2`, o.ID, o.Version)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return missingOrStale(ctx, conn, o)
	}
	return nil
}

func (r *OrderRepoPostgres) GetByNumber(ctx context.Context, number domain.OrderNumber) (*domain.Order, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, order_number, customer_id, order_date, items, status, version FROM orders WHERE order_number=$1`,
		number.String(),
	)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, number)
	}
	return o, err
}

func (r *OrderRepoPostgres) List(ctx context.Context, f domain.OrderFilter) ([]*domain.Order, error) {
	var (
		args       []interface{}
		conditions []string
	)
	if f.Status != nil {
		args = append(args, string(*f.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.CustomerID != nil {
		args = append(args, *f.CustomerID)
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	query := fmt.Sprintf(
		`SELECT id, order_number, customer_id, order_date, items, status, version
		 FROM orders %s ORDER BY id LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ------------------ Helpers ------------------

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var (
		id               int64
		number, customer string
		orderDate        time.Time
		itemsJSON        []byte
		status           string
		version          int
	)
	if err := s.Scan(&id, &number, &customer, &orderDate, &itemsJSON, &status, &version); err != nil {
		return nil, err
	}

	items := []domain.OrderItem{}
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return nil, fmt.Errorf("invalid items JSON in order %s: %w", number, err)
	}

	return domain.Rehydrate(id, domain.OrderNumber(number), customer, orderDate.UTC(), items, domain.OrderStatus(status), version)
}

func missingOrStale(ctx context.Context, conn db.Executor, o *domain.Order) error {
	var version int
	err := conn.QueryRowContext(ctx, `SELECT version FROM orders WHERE id=$1`, o.ID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, o.Number)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s (expected version %d, found %d)", domain.ErrConcurrentModification, o.Number, o.Version, version)
}

var _ domain.OrderRepository = (*OrderRepoPostgres)(nil)
