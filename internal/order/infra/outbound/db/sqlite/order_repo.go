package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/davicafu/hexagonal-orders/internal/order/domain"
	"github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db"
	sharedSQLite "github.com/davicafu/hexagonal-orders/internal/shared/infra/platform/db/sqlite"
)

type OrderRepoSQLite struct {
	db *sql.DB
}

func NewOrderRepoSQLite(sqlDB *sql.DB) *OrderRepoSQLite {
	return &OrderRepoSQLite{db: sqlDB}
}

// ------------------ Inicialización de DB ------------------

// InitSQLite crea las tablas de pedidos y la outbox si no existen.
func InitSQLite(sqlDB *sql.DB) error {
	_, err := sqlDB.Exec(`
        CREATE TABLE IF NOT EXISTS orders (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            order_number TEXT NOT NULL UNIQUE,
            customer_id TEXT NOT NULL,
            order_date TEXT NOT NULL,
            status TEXT NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )
    `)
	if err != nil {
		return err
	}

	_, err = sqlDB.Exec(`
        CREATE TABLE IF NOT EXISTS order_items (
            order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
            position INTEGER NOT NULL,
            product_number TEXT NOT NULL,
            quantity INTEGER NOT NULL,
            PRIMARY KEY (order_id, position)
        )
    `)
	if err != nil {
		return err
	}

	return sharedSQLite.InitOutbox(sqlDB)
}

// ------------------ Métodos ------------------

// Create inserta el pedido y sus líneas. Si ctx trae transacción, participa en ella.
func (r *OrderRepoSQLite) Create(ctx context.Context, o *domain.Order) error {
	conn := db.Conn(ctx, r.db)

	res, err := conn.ExecContext(ctx,
		`INSERT INTO orders (order_number, customer_id, order_date, status, version) VALUES (?,?,?,?,1)`,
		o.Number.String(), o.CustomerID, o.OrderDate.UTC().Format(time.RFC3339Nano), string(o.Status),
	)
	if err != nil {
		if sharedSQLite.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrOrderAlreadyExists, o.Number)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("order id: %w", err)
	}

	if err := insertItems(ctx, conn, id, o.Items); err != nil {
		return err
	}

	o.ID = id
	o.Version = 1
	return nil
}

// Update aplica bloqueo optimista sobre la columna version.
func (r *OrderRepoSQLite) Update(ctx context.Context, o *domain.Order) error {
	conn := db.Conn(ctx, r.db)

	res, err := conn.ExecContext(ctx,
		`UPDATE orders SET customer_id=?, order_date=?, status=?, version=version+1 WHERE id=? AND version=?`,
		o.CustomerID, o.OrderDate.UTC().Format(time.RFC3339Nano), string(o.Status), o.ID, o.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return r.missingOrStale(ctx, conn, o)
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM order_items WHERE order_id=?`, o.ID); err != nil {
		return fmt.Errorf("replace order items: %w", err)
	}
	if err := insertItems(ctx, conn, o.ID, o.Items); err != nil {
		return err
	}

	o.Version++
	return nil
}

func (r *OrderRepoSQLite) Delete(ctx context.Context, o *domain.Order) error {
	conn := db.Conn(ctx, r.db)

	res, err := conn.ExecContext(ctx, `DELETE FROM orders WHERE id=? AND version=?`, o.ID, o.Version)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return r.missingOrStale(ctx, conn, o)
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM order_items WHERE order_id=?`, o.ID); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	return nil
}

func (r *OrderRepoSQLite) GetByNumber(ctx context.Context, number domain.OrderNumber) (*domain.Order, error) {
	conn := db.Conn(ctx, r.db)
	row := conn.QueryRowContext(ctx,
		`SELECT id, order_number, customer_id, order_date, status, version FROM orders WHERE order_number = ?`,
		number.String(),
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, number)
		}
		return nil, err
	}

	if o.Items, err = loadItems(ctx, conn, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepoSQLite) List(ctx context.Context, f domain.OrderFilter) ([]*domain.Order, error) {
	var (
		args       []interface{}
		conditions []string
	)

	if f.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.CustomerID != nil {
		conditions = append(conditions, "customer_id = ?")
		args = append(args, *f.CustomerID)
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

	conn := db.Conn(ctx, r.db)
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, order_number, customer_id, order_date, status, version
		 FROM orders %s ORDER BY id LIMIT ? OFFSET ?`, where), args...)
	if err != nil {
		return nil, err
	}

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Las líneas se cargan con el cursor ya cerrado (una sola conexión en SQLite)
	for _, o := range orders {
		if o.Items, err = loadItems(ctx, conn, o.ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// ------------------ Helpers ------------------

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var (
		id                 int64
		number, customer   string
		dateStr, statusStr string
		version            int
	)
	if err := s.Scan(&id, &number, &customer, &dateStr, &statusStr, &version); err != nil {
		return nil, err
	}

	orderDate, err := time.Parse(time.RFC3339Nano, dateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid order_date in order %s: %w", number, err)
	}

	return domain.Rehydrate(id, domain.OrderNumber(number), customer, orderDate, nil, domain.OrderStatus(statusStr), version)
}

func insertItems(ctx context.Context, conn db.Executor, orderID int64, items []domain.OrderItem) error {
	for i, it := range items {
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO order_items (order_id, position, product_number, quantity) VALUES (?,?,?,?)`,
			orderID, i, it.ProductNumber, it.Quantity,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func loadItems(ctx context.Context, conn db.Executor, orderID int64) ([]domain.OrderItem, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT product_number, quantity FROM order_items WHERE order_id = ? ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []domain.OrderItem{}
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ProductNumber, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *OrderRepoSQLite) missingOrStale(ctx context.Context, conn db.Executor, o *domain.Order) error {
	var version int
	err := conn.QueryRowContext(ctx, `SELECT version FROM orders WHERE id = ?`, o.ID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, o.Number)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s (expected version %d, found %d)", domain.ErrConcurrentModification, o.Number, o.Version, version)
}

// Verificación en tiempo de compilación.
var _ domain.OrderRepository = (*OrderRepoSQLite)(nil)
