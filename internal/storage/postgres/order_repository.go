package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

// Create записывает заказ с позициями в рамках объемлющей транзакции.
// Коммит остаётся за вызывающим: заказ становится видимым одновременно
// со снятием блокировок, полученных при валидации.
func (r *orderRepository) Create(ctx context.Context, tx domain.Tx, order domain.Order) error {
	pgtx, err := asPgTx(tx)
	if err != nil {
		return err
	}

	if _, err := pgtx.tx.ExecContext(ctx, `
		INSERT INTO orders (id, created_at)
		VALUES ($1, $2)
	`, order.ID, order.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrOrderExists, order.ID)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err := pgtx.tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, qty, unit_price, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, order.ID, item.ProductID, item.Qty, item.UnitPrice, item.CreatedAt); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

// Get возвращает закоммиченный заказ с позициями.
func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var order domain.Order
	err := r.store.db.QueryRowContext(ctx, `
		SELECT id, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

// Delete удаляет заказ; позиции удаляются каскадно внешним ключом.
func (r *orderRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, qty, unit_price, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Qty, &item.UnitPrice, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
