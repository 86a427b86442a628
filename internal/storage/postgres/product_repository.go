package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

const opTimeout = 5 * time.Second

type productRepository struct {
	store *Store
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{store: store}
}

// Create сохраняет новый товар. updated_at остаётся NULL до первого Update.
func (r *productRepository) Create(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	createdAt := product.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO products (id, name, sale_price, purchase_price, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, product.ID, product.Name, product.SalePrice, product.PurchasePrice, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrProductExists, product.ID)
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// FetchAll возвращает все товары без блокировок, в стабильном порядке.
func (r *productRepository) FetchAll(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, name, sale_price, purchase_price, created_at, updated_at
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// FetchByIDs возвращает найденные товары без блокировок; отсутствующие ID
// просто не попадают в результат.
func (r *productRepository) FetchByIDs(ctx context.Context, ids []string) ([]domain.Product, error) {
	unique := dedupe(ids)
	if len(unique) == 0 {
		return []domain.Product{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, sale_price, purchase_price, created_at, updated_at
		FROM products
		WHERE id IN (%s)
		ORDER BY id
	`, placeholders(len(unique))), toAnySlice(unique)...)
	if err != nil {
		return nil, fmt.Errorf("select products by ids: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// FetchLocked захватывает эксклюзивные блокировки строк через
// SELECT ... FOR UPDATE под SET LOCAL lock_timeout и регистрирует
// lock ticket'ы в транзакции. После таймаута транзакция вызывающего
// находится в failed-состоянии и обязана откатиться.
func (r *productRepository) FetchLocked(ctx context.Context, tx domain.Tx, ids []string, timeout time.Duration) ([]domain.Product, error) {
	pgtx, err := asPgTx(tx)
	if err != nil {
		return nil, err
	}

	unique := dedupe(ids)
	if len(unique) == 0 {
		return []domain.Product{}, nil
	}

	products, err := lockRows(ctx, pgtx, unique, timeout)
	if err != nil {
		return nil, err
	}
	if len(products) != len(unique) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, missingIDs(unique, products))
	}

	pgtx.registerExclusive(unique)
	return products, nil
}

// Update перезаписывает строку в рамках tx и проставляет updated_at.
// Если эксклюзивная блокировка строки ещё не удерживается, она
// запрашивается с таймаутом хранилища.
func (r *productRepository) Update(ctx context.Context, tx domain.Tx, product domain.Product) error {
	pgtx, err := asPgTx(tx)
	if err != nil {
		return err
	}

	if tx.LockMode(product.ID) != domain.LockModeExclusive {
		locked, err := lockRows(ctx, pgtx, []string{product.ID}, r.store.lockTimeout)
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return fmt.Errorf("%w: %s", domain.ErrProductNotFound, product.ID)
		}
		pgtx.registerExclusive([]string{product.ID})
	}

	res, err := pgtx.tx.ExecContext(ctx, `
		UPDATE products
		SET name = $1,
		    sale_price = $2,
		    purchase_price = $3,
		    updated_at = NOW()
		WHERE id = $4
	`, product.Name, product.SalePrice, product.PurchasePrice, product.ID)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, product.ID)
	}
	return nil
}

// lockRows выполняет блокирующий SELECT по отсортированному набору строк.
// Сортировка даёт всем транзакциям одинаковый порядок захвата и исключает
// взаимные deadlock'и между конкурентными наборами.
func lockRows(ctx context.Context, pgtx *pgTx, ids []string, timeout time.Duration) ([]domain.Product, error) {
	millis := timeout.Milliseconds()
	if millis < 1 {
		millis = 1
	}
	// lock_timeout не параметризуется, значение подставляется как целое число.
	if _, err := pgtx.tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", millis)); err != nil {
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}

	rows, err := pgtx.tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, sale_price, purchase_price, created_at, updated_at
		FROM products
		WHERE id IN (%s)
		ORDER BY id
		FOR UPDATE
	`, placeholders(len(ids))), toAnySlice(ids)...)
	if err != nil {
		if isLockNotAvailable(err) {
			return nil, &domain.LockAcquisitionError{ProductIDs: ids, Timeout: timeout}
		}
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	products := make([]domain.Product, 0)
	for rows.Next() {
		var p domain.Product
		var updatedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.Name, &p.SalePrice, &p.PurchasePrice, &p.CreatedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		if updatedAt.Valid {
			p.UpdatedAt = updatedAt.Time
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}

func missingIDs(requested []string, found []domain.Product) string {
	present := make(map[string]struct{}, len(found))
	for _, p := range found {
		present[p.ID] = struct{}{}
	}
	var missing []string
	for _, id := range requested {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return strings.Join(missing, ", ")
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ", ")
}

func toAnySlice(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)
	return unique
}

var _ domain.ProductRepository = (*productRepository)(nil)
