package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// productRepository — in-memory реализация ProductRepository поверх Store.
type productRepository struct {
	store *Store
}

// NewProductRepository возвращает репозиторий товаров, разделяющий
// реестр блокировок движка.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{store: store}
}

// Create сохраняет новый товар. UpdatedAt остаётся нулевым до первого Update.
func (r *productRepository) Create(_ context.Context, product domain.Product) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrProductExists, product.ID)
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	return nil
}

// FetchAll возвращает все товары без блокировок, в стабильном порядке.
func (r *productRepository) FetchAll(_ context.Context) ([]domain.Product, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		return products[i].ID < products[j].ID
	})
	return products, nil
}

// FetchByIDs возвращает найденные товары без блокировок; отсутствующие ID
// просто не попадают в результат.
func (r *productRepository) FetchByIDs(_ context.Context, ids []string) ([]domain.Product, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make([]domain.Product, 0, len(ids))
	for _, id := range dedupe(ids) {
		if p, ok := s.products[id]; ok {
			products = append(products, p)
		}
	}
	return products, nil
}

// FetchLocked захватывает эксклюзивные блокировки на все ids и только после
// этого возвращает актуальные значения строк. Блокировки остаются за tx
// до конца транзакции.
func (r *productRepository) FetchLocked(ctx context.Context, tx domain.Tx, ids []string, timeout time.Duration) ([]domain.Product, error) {
	memTx, err := r.asTx(tx)
	if err != nil {
		return nil, err
	}

	unique := dedupe(ids)
	if err := r.store.acquireExclusive(ctx, memTx, unique, timeout); err != nil {
		return nil, err
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make([]domain.Product, 0, len(unique))
	for _, id := range unique {
		// Транзакция видит собственные незакоммиченные записи.
		if p, ok := memTx.pendingProducts[id]; ok {
			products = append(products, p)
			continue
		}
		p, ok := s.products[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
		}
		products = append(products, p)
	}
	return products, nil
}

// Update буферизует перезапись строки в tx. Если эксклюзивная блокировка
// строки ещё не удерживается, она запрашивается с таймаутом движка.
func (r *productRepository) Update(ctx context.Context, tx domain.Tx, product domain.Product) error {
	memTx, err := r.asTx(tx)
	if err != nil {
		return err
	}

	if tx.LockMode(product.ID) != domain.LockModeExclusive {
		if err := r.store.acquireExclusive(ctx, memTx, []string{product.ID}, r.store.lockTimeout); err != nil {
			return err
		}
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := memTx.pendingProducts[product.ID]
	if !ok {
		existing, ok = s.products[product.ID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrProductNotFound, product.ID)
		}
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	memTx.pendingProducts[product.ID] = product
	return nil
}

func (r *productRepository) asTx(tx domain.Tx) (*Tx, error) {
	if tx == nil {
		return nil, domain.ErrNoActiveTx
	}
	memTx, ok := tx.(*Tx)
	if !ok || memTx.store != r.store {
		return nil, fmt.Errorf("transaction does not belong to this store")
	}

	r.store.mu.Lock()
	finished := memTx.finished
	r.store.mu.Unlock()
	if finished {
		return nil, domain.ErrTxFinished
	}
	return memTx, nil
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
