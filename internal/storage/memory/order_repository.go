package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// orderRepository — in-memory реализация OrderRepository поверх Store.
type orderRepository struct {
	store *Store
}

// NewOrderRepository возвращает репозиторий заказов, разделяющий
// транзакционный механизм движка.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

// Create буферизует заказ вместе с позициями в tx; заказ становится видимым
// только после коммита транзакции.
func (r *orderRepository) Create(_ context.Context, tx domain.Tx, order domain.Order) error {
	memTx, err := r.asTx(tx)
	if err != nil {
		return err
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrOrderExists, order.ID)
	}
	for _, pending := range memTx.pendingOrders {
		if pending.ID == order.ID {
			return fmt.Errorf("%w: %s", domain.ErrOrderExists, order.ID)
		}
	}

	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	// Сохраняем копию позиций, чтобы избежать мутаций извне.
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	memTx.pendingOrders = append(memTx.pendingOrders, order)
	return nil
}

// Get возвращает закоммиченный заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	return order, nil
}

// Delete удаляет заказ; позиции живут внутри заказа и удаляются каскадно.
func (r *orderRepository) Delete(_ context.Context, id string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[id]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(s.orders, id)
	return nil
}

func (r *orderRepository) asTx(tx domain.Tx) (*Tx, error) {
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

var _ domain.OrderRepository = (*orderRepository)(nil)
