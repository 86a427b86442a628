package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

const defaultLockTimeout = 5 * time.Second

// Store — in-memory движок хранения с явным реестром блокировок строк.
// Реестр ведётся по ID товара; каждая транзакция несёт свой набор
// lock ticket'ов, подтверждающих удерживаемые блокировки.
type Store struct {
	mu       sync.Mutex
	products map[string]domain.Product
	orders   map[string]domain.Order
	// locks — реестр блокировок: ID товара → ID владеющей транзакции.
	locks map[string]int64
	// released закрывается и пересоздаётся при каждом снятии блокировок,
	// будя все транзакции, ожидающие спорные строки.
	released    chan struct{}
	txSeq       int64
	lockTimeout time.Duration
}

// NewStore возвращает движок для локальной разработки и тестов.
func NewStore() *Store {
	return NewStoreWithLockTimeout(defaultLockTimeout)
}

// NewStoreWithLockTimeout позволяет задать таймаут, с которым Update
// запрашивает блокировку, если транзакция её ещё не удерживает.
func NewStoreWithLockTimeout(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Store{
		products:    make(map[string]domain.Product),
		orders:      make(map[string]domain.Order),
		locks:       make(map[string]int64),
		released:    make(chan struct{}),
		lockTimeout: lockTimeout,
	}
}

// Begin открывает новую транзакцию с пустым набором lock ticket'ов.
func (s *Store) Begin(_ context.Context) (domain.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txSeq++
	return &Tx{
		store:           s,
		id:              s.txSeq,
		held:            make(map[string]domain.LockMode),
		pendingProducts: make(map[string]domain.Product),
	}, nil
}

// Tx — транзакция in-memory движка. Записи буферизуются до Commit;
// блокировки снимаются атомарно для всего набора при Commit или Rollback.
type Tx struct {
	store           *Store
	id              int64
	held            map[string]domain.LockMode
	pendingProducts map[string]domain.Product
	pendingOrders   []domain.Order
	finished        bool
}

// Commit применяет буферизованные записи и снимает блокировки.
func (t *Tx) Commit() error {
	return t.finish(true)
}

// Rollback отбрасывает буферизованные записи и снимает блокировки.
func (t *Tx) Rollback() error {
	return t.finish(false)
}

// LockMode возвращает lock ticket транзакции для строки товара.
func (t *Tx) LockMode(productID string) domain.LockMode {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.finished {
		return domain.LockModeNone
	}
	if mode, ok := t.held[productID]; ok {
		return mode
	}
	return domain.LockModeNone
}

func (t *Tx) finish(apply bool) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.finished {
		return domain.ErrTxFinished
	}
	t.finished = true

	if apply {
		for id, p := range t.pendingProducts {
			s.products[id] = p
		}
		for _, o := range t.pendingOrders {
			s.orders[o.ID] = o
		}
	}

	// Записи применяются строго до снятия блокировок: следующий владелец
	// той же строки наблюдает только финальное закоммиченное значение.
	for id := range t.held {
		if owner, ok := s.locks[id]; ok && owner == t.id {
			delete(s.locks, id)
		}
	}
	t.held = make(map[string]domain.LockMode)
	s.notifyReleasedLocked()

	return nil
}

// acquireExclusive получает эксклюзивные блокировки на весь набор ids разом:
// либо захватываются все строки, либо ни одной. Ожидание ограничено timeout.
func (s *Store) acquireExclusive(ctx context.Context, tx *Tx, ids []string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	s.mu.Lock()
	for {
		if tx.finished {
			s.mu.Unlock()
			return domain.ErrTxFinished
		}

		contended := s.contendedLocked(tx, ids)
		if len(contended) == 0 {
			for _, id := range ids {
				s.locks[id] = tx.id
				tx.held[id] = domain.LockModeExclusive
			}
			s.mu.Unlock()
			return nil
		}

		released := s.released
		s.mu.Unlock()

		select {
		case <-released:
		case <-deadline.C:
			return &domain.LockAcquisitionError{ProductIDs: contended, Timeout: timeout}
		case <-ctx.Done():
			return ctx.Err()
		}

		s.mu.Lock()
	}
}

// contendedLocked возвращает строки из ids, заблокированные чужими транзакциями.
func (s *Store) contendedLocked(tx *Tx, ids []string) []string {
	var contended []string
	for _, id := range ids {
		if owner, ok := s.locks[id]; ok && owner != tx.id {
			contended = append(contended, id)
		}
	}
	sort.Strings(contended)
	return contended
}

func (s *Store) notifyReleasedLocked() {
	close(s.released)
	s.released = make(chan struct{})
}

var _ domain.TxManager = (*Store)(nil)
var _ domain.Tx = (*Tx)(nil)
