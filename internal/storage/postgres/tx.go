package postgres

import (
	"database/sql"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// Коды ошибок PostgreSQL.
const (
	pgCodeUniqueViolation  = "23505"
	pgCodeLockNotAvailable = "55P03"
)

// pgTx — транзакция PostgreSQL с клиентским реестром lock ticket'ов.
// Ticket для строки регистрируется только после того, как SELECT ... FOR UPDATE
// по ней успешно вернулся, то есть сервер реально выдал эксклюзивную блокировку.
type pgTx struct {
	tx *sql.Tx

	mu       sync.Mutex
	held     map[string]domain.LockMode
	finished bool
}

// Commit завершает транзакцию; блокировки на сервере снимаются вместе с ней.
func (t *pgTx) Commit() error {
	if err := t.markFinished(); err != nil {
		return err
	}
	return t.tx.Commit()
}

// Rollback откатывает транзакцию и снимает блокировки.
func (t *pgTx) Rollback() error {
	if err := t.markFinished(); err != nil {
		return err
	}
	return t.tx.Rollback()
}

// LockMode возвращает lock ticket транзакции для строки товара.
func (t *pgTx) LockMode(productID string) domain.LockMode {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return domain.LockModeNone
	}
	if mode, ok := t.held[productID]; ok {
		return mode
	}
	return domain.LockModeNone
}

func (t *pgTx) markFinished() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return domain.ErrTxFinished
	}
	t.finished = true
	t.held = make(map[string]domain.LockMode)
	return nil
}

// registerExclusive фиксирует подтверждённые сервером блокировки.
func (t *pgTx) registerExclusive(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		t.held[id] = domain.LockModeExclusive
	}
}

func asPgTx(tx domain.Tx) (*pgTx, error) {
	if tx == nil {
		return nil, domain.ErrNoActiveTx
	}
	pgtx, ok := tx.(*pgTx)
	if !ok {
		return nil, errors.New("transaction does not belong to this store")
	}

	pgtx.mu.Lock()
	finished := pgtx.finished
	pgtx.mu.Unlock()
	if finished {
		return nil, domain.ErrTxFinished
	}
	return pgtx, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgCodeUniqueViolation
}

func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgCodeLockNotAvailable
}

var _ domain.Tx = (*pgTx)(nil)
