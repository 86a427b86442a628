package domain

import "context"

// LockMode описывает режим блокировки, удерживаемой транзакцией на строке товара.
type LockMode string

const (
	// LockModeNone — транзакция не удерживает блокировку на строке.
	LockModeNone LockMode = "none"
	// LockModeExclusive — транзакция удерживает эксклюзивную (write) блокировку:
	// никакая другая транзакция не может ни заблокировать, ни перезаписать строку
	// до конца владеющей транзакции.
	LockModeExclusive LockMode = "exclusive"
)

// Tx представляет границу транзакции хранилища. Все блокировки, полученные
// внутри транзакции, удерживаются до Commit или Rollback и снимаются
// атомарно для всего набора строк.
type Tx interface {
	// Commit завершает транзакцию, делая её записи видимыми и снимая блокировки.
	Commit() error
	// Rollback отменяет незакоммиченные записи и снимает блокировки.
	Rollback() error
	// LockMode возвращает lock ticket транзакции для строки товара:
	// подтверждённый режим блокировки, которую транзакция удерживает сейчас.
	LockMode(productID string) LockMode
}

// TxManager открывает транзакции хранилища.
type TxManager interface {
	Begin(ctx context.Context) (Tx, error)
}
