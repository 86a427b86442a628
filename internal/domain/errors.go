package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// Ошибка отсутствующего имени товара.
	ErrProductNameRequired = errors.New("product name is required")
	// Ошибка отрицательной цены (продажной или закупочной).
	ErrPriceNegative = errors.New("price must be non-negative")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка позиции без ссылки на товар.
	ErrItemProductRequired = errors.New("item product reference is required")
	// ErrProductNotFound возвращается, если товар не найден в хранилище.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductExists возвращается при попытке создать товар с занятым ID.
	ErrProductExists = errors.New("product already exists")
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists возвращается при попытке создать заказ с занятым ID.
	ErrOrderExists = errors.New("order already exists")
	// ErrNoActiveTx сигнализирует об ошибке использования: операция, которой
	// нужна объемлющая транзакция, вызвана без неё.
	ErrNoActiveTx = errors.New("operation requires an active transaction")
	// ErrTxFinished возвращается при обращении к уже завершённой транзакции.
	ErrTxFinished = errors.New("transaction already finished")
)

// LockAcquisitionError возвращается, когда эксклюзивные блокировки строк не
// удалось получить за отведённый таймаут. Транзакция вызывающего обязана
// откатиться; повтор — решение вызывающего, внутри ядра retry не выполняется.
type LockAcquisitionError struct {
	// ProductIDs — строки, по которым была контенция на момент таймаута.
	ProductIDs []string
	Timeout    time.Duration
}

func (e *LockAcquisitionError) Error() string {
	return fmt.Sprintf("exclusive lock not acquired within %s, contended products: %s",
		e.Timeout, strings.Join(e.ProductIDs, ", "))
}

// IsLockAcquisition проверяет, является ли ошибка таймаутом получения блокировки.
func IsLockAcquisition(err error) bool {
	var target *LockAcquisitionError
	return errors.As(err, &target)
}

// LockModeError сигнализирует о нарушении защитного инварианта: значение
// строки попало в валидацию без подтверждённой эксклюзивной блокировки.
// В корректно работающей системе эта ошибка не возникает; она фатальна
// и не подлежит retry.
type LockModeError struct {
	ProductID string
	Held      LockMode
}

func (e *LockModeError) Error() string {
	return fmt.Sprintf("product %s must be held under an exclusive lock, held mode: %s",
		e.ProductID, e.Held)
}

// IsLockMode проверяет, является ли ошибка нарушением режима блокировки.
func IsLockMode(err error) bool {
	var target *LockModeError
	return errors.As(err, &target)
}

// PriceBelowMinimumError — нарушение бизнес-правила: предложенная цена
// продажи ниже минимально допустимой, рассчитанной от заблокированной
// закупочной цены. Ожидаемый пользовательский исход; объемлющая транзакция
// откатывается без частичных записей.
type PriceBelowMinimumError struct {
	ProductName   string
	SalePrice     decimal.Decimal
	PurchasePrice decimal.Decimal
	MinimumPrice  decimal.Decimal
	// UpdatedAt — момент последнего обновления заблокированного товара.
	// Нулевое значение означает, что товар ещё не обновлялся.
	UpdatedAt time.Time
}

func (e *PriceBelowMinimumError) Error() string {
	updated := "not yet updated"
	if !e.UpdatedAt.IsZero() {
		updated = e.UpdatedAt.Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("sale price below minimum for product %q: sale=%s purchase=%s minimum=%s last updated: %s",
		e.ProductName, e.SalePrice, e.PurchasePrice, e.MinimumPrice, updated)
}

// IsPriceBelowMinimum проверяет, является ли ошибка нарушением минимальной цены продажи.
func IsPriceBelowMinimum(err error) bool {
	var target *PriceBelowMinimumError
	return errors.As(err, &target)
}
