package validator

import (
	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// AssertExclusivelyLocked — защитная проверка: значение строки допускается к
// валидации только под подтверждённой эксклюзивной блокировкой текущей
// транзакции. Проверка сверяется с lock ticket'ами tx и в корректной работе
// не срабатывает никогда; её присутствие документирует предусловие,
// на котором держится алгоритм валидации.
func AssertExclusivelyLocked(tx domain.Tx, product domain.Product) error {
	if mode := tx.LockMode(product.ID); mode != domain.LockModeExclusive {
		return &domain.LockModeError{ProductID: product.ID, Held: mode}
	}
	return nil
}
