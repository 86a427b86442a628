package domain

import (
	"context"
	"time"
)

// ProductRepository описывает требования к хранилищу товаров.
// Контракт блокировок — единственный механизм защиты от конкурентных мутаций:
// optimistic locking и merge-семантика не используются.
type ProductRepository interface {
	// Create сохраняет новый товар. Возвращает ошибку, если запись с таким ID уже существует.
	Create(ctx context.Context, product Product) error
	// FetchAll возвращает все товары без блокировок.
	FetchAll(ctx context.Context) ([]Product, error)
	// FetchByIDs возвращает подмножество товаров без блокировок.
	FetchByIDs(ctx context.Context, ids []string) ([]Product, error)
	// FetchLocked запрашивает эксклюзивную блокировку каждой строки из ids в
	// рамках транзакции tx. Вызов блокируется, пока любая другая активная
	// транзакция удерживает блокировку на пересекающейся строке; если
	// блокировки не получены за timeout, возвращается LockAcquisitionError
	// с перечислением спорных строк. При успехе возвращаются текущие
	// закоммиченные значения, а блокировки удерживаются до конца tx.
	FetchLocked(ctx context.Context, tx Tx, ids []string, timeout time.Duration) ([]Product, error)
	// Update перезаписывает одну строку в рамках tx и проставляет UpdatedAt.
	// Если tx ещё не удерживает эксклюзивную блокировку строки, она
	// запрашивается по тому же контракту, что и в FetchLocked. Запись
	// становится видимой другим читателям только после коммита tx.
	Update(ctx context.Context, tx Tx, product Product) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями в рамках tx.
	Create(ctx context.Context, tx Tx, order Order) error
	// Get возвращает заказ с позициями или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// Delete удаляет заказ каскадно вместе с позициями.
	Delete(ctx context.Context, id string) error
}
