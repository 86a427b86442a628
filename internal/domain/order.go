package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// OrderID — обратная ссылка на заказ-владелец.
	OrderID string
	// ProductID — ссылка на товар; самим товаром позиция не владеет.
	ProductID string
	// Qty — количество единиц товара.
	Qty int32
	// UnitPrice — snapshot продажной цены товара на момент добавления
	// позиции в заказ. Последующие изменения товара его не меняют.
	UnitPrice decimal.Decimal
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// Order агрегирует позиции заказа. Заказ владеет своими позициями:
// удаление заказа удаляет и позиции.
type Order struct {
	ID        string
	Items     []OrderItem
	CreatedAt time.Time
}

// NewOrder создаёт пустой заказ с новым идентификатором.
func NewOrder() *Order {
	return &Order{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
}

// AttachItem добавляет позицию к заказу, снимая snapshot текущей продажной
// цены товара ровно один раз. Именно эта цена позже сверяется с минимально
// допустимой на момент коммита заказа.
func AttachItem(o *Order, p Product, qty int32) OrderItem {
	item := OrderItem{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		ProductID: p.ID,
		Qty:       qty,
		UnitPrice: p.SalePrice,
		CreatedAt: time.Now().UTC(),
	}
	o.Items = append(o.Items, item)
	return item
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.ProductID == "" {
			errs = append(errs, ErrItemProductRequired)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrPriceNegative)
		}
	}

	return errs
}
