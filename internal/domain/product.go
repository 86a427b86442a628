package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product описывает товар с продажной и закупочной ценой.
type Product struct {
	ID   string
	Name string
	// SalePrice — текущая продажная цена за единицу.
	SalePrice decimal.Decimal
	// PurchasePrice — закупочная цена, от которой считается минимально
	// допустимая цена продажи.
	PurchasePrice decimal.Decimal
	// CreatedAt выставляется хранилищем при первой записи.
	CreatedAt time.Time
	// UpdatedAt выставляется хранилищем при каждой перезаписи строки.
	// Нулевое значение означает, что товар ещё ни разу не обновлялся.
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты товара и возвращает список замечаний.
func (p *Product) ValidateInvariants() []error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.SalePrice.IsNegative() {
		errs = append(errs, ErrPriceNegative)
	}
	if p.PurchasePrice.IsNegative() {
		errs = append(errs, ErrPriceNegative)
	}

	return errs
}

// MinimumSalePrice возвращает минимально допустимую цену продажи
// для заданного коэффициента маржи.
func (p *Product) MinimumSalePrice(marginFactor decimal.Decimal) decimal.Decimal {
	return p.PurchasePrice.Mul(marginFactor)
}
