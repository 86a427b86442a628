package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

func newProduct(name string, sale, purchase string) domain.Product {
	return domain.Product{
		ID:            "product-" + name,
		Name:          name,
		SalePrice:     decimal.RequireFromString(sale),
		PurchasePrice: decimal.RequireFromString(purchase),
	}
}

func TestAttachItem_SnapshotsSalePrice(t *testing.T) {
	product := newProduct("cola", "155.79", "100.00")
	order := domain.NewOrder()

	item := domain.AttachItem(order, product, 3)

	if !item.UnitPrice.Equal(product.SalePrice) {
		t.Fatalf("expected unit price %s, got %s", product.SalePrice, item.UnitPrice)
	}
	if item.OrderID != order.ID {
		t.Fatalf("expected order id %s, got %s", order.ID, item.OrderID)
	}
	if len(order.Items) != 1 {
		t.Fatalf("expected 1 item attached, got %d", len(order.Items))
	}
}

func TestAttachItem_ImmuneToLaterProductChanges(t *testing.T) {
	product := newProduct("cola", "155.79", "100.00")
	order := domain.NewOrder()
	item := domain.AttachItem(order, product, 1)

	product.SalePrice = decimal.RequireFromString("999.99")

	if !item.UnitPrice.Equal(decimal.RequireFromString("155.79")) {
		t.Fatalf("unit price changed after attach: %s", item.UnitPrice)
	}
	if !order.Items[0].UnitPrice.Equal(decimal.RequireFromString("155.79")) {
		t.Fatalf("stored item price changed after attach: %s", order.Items[0].UnitPrice)
	}
}

func TestOrderValidateInvariants(t *testing.T) {
	order := domain.NewOrder()
	if errs := order.ValidateInvariants(); len(errs) != 1 || errs[0] != domain.ErrItemsRequired {
		t.Fatalf("expected items-required error, got %v", errs)
	}

	product := newProduct("cola", "155.79", "100.00")
	domain.AttachItem(order, product, 0)
	errs := order.ValidateInvariants()
	found := false
	for _, err := range errs {
		if err == domain.ErrItemQtyInvalid {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected qty-invalid error, got %v", errs)
	}
}
