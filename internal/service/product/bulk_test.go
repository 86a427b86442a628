package product_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pms/internal/service/product"
	"github.com/vladislavdragonenkov/pms/internal/storage/memory"
)

type capturingPublisher struct {
	events []*kafka.PriceEvent
}

func (p *capturingPublisher) PublishPriceEvent(event *kafka.PriceEvent) error {
	p.events = append(p.events, event)
	return nil
}

func seedCatalog(t *testing.T, repo domain.ProductRepository, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		p := domain.Product{
			ID:            string(rune('a'+i)) + "-product",
			Name:          "product",
			SalePrice:     decimal.RequireFromString("155.79"),
			PurchasePrice: decimal.RequireFromString("100.00"),
		}
		require.NoError(t, repo.Create(context.Background(), p))
	}
}

func TestUpdateAllPurchasePrices_RewritesEveryRow(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewProductRepository(store)
	seedCatalog(t, repo, 3)
	events := &capturingPublisher{}
	svc := product.NewBulkServiceWithoutMetrics(store, repo, time.Second, events, nil)

	newPrice := decimal.RequireFromString("150.00")
	updated, err := svc.UpdateAllPurchasePrices(context.Background(), newPrice)
	require.NoError(t, err)
	require.Equal(t, 3, updated)

	all, err := repo.FetchAll(context.Background())
	require.NoError(t, err)
	for _, p := range all {
		require.True(t, p.PurchasePrice.Equal(newPrice), "product %s not rewritten", p.ID)
		require.False(t, p.UpdatedAt.IsZero())
	}
	require.Len(t, events.events, 3)
	require.Equal(t, kafka.EventTypePriceUpdated, events.events[0].EventType)
}

func TestUpdateAllPurchasePrices_RejectsNegativePrice(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewProductRepository(store)
	svc := product.NewBulkServiceWithoutMetrics(store, repo, time.Second, nil, nil)

	_, err := svc.UpdateAllPurchasePrices(context.Background(), decimal.RequireFromString("-1"))
	require.ErrorIs(t, err, domain.ErrPriceNegative)
}

func TestUpdateAllPurchasePrices_EmptyCatalog(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewProductRepository(store)
	svc := product.NewBulkServiceWithoutMetrics(store, repo, time.Second, nil, nil)

	updated, err := svc.UpdateAllPurchasePrices(context.Background(), decimal.RequireFromString("150.00"))
	require.NoError(t, err)
	require.Zero(t, updated)
}

func TestUpdateAllPurchasePrices_LockTimeoutAbortsSweep(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewProductRepository(store)
	seedCatalog(t, repo, 3)
	ctx := context.Background()
	svc := product.NewBulkServiceWithoutMetrics(store, repo, 30*time.Millisecond, nil, nil)

	// Чужая транзакция держит вторую строку каталога.
	holder, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = holder.Rollback() }()
	_, err = repo.FetchLocked(ctx, holder, []string{"b-product"}, time.Second)
	require.NoError(t, err)

	newPrice := decimal.RequireFromString("150.00")
	updated, err := svc.UpdateAllPurchasePrices(ctx, newPrice)
	require.True(t, domain.IsLockAcquisition(err), "expected lock acquisition error, got %v", err)
	require.Equal(t, 1, updated)

	// Строки до спорной закоммичены, строки после — нетронуты.
	all, err := repo.FetchAll(ctx)
	require.NoError(t, err)
	require.True(t, all[0].PurchasePrice.Equal(newPrice))
	require.True(t, all[1].PurchasePrice.Equal(decimal.RequireFromString("100.00")))
	require.True(t, all[2].PurchasePrice.Equal(decimal.RequireFromString("100.00")))
}

func TestUpdateAllPurchasePrices_RowsCommitIndependently(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewProductRepository(store)
	seedCatalog(t, repo, 2)
	ctx := context.Background()
	svc := product.NewBulkServiceWithoutMetrics(store, repo, time.Second, nil, nil)

	newPrice := decimal.RequireFromString("150.00")
	_, err := svc.UpdateAllPurchasePrices(ctx, newPrice)
	require.NoError(t, err)

	// После обхода ни одна строка не заблокирована.
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	locked, err := repo.FetchLocked(ctx, tx, []string{"a-product", "b-product"}, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, locked, 2)
}
