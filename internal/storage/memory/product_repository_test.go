package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/storage/memory"
)

func seedProduct(t *testing.T, repo domain.ProductRepository, id, name, sale, purchase string) domain.Product {
	t.Helper()

	product := domain.Product{
		ID:            id,
		Name:          name,
		SalePrice:     decimal.RequireFromString(sale),
		PurchasePrice: decimal.RequireFromString(purchase),
	}
	if err := repo.Create(context.Background(), product); err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	return product
}

func TestProductRepository_CreateAndFetch(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewProductRepository(store)
	ctx := context.Background()

	seedProduct(t, repo, "p-1", "cola", "155.79", "100.00")
	seedProduct(t, repo, "p-2", "water", "20.00", "10.00")

	all, err := repo.FetchAll(ctx)
	if err != nil {
		t.Fatalf("fetch all failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 products, got %d", len(all))
	}
	if !all[0].UpdatedAt.IsZero() {
		t.Fatal("expected zero UpdatedAt for a never-updated product")
	}

	subset, err := repo.FetchByIDs(ctx, []string{"p-2", "missing"})
	if err != nil {
		t.Fatalf("fetch by ids failed: %v", err)
	}
	if len(subset) != 1 || subset[0].ID != "p-2" {
		t.Fatalf("expected only p-2, got %v", subset)
	}
}

func TestProductRepository_CreateDuplicate(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewProductRepository(store)

	seedProduct(t, repo, "p-1", "cola", "155.79", "100.00")
	err := repo.Create(context.Background(), domain.Product{ID: "p-1", Name: "cola"})
	if err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestProductRepository_FetchLockedRequiresTx(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewProductRepository(store)

	_, err := repo.FetchLocked(context.Background(), nil, []string{"p-1"}, time.Second)
	if err != domain.ErrNoActiveTx {
		t.Fatalf("expected ErrNoActiveTx, got %v", err)
	}
}

func TestProductRepository_FetchLockedRegistersTicket(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewProductRepository(store)
	ctx := context.Background()
	seedProduct(t, repo, "p-1", "cola", "155.79", "100.00")

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	if tx.LockMode("p-1") != domain.LockModeNone {
		t.Fatal("expected no ticket before fetch")
	}

	locked, err := repo.FetchLocked(ctx, tx, []string{"p-1", "p-1"}, time.Second)
	if err != nil {
		t.Fatalf("fetch locked failed: %v", err)
	}
	if len(locked) != 1 {
		t.Fatalf("expected deduplicated single row, got %d", len(locked))
	}
	if tx.LockMode("p-1") != domain.LockModeExclusive {
		t.Fatal("expected exclusive ticket after fetch")
	}
}

func TestProductRepository_FetchLockedMissingProduct(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewProductRepository(store)
	ctx := context.Background()

	tx, _ := store.Begin(ctx)
	defer func() { _ = tx.Rollback() }()

	_, err := repo.FetchLocked(ctx, tx, []string{"ghost"}, time.Second)
	if err == nil {
		t.Fatal("expected error for missing product")
	}
}

func TestProductRepository_ContendedLockTimesOut(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewProductRepository(store)
	ctx := context.Background()
	seedProduct(t, repo, "p-1", "cola", "155.79", "100.00")

	holder, _ := store.Begin(ctx)
	defer func() { _ = holder.Rollback() }()
	if _, err := repo.FetchLocked(ctx, holder, []string{"p-1"}, time.Second); err != nil {
		t.Fatalf("holder lock failed: %v", err)
	}

	contender, _ := store.Begin(ctx)
	defer func() { _ = contender.Rollback() }()

	_, err := repo.FetchLocked(ctx, contender, []string{"p-1"}, 30*time.Millisecond)
	if !domain.IsLockAcquisition(err) {
		t.Fatalf("expected LockAcquisitionError, got %v", err)
	}
	var lockErr *domain.LockAcquisitionError
	if !errors.As(err, &lockErr) || len(lockErr.ProductIDs) != 1 || lockErr.ProductIDs[0] != "p-1" {
		t.Fatalf("expected contended id p-1, got %v", err)
	}
}

func TestProductRepository_LockReleasedOnRollback(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewProductRepository(store)
	ctx := context.Background()
	seedProduct(t, repo, "p-1", "cola", "155.79", "100.00")

	holder, _ := store.Begin(ctx)
	if _, err := repo.FetchLocked(ctx, holder, []string{"p-1"}, time.Second); err != nil {
		t.Fatalf("holder lock failed: %v", err)
	}
	if err := holder.Rollback(); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if holder.LockMode("p-1") != domain.LockModeNone {
		t.Fatal("expected ticket cleared after rollback")
	}

	next, _ := store.Begin(ctx)
	defer func() { _ = next.Rollback() }()
	if _, err := repo.FetchLocked(ctx, next, []string{"p-1"}, 30*time.Millisecond); err != nil {
		t.Fatalf("expected lock available after rollback, got %v", err)
	}
}

func TestProductRepository_UpdateVisibleAfterCommitOnly(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewProductRepository(store)
	ctx := context.Background()
	seedProduct(t, repo, "p-1", "cola", "155.79", "100.00")

	tx, _ := store.Begin(ctx)
	locked, err := repo.FetchLocked(ctx, tx, []string{"p-1"}, time.Second)
	if err != nil {
		t.Fatalf("fetch locked failed: %v", err)
	}

	updated := locked[0]
	updated.PurchasePrice = decimal.RequireFromString("200.00")
	if err := repo.Update(ctx, tx, updated); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// До коммита другие читатели видят старое значение.
	committed, _ := repo.FetchByIDs(ctx, []string{"p-1"})
	if !committed[0].PurchasePrice.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("uncommitted write leaked: %s", committed[0].PurchasePrice)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	committed, _ = repo.FetchByIDs(ctx, []string{"p-1"})
	if !committed[0].PurchasePrice.Equal(decimal.RequireFromString("200.00")) {
		t.Fatalf("expected committed purchase price 200.00, got %s", committed[0].PurchasePrice)
	}
	if committed[0].UpdatedAt.IsZero() {
		t.Fatal("expected UpdatedAt stamped by update")
	}
}

func TestProductRepository_NextAcquirerSeesCommittedValue(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewProductRepository(store)
	ctx := context.Background()
	seedProduct(t, repo, "p-1", "cola", "155.79", "100.00")

	first, _ := store.Begin(ctx)
	locked, err := repo.FetchLocked(ctx, first, []string{"p-1"}, time.Second)
	if err != nil {
		t.Fatalf("first lock failed: %v", err)
	}

	observed := make(chan decimal.Decimal, 1)
	go func() {
		second, _ := store.Begin(ctx)
		defer func() { _ = second.Rollback() }()
		rows, err := repo.FetchLocked(ctx, second, []string{"p-1"}, 2*time.Second)
		if err != nil {
			t.Errorf("second lock failed: %v", err)
			observed <- decimal.Zero
			return
		}
		observed <- rows[0].PurchasePrice
	}()

	// Даём контендеру дойти до ожидания блокировки.
	time.Sleep(20 * time.Millisecond)

	updated := locked[0]
	updated.PurchasePrice = decimal.RequireFromString("175.00")
	if err := repo.Update(ctx, first, updated); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := first.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	got := <-observed
	if !got.Equal(decimal.RequireFromString("175.00")) {
		t.Fatalf("next acquirer observed %s, want committed 175.00", got)
	}
}

func TestProductRepository_UpdateWithoutPriorLockAcquiresIt(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewProductRepository(store)
	ctx := context.Background()
	seedProduct(t, repo, "p-1", "cola", "155.79", "100.00")

	tx, _ := store.Begin(ctx)
	defer func() { _ = tx.Rollback() }()

	product := domain.Product{
		ID:            "p-1",
		Name:          "cola",
		SalePrice:     decimal.RequireFromString("155.79"),
		PurchasePrice: decimal.RequireFromString("120.00"),
	}
	if err := repo.Update(ctx, tx, product); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if tx.LockMode("p-1") != domain.LockModeExclusive {
		t.Fatal("expected update to acquire an exclusive ticket")
	}
}

func TestTx_DoubleFinish(t *testing.T) {
	store := memory.NewStore()
	tx, _ := store.Begin(context.Background())

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := tx.Rollback(); err != domain.ErrTxFinished {
		t.Fatalf("expected ErrTxFinished, got %v", err)
	}
}
