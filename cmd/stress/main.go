package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/health"
	"github.com/vladislavdragonenkov/pms/internal/service/order"
	"github.com/vladislavdragonenkov/pms/internal/service/product"
	"github.com/vladislavdragonenkov/pms/internal/storage/memory"
	"github.com/vladislavdragonenkov/pms/internal/validator"
)

// Гоняет in-memory движок под конкуренцией: воркеры заказов валидируют и
// коммитят заказы, пока sweep-воркеры массово переписывают закупочные цены.
// Единственные допустимые исходы — успех, отказ по минимальной цене и
// таймаут блокировки; любой другой исход — дефект движка блокировок.

type config struct {
	products     int
	orderWorkers int
	sweepWorkers int
	duration     time.Duration
	lockTimeout  time.Duration
	outputPath   string
	httpAddr     string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type report struct {
	StartedAt        time.Time      `json:"started_at"`
	DurationSeconds  float64        `json:"duration_seconds"`
	OrdersAccepted   int64          `json:"orders_accepted"`
	OrdersRejected   int64          `json:"orders_rejected"`
	OrderLockWaits   int64          `json:"order_lock_timeouts"`
	SweepsCompleted  int64          `json:"sweeps_completed"`
	SweepsAborted    int64          `json:"sweeps_aborted"`
	RowsRewritten    int64          `json:"rows_rewritten"`
	UnexpectedErrors []string       `json:"unexpected_errors,omitempty"`
	OrderLatencyMs   latencySummary `json:"order_latency_ms"`
}

type collector struct {
	mu               sync.Mutex
	accepted         int64
	rejected         int64
	lockTimeouts     int64
	sweepsCompleted  int64
	sweepsAborted    int64
	rowsRewritten    int64
	unexpectedErrors []string
	orderLatencies   []float64
}

func (c *collector) recordOrder(latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.orderLatencies = append(c.orderLatencies, float64(latency.Microseconds())/1000.0)
	switch {
	case err == nil:
		c.accepted++
	case domain.IsPriceBelowMinimum(err):
		c.rejected++
	case domain.IsLockAcquisition(err):
		c.lockTimeouts++
	default:
		c.unexpectedErrors = append(c.unexpectedErrors, err.Error())
	}
}

func (c *collector) recordSweep(rows int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rowsRewritten += int64(rows)
	switch {
	case err == nil:
		c.sweepsCompleted++
	case domain.IsLockAcquisition(err):
		c.sweepsAborted++
	default:
		c.unexpectedErrors = append(c.unexpectedErrors, err.Error())
	}
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	return report{
		StartedAt:        startedAt.UTC(),
		DurationSeconds:  duration.Seconds(),
		OrdersAccepted:   c.accepted,
		OrdersRejected:   c.rejected,
		OrderLockWaits:   c.lockTimeouts,
		SweepsCompleted:  c.sweepsCompleted,
		SweepsAborted:    c.sweepsAborted,
		RowsRewritten:    c.rowsRewritten,
		UnexpectedErrors: c.unexpectedErrors,
		OrderLatencyMs:   buildLatencySummary(c.orderLatencies),
	}
}

func parseConfig() (config, error) {
	var cfg config
	var durationValue, lockTimeoutValue string

	flag.IntVar(&cfg.products, "products", 20, "number of products in the catalog")
	flag.IntVar(&cfg.orderWorkers, "order-workers", 16, "number of concurrent order workers")
	flag.IntVar(&cfg.sweepWorkers, "sweep-workers", 2, "number of concurrent bulk price sweep workers")
	flag.StringVar(&durationValue, "duration", "10s", "run duration (e.g. 30s, 2m)")
	flag.StringVar(&lockTimeoutValue, "lock-timeout", "100ms", "exclusive lock acquisition timeout")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.StringVar(&cfg.httpAddr, "http-addr", "", "optional address serving /healthz and /metrics during the run")
	flag.Parse()

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	lockTimeout, err := time.ParseDuration(strings.TrimSpace(lockTimeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse lock-timeout: %w", err)
	}
	cfg.lockTimeout = lockTimeout

	if cfg.products <= 0 {
		return cfg, errors.New("products must be > 0")
	}
	if cfg.orderWorkers <= 0 {
		return cfg, errors.New("order-workers must be > 0")
	}
	if cfg.sweepWorkers < 0 {
		return cfg, errors.New("sweep-workers must be >= 0")
	}
	if cfg.duration <= 0 {
		return cfg, errors.New("duration must be > 0")
	}
	if cfg.lockTimeout <= 0 {
		return cfg, errors.New("lock-timeout must be > 0")
	}

	return cfg, nil
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log.SetLevel(log.WarnLevel)

	store := memory.NewStoreWithLockTimeout(cfg.lockTimeout)
	products := memory.NewProductRepository(store)
	orders := memory.NewOrderRepository(store)

	// Продажная цена 155.79 проходит при закупочной 100.00 (порог 150.00)
	// и отклоняется при закупочной 150.00 (порог 225.00).
	salePrice := decimal.RequireFromString("155.79")
	lowPurchase := decimal.RequireFromString("100.00")
	highPurchase := decimal.RequireFromString("150.00")

	ctx := context.Background()
	catalog := make([]domain.Product, 0, cfg.products)
	for i := 0; i < cfg.products; i++ {
		p := domain.Product{
			ID:            fmt.Sprintf("p-%04d", i),
			Name:          fmt.Sprintf("stress product %d", i),
			SalePrice:     salePrice,
			PurchasePrice: lowPurchase,
		}
		if err := products.Create(ctx, p); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "seed catalog: %v\n", err)
			os.Exit(1)
		}
		catalog = append(catalog, p)
	}

	// С включённым HTTP-эндпоинтом метрики пишутся в default registry
	// и отдаются через /metrics прямо во время прогона.
	var (
		v           *validator.MinPrice
		bulkService *product.BulkService
	)
	if cfg.httpAddr != "" {
		v = validator.NewMinPrice(products, decimal.Decimal{}, cfg.lockTimeout, nil)
		bulkService = product.NewBulkService(store, products, cfg.lockTimeout, nil, nil)
		startHTTP(cfg.httpAddr)
	} else {
		v = validator.NewMinPriceWithoutMetrics(products, decimal.Decimal{}, cfg.lockTimeout, nil)
		bulkService = product.NewBulkServiceWithoutMetrics(store, products, cfg.lockTimeout, nil, nil)
	}
	orderService := order.NewService(store, orders, v, nil, nil)

	runCtx, cancel := context.WithTimeout(ctx, cfg.duration)
	defer cancel()

	col := &collector{}
	startedAt := time.Now()
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.orderWorkers; workerID++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for runCtx.Err() == nil {
				o := domain.NewOrder()
				// От одной до трёх случайных позиций на заказ.
				for n := 1 + rng.Intn(3); n > 0; n-- {
					domain.AttachItem(o, catalog[rng.Intn(len(catalog))], int32(1+rng.Intn(5)))
				}
				start := time.Now()
				err := orderService.Save(ctx, o)
				col.recordOrder(time.Since(start), err)
			}
		}(int64(workerID) + 1)
	}

	for workerID := 0; workerID < cfg.sweepWorkers; workerID++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(-seed))
			for runCtx.Err() == nil {
				price := lowPurchase
				if rng.Intn(2) == 0 {
					price = highPurchase
				}
				rows, err := bulkService.UpdateAllPurchasePrices(ctx, price)
				col.recordSweep(rows, err)
			}
		}(int64(workerID) + 1)
	}

	wg.Wait()
	result := col.buildReport(startedAt, time.Since(startedAt))

	printReport(result)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if len(result.UnexpectedErrors) > 0 {
		os.Exit(1)
	}
}

func startHTTP(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(os.Stderr, "http server: %v\n", err)
		}
	}()
}

func printReport(result report) {
	fmt.Println("Stress run summary")
	fmt.Printf("duration=%.2fs accepted=%d rejected=%d lock_timeouts=%d\n",
		result.DurationSeconds, result.OrdersAccepted, result.OrdersRejected, result.OrderLockWaits)
	fmt.Printf("sweeps: completed=%d aborted=%d rows_rewritten=%d\n",
		result.SweepsCompleted, result.SweepsAborted, result.RowsRewritten)
	fmt.Printf("order latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.OrderLatencyMs.Min,
		result.OrderLatencyMs.Avg,
		result.OrderLatencyMs.P50,
		result.OrderLatencyMs.P95,
		result.OrderLatencyMs.P99,
		result.OrderLatencyMs.Max,
	)
	if len(result.UnexpectedErrors) > 0 {
		fmt.Printf("UNEXPECTED ERRORS (%d):\n", len(result.UnexpectedErrors))
		for _, msg := range result.UnexpectedErrors {
			fmt.Printf("  %s\n", msg)
		}
	}
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local stress reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}
