package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/metrics"
)

// DefaultLockTimeout — явная верхняя граница ожидания эксклюзивных блокировок.
// «Ждать вечно» — неприемлемый контракт для конкурентной системы; 5 секунд
// переживают короткие пики контенции и при этом быстро откатывают зависший вызов.
const DefaultLockTimeout = 5 * time.Second

// DefaultMarginFactor возвращает коэффициент маржи по умолчанию: минимальная
// цена продажи равна закупочной цене, умноженной на 1.5.
func DefaultMarginFactor() decimal.Decimal {
	return decimal.New(15, -1)
}

// MinPrice проверяет, что предложенные цены продажи позиций заказа не ниже
// минимально допустимых, рассчитанных от эксклюзивно заблокированных
// закупочных цен. Валидатор никогда не открывает собственную транзакцию:
// он требует уже активную, и вызов вне транзакции — ошибка использования.
type MinPrice struct {
	products     domain.ProductRepository
	marginFactor decimal.Decimal
	lockTimeout  time.Duration
	logger       *log.Entry
	metrics      *metrics.PricingMetrics
}

// NewMinPrice создаёт валидатор с метриками в default registry.
// Нулевые marginFactor и lockTimeout заменяются значениями по умолчанию.
func NewMinPrice(products domain.ProductRepository, marginFactor decimal.Decimal, lockTimeout time.Duration, logger *log.Entry) *MinPrice {
	v := newMinPrice(products, marginFactor, lockTimeout, logger)
	v.metrics = metrics.NewPricingMetrics()
	return v
}

// NewMinPriceWithoutMetrics создаёт валидатор без метрик (для тестов).
func NewMinPriceWithoutMetrics(products domain.ProductRepository, marginFactor decimal.Decimal, lockTimeout time.Duration, logger *log.Entry) *MinPrice {
	return newMinPrice(products, marginFactor, lockTimeout, logger)
}

func newMinPrice(products domain.ProductRepository, marginFactor decimal.Decimal, lockTimeout time.Duration, logger *log.Entry) *MinPrice {
	if marginFactor.IsZero() {
		marginFactor = DefaultMarginFactor()
	}
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "minprice-validator")
	}
	return &MinPrice{
		products:     products,
		marginFactor: marginFactor,
		lockTimeout:  lockTimeout,
		logger:       logger,
	}
}

// Validate блокирует товары всех позиций и сверяет каждую предложенную цену
// продажи с минимально допустимой. Блокировки удерживаются до конца tx:
// закупочная цена не может измениться между чтением и вердиктом.
// Первая найденная позиция с нарушением прерывает весь вызов.
func (v *MinPrice) Validate(ctx context.Context, tx domain.Tx, items []domain.OrderItem) error {
	if tx == nil {
		return domain.ErrNoActiveTx
	}

	start := time.Now()
	if v.metrics != nil {
		v.metrics.RecordValidation()
		defer func() {
			v.metrics.RecordValidationDuration(time.Since(start))
		}()
	}

	if len(items) == 0 {
		return nil
	}

	ids := distinctProductIDs(items)
	v.logger.WithField("products", len(ids)).Info("starting minimum sale price validation")

	lockStart := time.Now()
	locked, err := v.products.FetchLocked(ctx, tx, ids, v.lockTimeout)
	if v.metrics != nil {
		v.metrics.RecordLockWait(time.Since(lockStart))
	}
	if err != nil {
		if v.metrics != nil {
			if domain.IsLockAcquisition(err) {
				v.metrics.RecordLockTimeout()
				v.metrics.RecordValidationFailed(metrics.ReasonLockTimeout)
			} else {
				v.metrics.RecordValidationFailed(metrics.ReasonStorage)
			}
		}
		return err
	}

	byID := make(map[string]domain.Product, len(locked))
	for _, p := range locked {
		byID[p.ID] = p
	}

	for _, item := range items {
		lockedProduct, ok := byID[item.ProductID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrProductNotFound, item.ProductID)
		}
		if err := v.validateItem(tx, item, lockedProduct); err != nil {
			return err
		}
	}

	return nil
}

// validateItem сверяет одну позицию с эксклюзивно заблокированной строкой товара.
func (v *MinPrice) validateItem(tx domain.Tx, item domain.OrderItem, lockedProduct domain.Product) error {
	if err := AssertExclusivelyLocked(tx, lockedProduct); err != nil {
		if v.metrics != nil {
			v.metrics.RecordValidationFailed(metrics.ReasonLockMode)
		}
		return err
	}

	minimum := lockedProduct.MinimumSalePrice(v.marginFactor)
	if item.UnitPrice.LessThan(minimum) {
		if v.metrics != nil {
			v.metrics.RecordValidationFailed(metrics.ReasonBelowMinimum)
		}
		return &domain.PriceBelowMinimumError{
			ProductName:   lockedProduct.Name,
			SalePrice:     item.UnitPrice,
			PurchasePrice: lockedProduct.PurchasePrice,
			MinimumPrice:  minimum,
			UpdatedAt:     lockedProduct.UpdatedAt,
		}
	}

	v.logger.WithFields(log.Fields{
		"product":        lockedProduct.Name,
		"sale_price":     item.UnitPrice.String(),
		"purchase_price": lockedProduct.PurchasePrice.String(),
	}).Debug("minimum sale price validated")

	return nil
}

// distinctProductIDs извлекает уникальные ID товаров, сохраняя порядок позиций.
func distinctProductIDs(items []domain.OrderItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}
