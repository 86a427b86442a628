package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pms/internal/metrics"
	"github.com/vladislavdragonenkov/pms/internal/validator"
)

// EventPublisher публикует события изменения цен. Публикация выполняется
// после коммита строки и не влияет на исход обновления.
type EventPublisher interface {
	PublishPriceEvent(event *kafka.PriceEvent) error
}

// BulkService массово переписывает закупочные цены товаров. Каждая строка
// обновляется в собственной короткой транзакции под эксклюзивной блокировкой:
// обход не держит блокировки на весь каталог разом, и уже закоммиченные
// строки остаются обновлёнными, даже если обход прерван на середине.
type BulkService struct {
	txm         domain.TxManager
	products    domain.ProductRepository
	lockTimeout time.Duration
	publisher   EventPublisher // опционален
	logger      *log.Entry
	metrics     *metrics.PricingMetrics
}

// NewBulkService создает сервис массового обновления цен с метриками в
// default registry. publisher может быть nil.
func NewBulkService(txm domain.TxManager, products domain.ProductRepository, lockTimeout time.Duration, publisher EventPublisher, logger *log.Entry) *BulkService {
	s := newBulkService(txm, products, lockTimeout, publisher, logger)
	s.metrics = metrics.NewPricingMetrics()
	return s
}

// NewBulkServiceWithoutMetrics создает сервис без метрик (для тестов).
func NewBulkServiceWithoutMetrics(txm domain.TxManager, products domain.ProductRepository, lockTimeout time.Duration, publisher EventPublisher, logger *log.Entry) *BulkService {
	return newBulkService(txm, products, lockTimeout, publisher, logger)
}

func newBulkService(txm domain.TxManager, products domain.ProductRepository, lockTimeout time.Duration, publisher EventPublisher, logger *log.Entry) *BulkService {
	if lockTimeout <= 0 {
		lockTimeout = validator.DefaultLockTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "bulk-price-service")
	}
	return &BulkService{
		txm:         txm,
		products:    products,
		lockTimeout: lockTimeout,
		publisher:   publisher,
		logger:      logger,
	}
}

// UpdateAllPurchasePrices выставляет newPrice как закупочную цену каждого
// товара каталога. Возвращает число переписанных строк. Если блокировка
// очередной строки не получена за таймаут, обход прерывается и ошибка
// возвращается вызывающему; частично применённые строки не откатываются.
func (s *BulkService) UpdateAllPurchasePrices(ctx context.Context, newPrice decimal.Decimal) (int, error) {
	if newPrice.IsNegative() {
		return 0, fmt.Errorf("%w: purchase price %s", domain.ErrPriceNegative, newPrice)
	}

	if s.metrics != nil {
		s.metrics.RecordBulkSweep()
	}

	all, err := s.products.FetchAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch products: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"products":  len(all),
		"new_price": newPrice.String(),
	}).Info("starting bulk purchase price update")

	updated := 0
	for _, p := range all {
		if err := s.updateOne(ctx, p.ID, newPrice); err != nil {
			// Товар мог быть удалён между FetchAll и транзакцией строки.
			if errors.Is(err, domain.ErrProductNotFound) {
				continue
			}
			s.publishFailed(p.ID, newPrice, err)
			return updated, err
		}
		updated++
		if s.metrics != nil {
			s.metrics.RecordBulkRowUpdated()
		}
		s.publishUpdated(p.ID, newPrice)
	}

	s.logger.WithField("updated", updated).Info("bulk purchase price update completed")
	return updated, nil
}

// updateOne переписывает одну строку в собственной транзакции: блокировка,
// чтение актуального значения, запись, коммит.
func (s *BulkService) updateOne(ctx context.Context, productID string, newPrice decimal.Decimal) error {
	tx, err := s.txm.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := s.rewriteLocked(ctx, tx, productID, newPrice); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).WithField("product_id", productID).Error("failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit product %s: %w", productID, err)
	}
	return nil
}

func (s *BulkService) rewriteLocked(ctx context.Context, tx domain.Tx, productID string, newPrice decimal.Decimal) error {
	locked, err := s.products.FetchLocked(ctx, tx, []string{productID}, s.lockTimeout)
	if err != nil {
		if s.metrics != nil && domain.IsLockAcquisition(err) {
			s.metrics.RecordLockTimeout()
		}
		return err
	}

	p := locked[0]
	p.PurchasePrice = newPrice
	if err := s.products.Update(ctx, tx, p); err != nil {
		return fmt.Errorf("update product %s: %w", productID, err)
	}
	return nil
}

func (s *BulkService) publishUpdated(productID string, newPrice decimal.Decimal) {
	if s.publisher == nil {
		return
	}
	event := kafka.NewPriceEvent(kafka.EventTypePriceUpdated, productID, newPrice, nil)
	if err := s.publisher.PublishPriceEvent(event); err != nil {
		s.logger.WithError(err).WithField("product_id", productID).Error("failed to publish price updated event")
	}
}

func (s *BulkService) publishFailed(productID string, newPrice decimal.Decimal, cause error) {
	if s.publisher == nil {
		return
	}
	event := kafka.NewPriceEvent(kafka.EventTypePriceUpdateFailed, productID, newPrice, map[string]interface{}{
		"reason": cause.Error(),
	})
	if err := s.publisher.PublishPriceEvent(event); err != nil {
		s.logger.WithError(err).WithField("product_id", productID).Error("failed to publish price update failed event")
	}
}
