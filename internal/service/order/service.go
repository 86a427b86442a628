package order

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/domain"
	"github.com/vladislavdragonenkov/pms/internal/messaging/kafka"
)

// PriceValidator проверяет позиции заказа внутри активной транзакции.
type PriceValidator interface {
	Validate(ctx context.Context, tx domain.Tx, items []domain.OrderItem) error
}

// EventPublisher публикует события валидации заказов. Публикация выполняется
// после завершения транзакции и не влияет на её исход.
type EventPublisher interface {
	PublishOrderEvent(event *kafka.OrderEvent) error
}

// Service сохраняет заказы по схеме validate-then-commit: блокировка товаров,
// проверка минимальных цен и запись заказа происходят в одной транзакции.
// Либо заказ валиден и записан целиком, либо транзакция откатывается без
// частичных записей.
type Service struct {
	txm       domain.TxManager
	orders    domain.OrderRepository
	validator PriceValidator
	publisher EventPublisher // опционален
	logger    *log.Entry
}

// NewService создает сервис сохранения заказов. publisher может быть nil —
// тогда события не публикуются.
func NewService(txm domain.TxManager, orders domain.OrderRepository, validator PriceValidator, publisher EventPublisher, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "order-service")
	}
	return &Service{
		txm:       txm,
		orders:    orders,
		validator: validator,
		publisher: publisher,
		logger:    logger,
	}
}

// Save открывает собственную транзакцию, валидирует и записывает заказ.
// Ошибка валидации или записи откатывает транзакцию целиком и возвращается
// вызывающему без изменений: retry при таймауте блокировок — решение вызывающего.
func (s *Service) Save(ctx context.Context, o *domain.Order) error {
	tx, err := s.txm.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := s.SaveInTx(ctx, tx, o); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).WithField("order_id", o.ID).Error("failed to rollback transaction")
		}
		s.publishRejected(o, err)
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order %s: %w", o.ID, err)
	}

	s.logger.WithFields(log.Fields{
		"order_id": o.ID,
		"items":    len(o.Items),
	}).Info("order saved")
	s.publishAccepted(o)

	return nil
}

// SaveInTx валидирует и записывает заказ в рамках уже открытой транзакции.
// Коммит и откат остаются за вызывающим; блокировки товаров, полученные
// при валидации, удерживаются до конца tx.
func (s *Service) SaveInTx(ctx context.Context, tx domain.Tx, o *domain.Order) error {
	if tx == nil {
		return domain.ErrNoActiveTx
	}

	if errs := o.ValidateInvariants(); len(errs) > 0 {
		return fmt.Errorf("order %s is invalid: %w", o.ID, errors.Join(errs...))
	}

	if err := s.validator.Validate(ctx, tx, o.Items); err != nil {
		return err
	}

	if err := s.orders.Create(ctx, tx, *o); err != nil {
		return fmt.Errorf("create order %s: %w", o.ID, err)
	}

	return nil
}

func (s *Service) publishAccepted(o *domain.Order) {
	if s.publisher == nil {
		return
	}
	event := kafka.NewOrderEvent(kafka.EventTypeOrderAccepted, o.ID, map[string]interface{}{
		"items": len(o.Items),
	})
	if err := s.publisher.PublishOrderEvent(event); err != nil {
		s.logger.WithError(err).WithField("order_id", o.ID).Error("failed to publish order accepted event")
	}
}

func (s *Service) publishRejected(o *domain.Order, cause error) {
	if s.publisher == nil {
		return
	}
	event := kafka.NewOrderEvent(kafka.EventTypeOrderRejected, o.ID, map[string]interface{}{
		"reason": cause.Error(),
	})
	if err := s.publisher.PublishOrderEvent(event); err != nil {
		s.logger.WithError(err).WithField("order_id", o.ID).Error("failed to publish order rejected event")
	}
}
