package kafka

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType определяет тип события
type EventType string

const (
	// События цен
	EventTypePriceUpdated      EventType = "price.updated"
	EventTypePriceUpdateFailed EventType = "price.update_failed"
	EventTypeSweepCompleted    EventType = "price.sweep_completed"

	// События заказов
	EventTypeOrderAccepted EventType = "order.accepted"
	EventTypeOrderRejected EventType = "order.rejected"
)

// Topics для Kafka
const (
	// TopicPriceCommands — входящие команды на массовое обновление закупочных цен.
	TopicPriceCommands   = "pms.price.commands"
	TopicPriceEvents     = "pms.price.events"
	TopicOrderEvents     = "pms.order.events"
	TopicDeadLetterQueue = "pms.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// PriceCommand — команда на массовое обновление закупочной цены всех товаров.
type PriceCommand struct {
	RequestID        string          `json:"request_id"`
	NewPurchasePrice decimal.Decimal `json:"new_purchase_price"`
	RequestedAt      time.Time       `json:"requested_at"`
}

// PriceEvent представляет событие изменения цены товара
type PriceEvent struct {
	EventType     EventType              `json:"event_type"`
	ProductID     string                 `json:"product_id"`
	PurchasePrice decimal.Decimal        `json:"purchase_price"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// OrderEvent представляет событие валидации заказа
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewPriceEvent создает новое событие цены
func NewPriceEvent(eventType EventType, productID string, purchasePrice decimal.Decimal, metadata map[string]interface{}) *PriceEvent {
	return &PriceEvent{
		EventType:     eventType,
		ProductID:     productID,
		PurchasePrice: purchasePrice,
		Timestamp:     time.Now(),
		Metadata:      metadata,
	}
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}
