package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultClientID = "pms-producer"

// Producer публикует события ценообразования и валидации заказов в Kafka.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer создает producer с идемпотентной записью и ack от всех реплик.
func NewProducer(brokers []string) (*Producer, error) {
	return NewProducerWithClientID(brokers, defaultClientID)
}

// NewProducerWithClientID позволяет задать client.id, чтобы различать
// инстансы сервиса в метриках брокера.
func NewProducerWithClientID(brokers []string, clientID string) (*Producer, error) {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	// Идемпотентная запись требует не более одного запроса в полёте.
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
	}, nil
}

// PublishPriceEvent публикует событие цены в топик price events,
// ключуя по ID товара для упорядоченности внутри партиции.
func (p *Producer) PublishPriceEvent(event *PriceEvent) error {
	return p.publish(TopicPriceEvents, event.ProductID, event)
}

// PublishOrderEvent публикует событие валидации заказа.
func (p *Producer) PublishOrderEvent(event *OrderEvent) error {
	return p.publish(TopicOrderEvents, event.OrderID, event)
}

// PublishEvent публикует произвольное событие в указанный топик.
func (p *Producer) PublishEvent(topic, key string, event interface{}) error {
	return p.publish(topic, key, event)
}

func (p *Producer) publish(topic, key string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")

	return nil
}

// Close закрывает producer
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
