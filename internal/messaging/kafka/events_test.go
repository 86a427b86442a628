package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
)

func TestParsePriceCommand(t *testing.T) {
	cmd := PriceCommand{
		RequestID:        "req-1",
		NewPurchasePrice: decimal.RequireFromString("150.00"),
		RequestedAt:      time.Now().UTC(),
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}

	parsed, err := ParsePriceCommand(&sarama.ConsumerMessage{Value: payload})
	if err != nil {
		t.Fatalf("parse command: %v", err)
	}
	if parsed.RequestID != "req-1" {
		t.Fatalf("unexpected request id: %s", parsed.RequestID)
	}
	if !parsed.NewPurchasePrice.Equal(cmd.NewPurchasePrice) {
		t.Fatalf("unexpected price: %s", parsed.NewPurchasePrice)
	}
}

func TestParsePriceCommand_Malformed(t *testing.T) {
	_, err := ParsePriceCommand(&sarama.ConsumerMessage{Value: []byte("{not json")})
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestParsePriceCommand_NegativePrice(t *testing.T) {
	payload, err := json.Marshal(PriceCommand{
		RequestID:        "req-2",
		NewPurchasePrice: decimal.RequireFromString("-1.00"),
	})
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}

	if _, err := ParsePriceCommand(&sarama.ConsumerMessage{Value: payload}); err == nil {
		t.Fatal("expected error for negative price")
	}
}

func TestNewPriceEvent(t *testing.T) {
	event := NewPriceEvent(EventTypePriceUpdated, "p-1", decimal.RequireFromString("150.00"), map[string]interface{}{
		"request_id": "req-1",
	})
	if event.EventType != EventTypePriceUpdated {
		t.Fatalf("unexpected event type: %s", event.EventType)
	}
	if event.ProductID != "p-1" {
		t.Fatalf("unexpected product id: %s", event.ProductID)
	}
	if event.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
}
