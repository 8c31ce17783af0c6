package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
	TopicShopStatusChanged  = "shop.status.changed"
)

const producer = "bazaar"

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order or shop id
	Payload       json.RawMessage `json:"payload"`
}

// New wraps payload for topic. The topic doubles as the event type.
func New(topic, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     topic,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// Decode unpacks the payload of an envelope into T.
func Decode[T any](e Envelope) (T, error) {
	var t T
	err := json.Unmarshal(e.Payload, &t)
	return t, err
}

type OrderLine struct {
	ProductID string          `json:"product_id"`
	ShopID    string          `json:"shop_id"`
	Qty       int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
}

type OrderCreatedPayload struct {
	OrderID string          `json:"order_id"`
	Number  string          `json:"number"`
	BuyerID string          `json:"buyer_id"`
	Items   []OrderLine     `json:"items"`
	Total   decimal.Decimal `json:"total"`
}

type OrderStatusChangedPayload struct {
	OrderID   string `json:"order_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	ActorID   string `json:"actor_id"`
	Note      string `json:"note,omitempty"`
	Restocked bool   `json:"restocked,omitempty"`
}

type ShopStatusChangedPayload struct {
	ShopID  string `json:"shop_id"`
	OwnerID string `json:"owner_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	ActorID string `json:"actor_id"`
}
