package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `db:"id" json:"id"`
	ShopID      string          `db:"shop_id" json:"shopId"`
	Title       string          `db:"title" json:"title"`
	Description string          `db:"description" json:"description,omitempty"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Qty         int             `db:"qty" json:"qty"`
	CreatedAt   string          `db:"created_at" json:"-"`
	UpdatedAt   string          `db:"updated_at" json:"-"`
}

// CatalogItem is a product joined with the state of the shop that sells it.
type CatalogItem struct {
	Product
	ShopOwnerID string     `db:"shop_owner_id"`
	ShopStatus  ShopStatus `db:"shop_status"`
	ShopActive  bool       `db:"shop_active"`
}

// Orderable reports whether the owning shop currently allows purchases.
func (c CatalogItem) Orderable() bool {
	return c.ShopStatus == ShopApproved && c.ShopActive
}

type Availability struct {
	Status string `json:"status"` // IN_STOCK | LOW_STOCK | OUT_OF_STOCK
	Qty    int    `json:"qty,omitempty"`
}

type Shop struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"ownerId"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Status        ShopStatus    `json:"status"`
	IsActive      bool          `json:"isActive"`
	StatusHistory []StatusEntry `json:"statusHistory"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// StatusEntry is one append-only audit record for an order or shop.
type StatusEntry struct {
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	ActorID   string    `json:"actorId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type OrderItem struct {
	ProductID string          `json:"productId"`
	ShopID    string          `json:"shopId"`
	SellerID  string          `json:"sellerId"`
	Title     string          `json:"title"`
	Qty       int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type Pricing struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	Tax          decimal.Decimal `json:"tax"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
	Discount     decimal.Decimal `json:"discount"`
	Total        decimal.Decimal `json:"total"`
}

type ShopTotal struct {
	ShopID    string          `json:"shopId"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	ItemCount int             `json:"itemCount"`
}

type PaymentMethod string

const (
	PaymentCard   PaymentMethod = "CARD"
	PaymentCOD    PaymentMethod = "COD"
	PaymentWallet PaymentMethod = "WALLET"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type Payment struct {
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transactionId,omitempty"`
}

// Address is persisted as a JSON snapshot taken at placement time.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (a Address) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Address) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Address{}
		return nil
	case string:
		return json.Unmarshal([]byte(v), a)
	case []byte:
		return json.Unmarshal(v, a)
	}
	return errors.New("address: unsupported column type")
}

type Order struct {
	ID              string        `json:"id"`
	Number          string        `json:"number"`
	BuyerID         string        `json:"buyerId"`
	Items           []OrderItem   `json:"items"`
	Pricing         Pricing       `json:"pricing"`
	Status          OrderStatus   `json:"status"`
	StatusHistory   []StatusEntry `json:"statusHistory"`
	ShippingAddress Address       `json:"shippingAddress"`
	Payment         Payment       `json:"payment"`
	IdempotencyKey  string        `json:"-"`
	Version         int           `json:"version"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// ShopTotals groups line subtotals by shop in first-seen order.
func (o Order) ShopTotals() []ShopTotal {
	var out []ShopTotal
	idx := map[string]int{}
	for _, it := range o.Items {
		i, ok := idx[it.ShopID]
		if !ok {
			i = len(out)
			idx[it.ShopID] = i
			out = append(out, ShopTotal{ShopID: it.ShopID, Subtotal: decimal.Zero})
		}
		out[i].Subtotal = out[i].Subtotal.Add(it.Subtotal)
		out[i].ItemCount += it.Qty
	}
	return out
}
