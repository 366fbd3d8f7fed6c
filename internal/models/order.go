// internal/models/order.go
package models

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is the buyer-owned aggregate root. TotalPrice always equals
// the sum of unit_price*quantity over its items, enforced at creation.
// SourceProductID is set when the order consumed a won or bought-now
// auction lot.
type Order struct {
	BaseModel
	BuyerID         uuid.UUID       `json:"buyer_id" gorm:"type:uuid;not null;index"`
	Status          OrderStatus     `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	TotalPrice      decimal.Decimal `json:"total_price" gorm:"type:decimal(15,2);not null"`
	ReceiverName    string          `json:"receiver_name" gorm:"size:100"`
	ReceiverPhone   string          `json:"receiver_phone" gorm:"size:30"`
	ReceiverAddress string          `json:"receiver_address" gorm:"size:255"`
	Note            string          `json:"note" gorm:"type:text"`
	SourceProductID *uuid.UUID      `json:"source_product_id" gorm:"type:uuid;index"`

	// Relationships
	Buyer User        `json:"buyer,omitempty" gorm:"foreignKey:BuyerID"`
	Items []OrderItem `json:"items,omitempty" gorm:"foreignKey:OrderID"`
}

// ReferenceNumber is the human-facing order reference shown in emails
// and order listings.
func (o *Order) ReferenceNumber() string {
	return fmt.Sprintf("ORD-%s", o.ID.String()[:8])
}

// OrderItem is one line of an order: a product or one of its SKUs, a
// quantity, and the unit price at time of purchase. Items are owned by
// their order and never shared.
type OrderItem struct {
	BaseModel
	OrderID   uuid.UUID       `json:"order_id" gorm:"type:uuid;not null;index"`
	ProductID uuid.UUID       `json:"product_id" gorm:"type:uuid;not null;index"`
	SkuID     *uuid.UUID      `json:"sku_id" gorm:"type:uuid;index"`
	Quantity  int             `json:"quantity" gorm:"not null"`
	UnitPrice decimal.Decimal `json:"unit_price" gorm:"type:decimal(15,2);not null"`

	// Relationships
	Product Product     `json:"product,omitempty" gorm:"foreignKey:ProductID"`
	Sku     *ProductSku `json:"sku,omitempty" gorm:"foreignKey:SkuID"`
}

// Subtotal is unit price times quantity.
func (i *OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
