// internal/models/bid.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bid is an immutable audit record. Rows are only ever appended; the
// accepted amounts for a lot are strictly increasing by construction,
// so the amount-maximal bid is unique.
type Bid struct {
	BaseModel
	ProductID uuid.UUID       `json:"product_id" gorm:"type:uuid;not null;index:idx_bids_product_amount"`
	BidderID  uuid.UUID       `json:"bidder_id" gorm:"type:uuid;not null;index"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(15,2);not null;index:idx_bids_product_amount"`
	BidTime   time.Time       `json:"bid_time" gorm:"not null"`

	// Relationships
	Bidder User `json:"bidder,omitempty" gorm:"foreignKey:BidderID"`
}
