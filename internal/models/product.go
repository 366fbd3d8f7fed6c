// internal/models/product.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Product is a catalog listing. A product becomes an auction lot when
// it carries a BidEndTime; DirectBuyPrice is the optional buy-now
// price below which incremental bidding applies.
//
// LotVersion is a monotonic counter bumped on every accepted bid or
// lifecycle transition. Writers include the version they read in their
// UPDATE predicate, so two bids admitted against the same snapshot can
// never both commit.
type Product struct {
	BaseModel
	SellerID       uuid.UUID        `json:"seller_id" gorm:"type:uuid;not null;index"`
	Name           string           `json:"name" gorm:"size:200;not null"`
	Category       string           `json:"category" gorm:"size:100;index"`
	Description    string           `json:"description" gorm:"type:text"`
	StartPrice     decimal.Decimal  `json:"start_price" gorm:"type:decimal(15,2)"`
	DirectBuyPrice *decimal.Decimal `json:"direct_buy_price" gorm:"type:decimal(15,2)"`
	StockQuantity  int              `json:"stock_quantity" gorm:"default:0"`
	Images         pq.StringArray   `json:"images" gorm:"type:text"`
	Specifications JSONB            `json:"specifications" gorm:"type:jsonb"`
	BidEndTime     *time.Time       `json:"bid_end_time" gorm:"index"`
	Status         ProductStatus    `json:"status" gorm:"type:varchar(20);default:'active';index"`
	LotVersion     int64            `json:"-" gorm:"default:0"`

	// Relationships
	Seller User         `json:"seller,omitempty" gorm:"foreignKey:SellerID"`
	Skus   []ProductSku `json:"skus,omitempty" gorm:"foreignKey:ProductID"`
}

// IsAuctionLot reports whether the product was listed under timed
// bidding rules at all, regardless of whether bidding is still open.
func (p *Product) IsAuctionLot() bool {
	return p.BidEndTime != nil
}

// IsAuctionOpen reports whether bids can still be admitted.
func (p *Product) IsAuctionOpen(now time.Time) bool {
	return p.Status == ProductStatusAuction && p.BidEndTime != nil && now.Before(*p.BidEndTime)
}

// HasDirectBuy reports whether a valid buy-now price is configured.
func (p *Product) HasDirectBuy() bool {
	return p.DirectBuyPrice != nil && p.DirectBuyPrice.IsPositive()
}

// ProductSku is a purchasable variant carrying its own price and
// stock, mutually exclusive with product-level stock per line item.
type ProductSku struct {
	BaseModel
	ProductID uuid.UUID       `json:"product_id" gorm:"type:uuid;not null;index"`
	Spec      JSONB           `json:"spec" gorm:"type:jsonb;not null"`
	Price     decimal.Decimal `json:"price" gorm:"type:decimal(15,2);not null"`
	Stock     int             `json:"stock" gorm:"not null"`
}
