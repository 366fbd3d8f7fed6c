// internal/services/bid_ledger.go
package services

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bidmarket/bidmarket-backend/internal/apperrors"
	"github.com/bidmarket/bidmarket-backend/internal/models"
)

// BidLedger is the append-only store of bids. Individual bids are
// never updated or deleted; the ledger is the audit trail the auction
// engine reads its "current highest" from.
type BidLedger struct {
	db *gorm.DB
}

func NewBidLedger(db *gorm.DB) *BidLedger {
	return &BidLedger{db: db}
}

// Append records an accepted bid inside the caller's transaction.
func (l *BidLedger) Append(tx *gorm.DB, lotID, bidderID uuid.UUID, amount decimal.Decimal, at time.Time) (*models.Bid, error) {
	bid := &models.Bid{
		ProductID: lotID,
		BidderID:  bidderID,
		Amount:    amount,
		BidTime:   at,
	}
	if err := tx.Create(bid).Error; err != nil {
		return nil, apperrors.Wrap(err, "failed to append bid")
	}
	return bid, nil
}

// HighestBid returns the amount-maximal bid for a lot, or nil when the
// lot has no bids yet. Ties cannot occur because accepted amounts are
// strictly increasing.
func (l *BidLedger) HighestBid(tx *gorm.DB, lotID uuid.UUID) (*models.Bid, error) {
	var bid models.Bid
	err := tx.Where("product_id = ?", lotID).
		Order("amount DESC").
		First(&bid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query highest bid")
	}
	return &bid, nil
}

// History returns the most recent bids for a lot, newest first.
func (l *BidLedger) History(lotID uuid.UUID, limit int) ([]models.Bid, error) {
	var bids []models.Bid
	if err := l.db.Where("product_id = ?", lotID).
		Order("bid_time DESC").
		Limit(limit).
		Preload("Bidder").
		Find(&bids).Error; err != nil {
		return nil, apperrors.Wrap(err, "failed to query bid history")
	}
	return bids, nil
}

// CountForLot returns the number of bids recorded for a lot.
func (l *BidLedger) CountForLot(lotID uuid.UUID) (int64, error) {
	var count int64
	if err := l.db.Model(&models.Bid{}).
		Where("product_id = ?", lotID).
		Count(&count).Error; err != nil {
		return 0, apperrors.Wrap(err, "failed to count bids")
	}
	return count, nil
}

// ListByBidder returns all bids a user has placed, newest first.
func (l *BidLedger) ListByBidder(bidderID uuid.UUID) ([]models.Bid, error) {
	var bids []models.Bid
	if err := l.db.Where("bidder_id = ?", bidderID).
		Order("bid_time DESC").
		Find(&bids).Error; err != nil {
		return nil, apperrors.Wrap(err, "failed to query bidder history")
	}
	return bids, nil
}
