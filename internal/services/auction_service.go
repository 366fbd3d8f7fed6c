// internal/services/auction_service.go
package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bidmarket/bidmarket-backend/internal/apperrors"
	"github.com/bidmarket/bidmarket-backend/internal/config"
	"github.com/bidmarket/bidmarket-backend/internal/database"
	"github.com/bidmarket/bidmarket-backend/internal/events"
	"github.com/bidmarket/bidmarket-backend/internal/models"
)

// IncrementPolicy computes the minimum amount a new bid must add on
// top of the current highest (or the start price when no bids exist).
type IncrementPolicy func(current decimal.Decimal) decimal.Decimal

// FixedIncrement is the default policy: a constant step regardless of
// the current price.
func FixedIncrement(step decimal.Decimal) IncrementPolicy {
	return func(decimal.Decimal) decimal.Decimal {
		return step
	}
}

// AuctionService is the state machine governing auction lots: it
// admits bids, resolves buy-now purchases, and sweeps expired lots
// into their terminal state.
//
// Bid admission is a compare-and-append linearized per lot through the
// lot_version counter on the products row: the admitting transaction
// re-asserts the version it validated against in its UPDATE predicate
// and fails with Conflict when another bid got there first. Lots never
// leave the ended state.
type AuctionService struct {
	db            *gorm.DB
	bids          *BidLedger
	orders        *OrderService
	notifications *NotificationService
	publisher     events.Publisher
	increment     IncrementPolicy
	historyLimit  int
}

func NewAuctionService(db *gorm.DB, bids *BidLedger, orders *OrderService, notifications *NotificationService, publisher events.Publisher, cfg config.AuctionConfig) *AuctionService {
	step, err := decimal.NewFromString(cfg.MinIncrement)
	if err != nil || !step.IsPositive() {
		step = decimal.NewFromInt(10)
	}

	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 10
	}

	return &AuctionService{
		db:            db,
		bids:          bids,
		orders:        orders,
		notifications: notifications,
		publisher:     publisher,
		increment:     FixedIncrement(step),
		historyLimit:  historyLimit,
	}
}

// SetIncrementPolicy swaps the increment policy, e.g. for a
// percentage-based step. Intended for wiring time, not mid-flight.
func (s *AuctionService) SetIncrementPolicy(p IncrementPolicy) {
	if p != nil {
		s.increment = p
	}
}

type BidResult struct {
	Bid          *models.Bid     `json:"bid"`
	IsNewHighest bool            `json:"is_new_highest"`
	MinimumNext  decimal.Decimal `json:"minimum_next"`
}

// PlaceBid admits a bid on an open lot. Preconditions are checked in a
// fixed order so the first failing one determines the error surfaced
// to the caller.
func (s *AuctionService) PlaceBid(lotID, bidderID uuid.UUID, amount decimal.Decimal) (*BidResult, error) {
	now := time.Now()

	var result *BidResult
	var accepted events.BidAccepted

	err := s.db.Transaction(func(tx *gorm.DB) error {
		lot, err := s.loadLot(tx, lotID)
		if err != nil {
			return err
		}

		highest, err := s.bids.HighestBid(tx, lotID)
		if err != nil {
			return err
		}

		if err := validateBid(lot, highest, bidderID, amount, now, s.increment); err != nil {
			return err
		}

		// Commit point: re-assert the version the preconditions were
		// validated against. Zero rows means a concurrent bid or a
		// buy-now won the race on this lot.
		res := tx.Model(&models.Product{}).
			Where("id = ? AND lot_version = ? AND status = ?", lot.ID, lot.LotVersion, models.ProductStatusAuction).
			UpdateColumn("lot_version", gorm.Expr("lot_version + 1"))
		if res.Error != nil {
			return apperrors.Wrap(res.Error, "failed to advance lot version")
		}
		if res.RowsAffected == 0 {
			return apperrors.New(apperrors.KindConflict, "LOT_VERSION_CONFLICT",
				"another bid was accepted first, refresh and retry")
		}

		bid, err := s.bids.Append(tx, lotID, bidderID, amount, now)
		if err != nil {
			return err
		}

		accepted = events.BidAccepted{
			LotID:    lotID,
			BidderID: bidderID,
			Amount:   amount,
			BidTime:  now,
		}
		if highest != nil {
			prev := highest.BidderID
			accepted.PreviousBidderID = &prev
		}

		result = &BidResult{
			Bid:          bid,
			IsNewHighest: true,
			MinimumNext:  amount.Add(s.increment(amount)),
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	s.publisher.Publish(events.TypeBidAccepted, accepted)
	if accepted.PreviousBidderID != nil && s.notifications != nil {
		go s.notifications.SendOutbidNotification(lotID, *accepted.PreviousBidderID, amount)
	}

	logrus.WithFields(logrus.Fields{
		"lot_id":    lotID,
		"bidder_id": bidderID,
		"amount":    amount.String(),
	}).Info("Bid accepted")

	return result, nil
}

// validateBid applies the admission preconditions against the snapshot
// the transaction read. It never mutates state.
func validateBid(lot *models.Product, highest *models.Bid, bidderID uuid.UUID, amount decimal.Decimal, now time.Time, increment IncrementPolicy) error {
	if !lot.IsAuctionLot() {
		return apperrors.New(apperrors.KindInvalidState, "NOT_AUCTION", "this product is not an auction lot")
	}

	if !lot.IsAuctionOpen(now) {
		return apperrors.New(apperrors.KindInvalidState, "AUCTION_CLOSED", "the auction has ended")
	}

	if bidderID == lot.SellerID {
		return apperrors.New(apperrors.KindInvalidState, "SELF_BID", "sellers cannot bid on their own lot")
	}

	if !amount.IsPositive() {
		return apperrors.New(apperrors.KindInvalidInput, "INVALID_AMOUNT", "bid amount must be positive")
	}

	current := lot.StartPrice
	if highest != nil {
		current = highest.Amount
	}
	minimum := current.Add(increment(current))
	if amount.LessThan(minimum) {
		return apperrors.Newf(apperrors.KindInvalidInput, "BID_TOO_LOW",
			"bid must be at least %s", minimum.StringFixed(2))
	}

	if lot.HasDirectBuy() && amount.GreaterThanOrEqual(*lot.DirectBuyPrice) {
		return apperrors.Newf(apperrors.KindInvalidState, "USE_BUY_NOW",
			"bids at or above the direct-buy price %s must use buy-now", lot.DirectBuyPrice.StringFixed(2))
	}

	if highest != nil && highest.BidderID == bidderID {
		return apperrors.New(apperrors.KindInvalidState, "ALREADY_HIGHEST", "you are already the highest bidder")
	}

	return nil
}

// AuctionSnapshot is the read-only projection served to lot pages.
type AuctionSnapshot struct {
	IsAuction       bool                `json:"is_auction"`
	LotID           uuid.UUID           `json:"lot_id,omitempty"`
	StartPrice      decimal.Decimal     `json:"start_price"`
	CurrentPrice    decimal.Decimal     `json:"current_price"`
	DirectBuyPrice  *decimal.Decimal    `json:"direct_buy_price,omitempty"`
	EndTime         *time.Time          `json:"end_time,omitempty"`
	IsEnded         bool                `json:"is_ended"`
	BidCount        int64               `json:"bid_count"`
	CurrentWinner   string              `json:"current_winner,omitempty"`
	CurrentWinnerID *uuid.UUID          `json:"current_winner_id,omitempty"`
	RecentBids      []BidHistoryEntry   `json:"recent_bids"`
	NextMinBid      decimal.Decimal     `json:"next_min_bid"`
	StatusMessage   string              `json:"status_message"`
}

type BidHistoryEntry struct {
	Amount     decimal.Decimal `json:"amount"`
	BidTime    time.Time       `json:"bid_time"`
	BidderName string          `json:"bidder_name"`
	BidderID   uuid.UUID       `json:"bidder_id"`
}

// GetAuctionInfo projects the current auction state of a lot. Bidder
// identities in the public history are masked. Never mutates state.
func (s *AuctionService) GetAuctionInfo(lotID uuid.UUID) (*AuctionSnapshot, error) {
	now := time.Now()

	var lot models.Product
	err := s.db.First(&lot, "id = ?", lotID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.KindNotFound, "LOT_NOT_FOUND", "auction lot not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load lot")
	}

	if !lot.IsAuctionLot() {
		return &AuctionSnapshot{IsAuction: false}, nil
	}

	highest, err := s.bids.HighestBid(s.db, lotID)
	if err != nil {
		return nil, err
	}

	recent, err := s.bids.History(lotID, s.historyLimit)
	if err != nil {
		return nil, err
	}

	bidCount, err := s.bids.CountForLot(lotID)
	if err != nil {
		return nil, err
	}

	current := lot.StartPrice
	if highest != nil {
		current = highest.Amount
	}

	snapshot := &AuctionSnapshot{
		IsAuction:      true,
		LotID:          lot.ID,
		StartPrice:     lot.StartPrice,
		CurrentPrice:   current,
		DirectBuyPrice: lot.DirectBuyPrice,
		EndTime:        lot.BidEndTime,
		IsEnded:        !lot.IsAuctionOpen(now),
		BidCount:       bidCount,
		NextMinBid:     current.Add(s.increment(current)),
		RecentBids:     make([]BidHistoryEntry, 0, len(recent)),
	}

	winnerName := ""
	if highest != nil {
		var winner models.User
		if err := s.db.First(&winner, "id = ?", highest.BidderID).Error; err == nil {
			winnerName = winner.Username
		}
		winnerID := highest.BidderID
		snapshot.CurrentWinner = winnerName
		snapshot.CurrentWinnerID = &winnerID
	}

	for _, bid := range recent {
		snapshot.RecentBids = append(snapshot.RecentBids, BidHistoryEntry{
			Amount:     bid.Amount,
			BidTime:    bid.BidTime,
			BidderName: maskUsername(bid.Bidder.Username),
			BidderID:   bid.BidderID,
		})
	}

	endTime := now
	if lot.BidEndTime != nil {
		endTime = *lot.BidEndTime
	}
	snapshot.StatusMessage = auctionStatusLine(now, endTime, snapshot.IsEnded, winnerName)
	return snapshot, nil
}

// maskUsername hides the middle of a bidder name in public history.
// Very short names cannot be meaningfully masked and pass through.
func maskUsername(username string) string {
	runes := []rune(username)
	n := len(runes)
	if n <= 2 {
		return username
	}
	if n <= 4 {
		return string(runes[:1]) + strings.Repeat("*", n-2) + string(runes[n-1:])
	}
	return string(runes[:2]) + strings.Repeat("*", n-4) + string(runes[n-2:])
}

// auctionStatusLine buckets the remaining time into days, hours or
// minutes for display.
func auctionStatusLine(now, endTime time.Time, ended bool, winnerName string) string {
	if ended {
		if winnerName != "" {
			return fmt.Sprintf("Auction ended, won by %s", winnerName)
		}
		return "Auction ended with no bids"
	}

	hoursLeft := int(endTime.Sub(now).Hours())
	switch {
	case hoursLeft > 24:
		return fmt.Sprintf("Auction in progress, %d days remaining", hoursLeft/24)
	case hoursLeft > 0:
		return fmt.Sprintf("Auction in progress, %d hours remaining", hoursLeft)
	default:
		minutesLeft := int(endTime.Sub(now).Minutes())
		if minutesLeft < 0 {
			minutesLeft = 0
		}
		return fmt.Sprintf("Auction closing soon, %d minutes remaining", minutesLeft)
	}
}

// OrderTrigger is what a successful buy-now returns: the terminal bid
// recorded at the direct-buy price and the order it produced.
type OrderTrigger struct {
	Order *models.Order   `json:"order"`
	LotID uuid.UUID       `json:"lot_id"`
	Price decimal.Decimal `json:"price"`
}

// BuyNow ends an open auction immediately at the direct-buy price. The
// terminal bid, the lifecycle transition and the resulting order all
// commit in one transaction, so no further bid can be admitted after
// the commit point.
func (s *AuctionService) BuyNow(lotID, buyerID uuid.UUID) (*OrderTrigger, error) {
	now := time.Now()

	var trigger *OrderTrigger
	var ended events.AuctionEnded

	err := s.db.Transaction(func(tx *gorm.DB) error {
		lot, err := s.loadLot(tx, lotID)
		if err != nil {
			return err
		}

		if !lot.IsAuctionLot() {
			return apperrors.New(apperrors.KindInvalidState, "NOT_AUCTION", "this product is not an auction lot")
		}
		if !lot.IsAuctionOpen(now) {
			return apperrors.New(apperrors.KindInvalidState, "AUCTION_CLOSED", "the auction has ended")
		}
		if !lot.HasDirectBuy() {
			return apperrors.New(apperrors.KindInvalidState, "NO_BUY_NOW_PRICE", "this lot has no direct-buy price")
		}
		if buyerID == lot.SellerID {
			return apperrors.New(apperrors.KindInvalidState, "SELF_BID", "sellers cannot buy their own lot")
		}

		var buyer models.User
		err = tx.First(&buyer, "id = ?", buyerID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.New(apperrors.KindNotFound, "USER_NOT_FOUND", "buyer not found")
		}
		if err != nil {
			return apperrors.Wrap(err, "failed to load buyer")
		}
		if !buyer.CanTransact() {
			return apperrors.New(apperrors.KindForbidden, "BUYER_NOT_ELIGIBLE", "verify your email before purchasing")
		}

		price := *lot.DirectBuyPrice

		// Terminal transition, guarded by the version read above. After
		// this update commits no PlaceBid can pass its own version check.
		res := tx.Model(&models.Product{}).
			Where("id = ? AND lot_version = ? AND status = ?", lot.ID, lot.LotVersion, models.ProductStatusAuction).
			Updates(map[string]interface{}{
				"status":       models.ProductStatusAuctionEnded,
				"bid_end_time": now,
				"lot_version":  gorm.Expr("lot_version + 1"),
			})
		if res.Error != nil {
			return apperrors.Wrap(res.Error, "failed to end auction")
		}
		if res.RowsAffected == 0 {
			return apperrors.New(apperrors.KindConflict, "LOT_VERSION_CONFLICT",
				"the lot state changed, refresh and retry")
		}

		if _, err := s.bids.Append(tx, lotID, buyerID, price, now); err != nil {
			return err
		}

		order, err := s.orders.assembleOrder(tx, &buyer, assembleOrderInput{
			Items: []OrderLineItem{{
				ProductID: lot.ID,
				Quantity:  1,
				UnitPrice: price,
			}},
			Shipping: ShippingInfo{
				Name:    buyer.Username,
				Phone:   buyer.Phone,
				Address: buyer.Address,
			},
			ClaimedTotal:    price,
			SourceProductID: &lot.ID,
		})
		if err != nil {
			return err
		}

		winnerID := buyerID
		ended = events.AuctionEnded{
			LotID:    lotID,
			WinnerID: &winnerID,
			Amount:   &price,
			EndedAt:  now,
		}
		trigger = &OrderTrigger{Order: order, LotID: lotID, Price: price}
		return nil
	})

	if err != nil {
		return nil, err
	}

	s.publisher.Publish(events.TypeAuctionEnded, ended)
	s.orders.emitOrderCreated(trigger.Order)
	if s.notifications != nil {
		go s.notifications.SendAuctionWonNotification(lotID, buyerID, trigger.Price)
	}

	logrus.WithFields(logrus.Fields{
		"lot_id":   lotID,
		"buyer_id": buyerID,
		"price":    trigger.Price.String(),
	}).Info("Direct buy completed")

	return trigger, nil
}

// SweepExpiredAuctions moves every open lot whose end time has passed
// into the ended state and resolves its winner. It is idempotent per
// lot: the per-lot conditional update makes a rerun, or an overlapping
// sweep, a no-op that emits nothing.
func (s *AuctionService) SweepExpiredAuctions(now time.Time) ([]uuid.UUID, error) {
	var candidates []models.Product
	if err := s.db.Where("status = ? AND bid_end_time IS NOT NULL AND bid_end_time <= ?",
		models.ProductStatusAuction, now).Find(&candidates).Error; err != nil {
		return nil, apperrors.Wrap(err, "failed to scan expired lots")
	}

	swept := make([]uuid.UUID, 0, len(candidates))
	for _, lot := range candidates {
		transitioned, ended, err := s.sweepLot(lot.ID, now)
		if err != nil {
			logrus.WithError(err).WithField("lot_id", lot.ID).Error("Failed to sweep expired lot")
			continue
		}
		if !transitioned {
			continue
		}

		swept = append(swept, lot.ID)
		s.publisher.Publish(events.TypeAuctionEnded, ended)
		if ended.WinnerID != nil && s.notifications != nil {
			go s.notifications.SendAuctionWonNotification(lot.ID, *ended.WinnerID, *ended.Amount)
		}
	}

	if len(swept) > 0 {
		logrus.WithField("count", len(swept)).Info("Swept expired auctions")
	}
	return swept, nil
}

func (s *AuctionService) sweepLot(lotID uuid.UUID, now time.Time) (bool, events.AuctionEnded, error) {
	var ended events.AuctionEnded
	transitioned := false

	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		res := tx.Model(&models.Product{}).
			Where("id = ? AND status = ? AND bid_end_time <= ?", lotID, models.ProductStatusAuction, now).
			Updates(map[string]interface{}{
				"status":      models.ProductStatusAuctionEnded,
				"lot_version": gorm.Expr("lot_version + 1"),
			})
		if res.Error != nil {
			return apperrors.Wrap(res.Error, "failed to end expired lot")
		}
		if res.RowsAffected == 0 {
			// Already ended by buy-now or an overlapping sweep.
			return nil
		}

		transitioned = true
		winning, err := s.bids.HighestBid(tx, lotID)
		if err != nil {
			return err
		}

		ended = events.AuctionEnded{LotID: lotID, EndedAt: now}
		if winning != nil {
			winnerID := winning.BidderID
			amount := winning.Amount
			ended.WinnerID = &winnerID
			ended.Amount = &amount
		}
		return nil
	})

	return transitioned, ended, err
}

// UserBidStanding is one entry in a bidder's personal bid history.
type UserBidStanding struct {
	BidID        uuid.UUID       `json:"bid_id"`
	LotID        uuid.UUID       `json:"lot_id"`
	ProductName  string          `json:"product_name"`
	Amount       decimal.Decimal `json:"amount"`
	BidTime      time.Time       `json:"bid_time"`
	IsHighest    bool            `json:"is_highest"`
	AuctionEnded bool            `json:"auction_ended"`
	Standing     string          `json:"standing"` // leading, outbid, won, lost
}

// GetUserBids lists a user's bids with their current standing.
func (s *AuctionService) GetUserBids(bidderID uuid.UUID) ([]UserBidStanding, error) {
	now := time.Now()

	bids, err := s.bids.ListByBidder(bidderID)
	if err != nil {
		return nil, err
	}

	standings := make([]UserBidStanding, 0, len(bids))
	for _, bid := range bids {
		var lot models.Product
		if err := s.db.First(&lot, "id = ?", bid.ProductID).Error; err != nil {
			continue
		}

		highest, err := s.bids.HighestBid(s.db, bid.ProductID)
		if err != nil {
			return nil, err
		}

		entry := UserBidStanding{
			BidID:       bid.ID,
			LotID:       bid.ProductID,
			ProductName: lot.Name,
			Amount:      bid.Amount,
			BidTime:     bid.BidTime,
			IsHighest:   highest != nil && highest.ID == bid.ID,
		}

		if lot.BidEndTime != nil {
			entry.AuctionEnded = !lot.IsAuctionOpen(now)
		}

		switch {
		case entry.AuctionEnded && entry.IsHighest:
			entry.Standing = "won"
		case entry.AuctionEnded:
			entry.Standing = "lost"
		case entry.IsHighest:
			entry.Standing = "leading"
		default:
			entry.Standing = "outbid"
		}

		standings = append(standings, entry)
	}

	return standings, nil
}

// IsHighestBidder reports whether the user currently holds the highest
// bid on a lot.
func (s *AuctionService) IsHighestBidder(lotID, bidderID uuid.UUID) (bool, error) {
	highest, err := s.bids.HighestBid(s.db, lotID)
	if err != nil {
		return false, err
	}
	return highest != nil && highest.BidderID == bidderID, nil
}

func (s *AuctionService) loadLot(tx *gorm.DB, lotID uuid.UUID) (*models.Product, error) {
	var lot models.Product
	err := tx.First(&lot, "id = ?", lotID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.KindNotFound, "LOT_NOT_FOUND", "auction lot not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load lot")
	}
	return &lot, nil
}
