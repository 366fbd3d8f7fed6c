// internal/services/service_test.go
package services

import (
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bidmarket/bidmarket-backend/internal/config"
	"github.com/bidmarket/bidmarket-backend/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// In-memory sqlite hands every new connection its own empty
	// database, so cap the pool at a single shared connection.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Product{},
		&models.ProductSku{},
		&models.Bid{},
		&models.Order{},
		&models.OrderItem{},
	))
	return db
}

func testAuctionConfig() config.AuctionConfig {
	return config.AuctionConfig{
		MinIncrement:  "10",
		SweepInterval: 30,
		HistoryLimit:  10,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedUser(t *testing.T, db *gorm.DB, username string, verified bool) *models.User {
	t.Helper()

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Status:   models.UserStatusActive,
		Phone:    "0912345678",
		Address:  "100 Market Street",
	}
	require.NoError(t, user.SetPassword("TestPass123!"))
	if verified {
		now := time.Now()
		user.EmailVerifiedAt = &now
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedAuctionLot(t *testing.T, db *gorm.DB, sellerID uuid.UUID, start, directBuy string, endsIn time.Duration) *models.Product {
	t.Helper()

	end := time.Now().Add(endsIn)
	lot := &models.Product{
		SellerID:      sellerID,
		Name:          "Vintage Camera",
		Category:      "collectibles",
		StartPrice:    dec(start),
		StockQuantity: 1,
		Status:        models.ProductStatusAuction,
		BidEndTime:    &end,
	}
	if directBuy != "" {
		d := dec(directBuy)
		lot.DirectBuyPrice = &d
	}
	require.NoError(t, db.Create(lot).Error)
	return lot
}

func seedStockProduct(t *testing.T, db *gorm.DB, sellerID uuid.UUID, name string, stock int) *models.Product {
	t.Helper()

	product := &models.Product{
		SellerID:      sellerID,
		Name:          name,
		Category:      "general",
		StartPrice:    dec("50"),
		StockQuantity: stock,
		Status:        models.ProductStatusActive,
	}
	require.NoError(t, db.Create(product).Error)
	return product
}

// capturePublisher records everything published so tests can assert on
// emission counts and payloads.
type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	Type    string
	Payload interface{}
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{}
}

func (p *capturePublisher) Publish(eventType string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{Type: eventType, Payload: payload})
}

func (p *capturePublisher) Close() error {
	return nil
}

func (p *capturePublisher) byType(eventType string) []capturedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []capturedEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
