// internal/handlers/auction_test.go
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/glebarez/sqlite"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bidmarket/bidmarket-backend/internal/config"
	"github.com/bidmarket/bidmarket-backend/internal/events"
	"github.com/bidmarket/bidmarket-backend/internal/middleware"
	"github.com/bidmarket/bidmarket-backend/internal/models"
	"github.com/bidmarket/bidmarket-backend/internal/services"
	"github.com/bidmarket/bidmarket-backend/internal/utils"

	"github.com/shopspring/decimal"
)

type AuctionHandlerTestSuite struct {
	suite.Suite
	db     *gorm.DB
	router *gin.Engine
	seller *models.User
	bidder *models.User
	lot    *models.Product
}

func (s *AuctionHandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(s.T(), err)
	require.NoError(s.T(), db.AutoMigrate(
		&models.User{}, &models.Product{}, &models.ProductSku{},
		&models.Bid{}, &models.Order{}, &models.OrderItem{},
	))
	s.db = db

	publisher := events.NewFanout(events.NewLogSink())
	inventory := services.NewInventoryService(db)
	ledger := services.NewBidLedger(db)
	orders := services.NewOrderService(db, inventory, nil, publisher)
	auctions := services.NewAuctionService(db, ledger, orders, nil, publisher,
		config.AuctionConfig{MinIncrement: "10", HistoryLimit: 10})

	utils.SetJWTSecret("handler-test-secret")
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		require.NoError(s.T(), utils.RegisterValidations(v))
	}

	handler := NewAuctionHandler(auctions)
	s.router = gin.New()
	v1 := s.router.Group("/v1")
	auctionRoutes := v1.Group("/auctions")
	{
		auctionRoutes.GET("/:id", middleware.OptionalAuth(), handler.GetAuction)
		auctionRoutes.POST("/:id/bids", middleware.AuthRequired(), handler.PlaceBid)
		auctionRoutes.POST("/:id/buy-now", middleware.AuthRequired(), handler.BuyNow)
	}

	s.seller = s.createUser("camerashop")
	s.bidder = s.createUser("alice_wong")

	end := time.Now().Add(time.Hour)
	direct := decimal.NewFromInt(500)
	s.lot = &models.Product{
		SellerID:       s.seller.ID,
		Name:           "Vintage Camera",
		StartPrice:     decimal.NewFromInt(100),
		DirectBuyPrice: &direct,
		StockQuantity:  1,
		Status:         models.ProductStatusAuction,
		BidEndTime:     &end,
	}
	require.NoError(s.T(), s.db.Create(s.lot).Error)
}

func (s *AuctionHandlerTestSuite) createUser(username string) *models.User {
	now := time.Now()
	user := &models.User{
		Username:        username,
		Email:           username + "@example.com",
		Status:          models.UserStatusActive,
		EmailVerifiedAt: &now,
	}
	require.NoError(s.T(), user.SetPassword("TestPass123!"))
	require.NoError(s.T(), s.db.Create(user).Error)
	return user
}

func (s *AuctionHandlerTestSuite) bearerFor(user *models.User) string {
	token, err := utils.GenerateJWT(user.ID, user.Username, 1)
	require.NoError(s.T(), err)
	return "Bearer " + token
}

func (s *AuctionHandlerTestSuite) postBid(user *models.User, amount string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(map[string]interface{}{"amount": amount})
	req, _ := http.NewRequest("POST", "/v1/auctions/"+s.lot.ID.String()+"/bids", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req.Header.Set("Authorization", s.bearerFor(user))
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *AuctionHandlerTestSuite) TestPlaceBidSuccess() {
	w := s.postBid(s.bidder, "110")

	assert.Equal(s.T(), http.StatusCreated, w.Code)

	var response map[string]interface{}
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(s.T(), response["success"].(bool))
}

func (s *AuctionHandlerTestSuite) TestPlaceBidTooLow() {
	w := s.postBid(s.bidder, "105")

	assert.Equal(s.T(), http.StatusBadRequest, w.Code)

	var response map[string]interface{}
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &response))
	errObj := response["error"].(map[string]interface{})
	assert.Equal(s.T(), "BID_TOO_LOW", errObj["code"])
}

func (s *AuctionHandlerTestSuite) TestPlaceBidNegativeAmountFailsBinding() {
	w := s.postBid(s.bidder, "-5")

	assert.Equal(s.T(), http.StatusBadRequest, w.Code)

	var response map[string]interface{}
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &response))
	errObj := response["error"].(map[string]interface{})
	assert.Equal(s.T(), "VALIDATION_ERROR", errObj["code"])

	details := errObj["details"].([]interface{})
	require.Len(s.T(), details, 1)
	field := details[0].(map[string]interface{})
	assert.Equal(s.T(), "amount", field["field"])
	assert.Equal(s.T(), "positive_decimal", field["tag"])
}

func (s *AuctionHandlerTestSuite) TestPlaceBidRequiresAuth() {
	w := s.postBid(nil, "110")

	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)
}

func (s *AuctionHandlerTestSuite) TestBuyNowReturnsOrder() {
	req, _ := http.NewRequest("POST", "/v1/auctions/"+s.lot.ID.String()+"/buy-now", nil)
	req.Header.Set("Authorization", s.bearerFor(s.bidder))

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusCreated, w.Code)

	var response map[string]interface{}
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &response))
	data := response["data"].(map[string]interface{})
	assert.NotNil(s.T(), data["order"])
}

func (s *AuctionHandlerTestSuite) TestGetAuctionIsPublic() {
	req, _ := http.NewRequest("GET", "/v1/auctions/"+s.lot.ID.String(), nil)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &response))
	data := response["data"].(map[string]interface{})
	assert.Equal(s.T(), true, data["is_auction"])
}

func TestAuctionHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(AuctionHandlerTestSuite))
}
