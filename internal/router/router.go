// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/bidmarket/bidmarket-backend/internal/config"
	"github.com/bidmarket/bidmarket-backend/internal/events"
	"github.com/bidmarket/bidmarket-backend/internal/handlers"
	"github.com/bidmarket/bidmarket-backend/internal/middleware"
	"github.com/bidmarket/bidmarket-backend/internal/services"
	"github.com/bidmarket/bidmarket-backend/internal/utils"
)

// Initialize wires the service graph and mounts the HTTP surface. The
// auction service is returned so the caller can drive the expiry
// sweeper alongside the server.
func Initialize(db *gorm.DB, cfg *config.Config, publisher events.Publisher) (*gin.Engine, *services.AuctionService) {
	// Initialize services
	notificationService := services.NewNotificationService(db, cfg)
	inventoryService := services.NewInventoryService(db)
	bidLedger := services.NewBidLedger(db)
	orderService := services.NewOrderService(db, inventoryService, notificationService, publisher)
	auctionService := services.NewAuctionService(db, bidLedger, orderService, notificationService, publisher, cfg.Auction)

	// Initialize handlers
	auctionHandler := handlers.NewAuctionHandler(auctionService)
	orderHandler := handlers.NewOrderHandler(orderService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Custom binding rules
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = utils.RegisterValidations(v)
	}

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Frontend.BaseURL))
	r.Use(middleware.GeneralRateLimit())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Auction routes
		auctions := v1.Group("/auctions")
		{
			auctions.GET("/my-bids", middleware.AuthRequired(), auctionHandler.GetMyBids)
			auctions.GET("/:id", middleware.OptionalAuth(), auctionHandler.GetAuction)
			auctions.POST("/:id/bids", middleware.AuthRequired(), middleware.BidRateLimit(), auctionHandler.PlaceBid)
			auctions.POST("/:id/buy-now", middleware.AuthRequired(), middleware.BidRateLimit(), auctionHandler.BuyNow)
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.AuthRequired())
		{
			orders.POST("", middleware.OrderRateLimit(), orderHandler.CreateOrder)
			orders.GET("", orderHandler.GetOrders)
			orders.GET("/seller", orderHandler.GetSellerOrders)
			orders.GET("/:id", orderHandler.GetOrder)
			orders.PUT("/:id/cancel", orderHandler.CancelOrder)
			orders.PUT("/:id/status", orderHandler.UpdateOrderStatus)
		}
	}

	return r, auctionService
}
