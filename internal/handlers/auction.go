// internal/handlers/auction.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bidmarket/bidmarket-backend/internal/middleware"
	"github.com/bidmarket/bidmarket-backend/internal/services"
	"github.com/bidmarket/bidmarket-backend/internal/utils"
)

type AuctionHandler struct {
	auctionService *services.AuctionService
}

func NewAuctionHandler(auctionService *services.AuctionService) *AuctionHandler {
	return &AuctionHandler{auctionService: auctionService}
}

// bindJSON decodes the request body and reports field-level binding
// failures with a structured VALIDATION_ERROR payload.
func bindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		if fieldErrs := utils.GetValidationErrors(err); len(fieldErrs) > 0 {
			utils.ValidationErrorResponse(c, fieldErrs)
		} else {
			utils.BadRequestResponse(c, "invalid request body", err.Error())
		}
		return false
	}
	return true
}

type placeBidRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required,positive_decimal"`
}

// PlaceBid handles POST /v1/auctions/:id/bids
func (h *AuctionHandler) PlaceBid(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "invalid lot id", nil)
		return
	}

	bidderID, ok := middleware.CurrentUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c, "authentication required")
		return
	}

	var req placeBidRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.auctionService.PlaceBid(lotID, bidderID, req.Amount)
	if err != nil {
		utils.DomainErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, result)
}

// BuyNow handles POST /v1/auctions/:id/buy-now
func (h *AuctionHandler) BuyNow(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "invalid lot id", nil)
		return
	}

	buyerID, ok := middleware.CurrentUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c, "authentication required")
		return
	}

	trigger, err := h.auctionService.BuyNow(lotID, buyerID)
	if err != nil {
		utils.DomainErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, trigger)
}

// GetAuction handles GET /v1/auctions/:id
func (h *AuctionHandler) GetAuction(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "invalid lot id", nil)
		return
	}

	snapshot, err := h.auctionService.GetAuctionInfo(lotID)
	if err != nil {
		utils.DomainErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, snapshot)
}

// GetMyBids handles GET /v1/auctions/my-bids
func (h *AuctionHandler) GetMyBids(c *gin.Context) {
	bidderID, ok := middleware.CurrentUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c, "authentication required")
		return
	}

	standings, err := h.auctionService.GetUserBids(bidderID)
	if err != nil {
		utils.DomainErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, standings)
}
