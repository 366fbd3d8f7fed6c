// internal/services/order_service.go
package services

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bidmarket/bidmarket-backend/internal/apperrors"
	"github.com/bidmarket/bidmarket-backend/internal/events"
	"github.com/bidmarket/bidmarket-backend/internal/models"
	"github.com/bidmarket/bidmarket-backend/internal/utils"
)

// OrderService owns the commit path from a cart (or a won auction) to
// a pending order: stock is decremented and the order row written in
// the same transaction, so a failed line item rolls back everything.
type OrderService struct {
	db            *gorm.DB
	inventory     *InventoryService
	notifications *NotificationService
	publisher     events.Publisher
}

func NewOrderService(db *gorm.DB, inventory *InventoryService, notifications *NotificationService, publisher events.Publisher) *OrderService {
	return &OrderService{
		db:            db,
		inventory:     inventory,
		notifications: notifications,
		publisher:     publisher,
	}
}

// OrderLineItem is one requested line: the unit price is what the
// client saw at browse time and is checked against the claimed total.
type OrderLineItem struct {
	ProductID uuid.UUID       `json:"product_id" binding:"required"`
	SkuID     *uuid.UUID      `json:"sku_id,omitempty"`
	Quantity  int             `json:"quantity" binding:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unit_price" binding:"required,positive_decimal"`
}

type ShippingInfo struct {
	Name    string `json:"name" binding:"required"`
	Phone   string `json:"phone" binding:"required"`
	Address string `json:"address" binding:"required"`
}

type CreateOrderRequest struct {
	Items        []OrderLineItem `json:"items" binding:"required"`
	Shipping     ShippingInfo    `json:"shipping" binding:"required"`
	ClaimedTotal decimal.Decimal `json:"total_price" binding:"required"`
	Note         string          `json:"note"`
}

type assembleOrderInput struct {
	Items           []OrderLineItem
	Shipping        ShippingInfo
	ClaimedTotal    decimal.Decimal
	Note            string
	SourceProductID *uuid.UUID
}

// CreateOrder validates the buyer and commits the order. Stock and the
// order row move together; the claimed total must match what the
// server computes from the requested lines.
func (s *OrderService) CreateOrder(buyerID uuid.UUID, req CreateOrderRequest) (*models.Order, error) {
	var order *models.Order

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var buyer models.User
		err := tx.First(&buyer, "id = ?", buyerID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.New(apperrors.KindNotFound, "USER_NOT_FOUND", "buyer not found")
		}
		if err != nil {
			return apperrors.Wrap(err, "failed to load buyer")
		}
		if !buyer.CanTransact() {
			return apperrors.New(apperrors.KindForbidden, "BUYER_NOT_ELIGIBLE", "verify your email before ordering")
		}

		order, err = s.assembleOrder(tx, &buyer, assembleOrderInput{
			Items:        req.Items,
			Shipping:     req.Shipping,
			ClaimedTotal: req.ClaimedTotal,
			Note:         req.Note,
		})
		return err
	})

	if err != nil {
		return nil, err
	}

	s.emitOrderCreated(order)
	if s.notifications != nil {
		go s.notifications.SendOrderConfirmation(order.ID, buyerID)
		for _, sellerID := range orderSellerIDs(order) {
			go s.notifications.SendNewOrderNotice(order.ID, sellerID)
		}
	}

	logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"buyer_id": buyerID,
		"total":    order.TotalPrice.String(),
	}).Info("Order created")

	return order, nil
}

// assembleOrder runs inside the caller's transaction. Buy-now reuses
// it so the auction transition and the order share one commit.
func (s *OrderService) assembleOrder(tx *gorm.DB, buyer *models.User, in assembleOrderInput) (*models.Order, error) {
	if len(in.Items) == 0 {
		return nil, apperrors.New(apperrors.KindInvalidInput, "EMPTY_ORDER", "order must contain at least one item")
	}

	computed := decimal.Zero
	orderItems := make([]models.OrderItem, 0, len(in.Items))

	for _, line := range in.Items {
		if line.Quantity <= 0 {
			return nil, apperrors.New(apperrors.KindInvalidInput, "INVALID_QUANTITY", "item quantity must be positive")
		}

		var product models.Product
		err := tx.First(&product, "id = ?", line.ProductID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.KindNotFound, "PRODUCT_NOT_FOUND", "product not found")
		}
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to load product")
		}

		target := ProductTarget(line.ProductID)
		if line.SkuID != nil {
			target = SkuTarget(line.ProductID, *line.SkuID)
		}
		if err := s.inventory.Decrement(tx, target, line.Quantity); err != nil {
			return nil, err
		}

		computed = computed.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		orderItems = append(orderItems, models.OrderItem{
			ProductID: line.ProductID,
			SkuID:     line.SkuID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Product:   product,
		})
	}

	if !computed.Equal(in.ClaimedTotal) {
		return nil, apperrors.Newf(apperrors.KindInvalidInput, "TOTAL_MISMATCH",
			"order total %s does not match the items, expected %s",
			in.ClaimedTotal.StringFixed(2), computed.StringFixed(2))
	}

	order := &models.Order{
		BuyerID:         buyer.ID,
		Status:          models.OrderStatusPending,
		TotalPrice:      computed,
		ReceiverName:    in.Shipping.Name,
		ReceiverPhone:   in.Shipping.Phone,
		ReceiverAddress: in.Shipping.Address,
		Note:            in.Note,
		SourceProductID: in.SourceProductID,
	}
	if err := tx.Create(order).Error; err != nil {
		return nil, apperrors.Wrap(err, "failed to create order")
	}

	for i := range orderItems {
		orderItems[i].OrderID = order.ID
	}
	if err := tx.Create(&orderItems).Error; err != nil {
		return nil, apperrors.Wrap(err, "failed to create order items")
	}
	order.Items = orderItems

	if in.SourceProductID != nil {
		if err := tx.Model(&models.Product{}).
			Where("id = ?", *in.SourceProductID).
			UpdateColumn("status", models.ProductStatusSold).Error; err != nil {
			return nil, apperrors.Wrap(err, "failed to mark lot sold")
		}
	}

	return order, nil
}

// CancelOrder lets the buyer back out of a pending order. Stock from
// every line is restored in the same transaction.
func (s *OrderService) CancelOrder(orderID, buyerID uuid.UUID) (*models.Order, error) {
	var order models.Order

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.loadOrder(tx, orderID, &order); err != nil {
			return err
		}

		if order.BuyerID != buyerID {
			return apperrors.New(apperrors.KindForbidden, "NOT_BUYER", "only the buyer may cancel this order")
		}
		if order.Status != models.OrderStatusPending {
			return apperrors.Newf(apperrors.KindInvalidState, "NOT_CANCELLABLE",
				"orders in status %s cannot be cancelled", order.Status)
		}

		for _, item := range order.Items {
			target := ProductTarget(item.ProductID)
			if item.SkuID != nil {
				target = SkuTarget(item.ProductID, *item.SkuID)
			}
			if err := s.inventory.Restore(tx, target, item.Quantity); err != nil {
				return err
			}
		}

		order.Status = models.OrderStatusCancelled
		if err := tx.Model(&models.Order{}).
			Where("id = ?", order.ID).
			UpdateColumn("status", models.OrderStatusCancelled).Error; err != nil {
			return apperrors.Wrap(err, "failed to cancel order")
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	s.publisher.Publish(events.TypeOrderCancelled, events.OrderCancelled{
		OrderID: order.ID,
		BuyerID: order.BuyerID,
	})

	logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"buyer_id": buyerID,
	}).Info("Order cancelled")

	return &order, nil
}

// UpdateOrderStatus advances fulfilment. Only a seller whose product
// is in the order may do this, and only along pending -> shipped ->
// completed.
func (s *OrderService) UpdateOrderStatus(orderID, sellerID uuid.UUID, newStatus models.OrderStatus) (*models.Order, error) {
	var order models.Order

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.loadOrder(tx, orderID, &order); err != nil {
			return err
		}

		if !s.isOrderSeller(tx, &order, sellerID) {
			return apperrors.New(apperrors.KindForbidden, "NOT_SELLER", "only a seller of this order may update its status")
		}
		if !newStatus.SellerAssignable() {
			return apperrors.Newf(apperrors.KindInvalidInput, "INVALID_STATUS",
				"sellers cannot set status %s", newStatus)
		}

		valid := (order.Status == models.OrderStatusPending && newStatus == models.OrderStatusShipped) ||
			(order.Status == models.OrderStatusShipped && newStatus == models.OrderStatusCompleted)
		if !valid {
			return apperrors.Newf(apperrors.KindInvalidState, "INVALID_TRANSITION",
				"cannot move order from %s to %s", order.Status, newStatus)
		}

		order.Status = newStatus
		if err := tx.Model(&models.Order{}).
			Where("id = ?", order.ID).
			UpdateColumn("status", newStatus).Error; err != nil {
			return apperrors.Wrap(err, "failed to update order status")
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"seller_id": sellerID,
		"status":    order.Status,
	}).Info("Order status updated")

	return &order, nil
}

// GetOrder returns the order detail to its buyer or one of its sellers.
func (s *OrderService) GetOrder(orderID, requesterID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := s.loadOrder(s.db, orderID, &order); err != nil {
		return nil, err
	}

	if order.BuyerID != requesterID && !s.isOrderSeller(s.db, &order, requesterID) {
		return nil, apperrors.New(apperrors.KindForbidden, "NOT_PARTICIPANT", "you are not a party to this order")
	}
	return &order, nil
}

// GetBuyerOrders lists a buyer's orders, newest first.
func (s *OrderService) GetBuyerOrders(buyerID uuid.UUID, params utils.PaginationParams) ([]models.Order, *utils.PaginationResult, error) {
	query := s.db.Model(&models.Order{}).Where("buyer_id = ?", buyerID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, apperrors.Wrap(err, "failed to count orders")
	}

	var orders []models.Order
	if err := utils.ApplyPagination(query.Preload("Items").Preload("Items.Product").Order("created_at DESC"), params).
		Find(&orders).Error; err != nil {
		return nil, nil, apperrors.Wrap(err, "failed to list orders")
	}

	result := utils.CreatePaginationResult(orders, total, params)
	return orders, &result, nil
}

// GetSellerOrders lists orders containing the seller's products.
func (s *OrderService) GetSellerOrders(sellerID uuid.UUID, params utils.PaginationParams) ([]models.Order, *utils.PaginationResult, error) {
	sellerOrderIDs := s.db.Model(&models.OrderItem{}).
		Select("order_items.order_id").
		Joins("JOIN products ON products.id = order_items.product_id").
		Where("products.seller_id = ?", sellerID)

	query := s.db.Model(&models.Order{}).Where("id IN (?)", sellerOrderIDs)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, apperrors.Wrap(err, "failed to count seller orders")
	}

	var orders []models.Order
	if err := utils.ApplyPagination(query.Preload("Items").Preload("Items.Product").Order("created_at DESC"), params).
		Find(&orders).Error; err != nil {
		return nil, nil, apperrors.Wrap(err, "failed to list seller orders")
	}

	result := utils.CreatePaginationResult(orders, total, params)
	return orders, &result, nil
}

func (s *OrderService) loadOrder(tx *gorm.DB, orderID uuid.UUID, out *models.Order) error {
	err := tx.Preload("Items").Preload("Items.Product").First(out, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.New(apperrors.KindNotFound, "ORDER_NOT_FOUND", "order not found")
	}
	if err != nil {
		return apperrors.Wrap(err, "failed to load order")
	}
	return nil
}

func (s *OrderService) isOrderSeller(tx *gorm.DB, order *models.Order, userID uuid.UUID) bool {
	for _, item := range order.Items {
		if item.Product.SellerID == userID {
			return true
		}
	}
	return false
}

func (s *OrderService) emitOrderCreated(order *models.Order) {
	items := make([]events.OrderCreatedItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, events.OrderCreatedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	s.publisher.Publish(events.TypeOrderCreated, events.OrderCreated{
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		SellerIDs: orderSellerIDs(order),
		Total:     order.TotalPrice,
		Items:     items,
	})
}

func orderSellerIDs(order *models.Order) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	sellers := make([]uuid.UUID, 0, 1)
	for _, item := range order.Items {
		id := item.Product.SellerID
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		sellers = append(sellers, id)
	}
	return sellers
}
