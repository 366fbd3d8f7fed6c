// internal/services/order_service_test.go
package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/bidmarket/bidmarket-backend/internal/apperrors"
	"github.com/bidmarket/bidmarket-backend/internal/events"
	"github.com/bidmarket/bidmarket-backend/internal/models"
	"github.com/bidmarket/bidmarket-backend/internal/utils"
)

type OrderServiceTestSuite struct {
	suite.Suite
	db        *gorm.DB
	publisher *capturePublisher
	inventory *InventoryService
	orders    *OrderService
	seller    *models.User
	buyer     *models.User
}

func (s *OrderServiceTestSuite) SetupTest() {
	s.db = newTestDB(s.T())
	s.publisher = newCapturePublisher()
	s.inventory = NewInventoryService(s.db)
	s.orders = NewOrderService(s.db, s.inventory, nil, s.publisher)

	s.seller = seedUser(s.T(), s.db, "lampstore", true)
	s.buyer = seedUser(s.T(), s.db, "carol_chen", true)
}

func (s *OrderServiceTestSuite) shipping() ShippingInfo {
	return ShippingInfo{
		Name:    "Carol Chen",
		Phone:   "0987654321",
		Address: "42 Harbor Road",
	}
}

func (s *OrderServiceTestSuite) TestCreateOrderDecrementsStock() {
	product := seedStockProduct(s.T(), s.db, s.seller.ID, "Desk Lamp", 5)

	order, err := s.orders.CreateOrder(s.buyer.ID, CreateOrderRequest{
		Items: []OrderLineItem{
			{ProductID: product.ID, Quantity: 2, UnitPrice: dec("50")},
		},
		Shipping:     s.shipping(),
		ClaimedTotal: dec("100"),
	})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.OrderStatusPending, order.Status)
	assert.True(s.T(), order.TotalPrice.Equal(dec("100")))
	require.Len(s.T(), order.Items, 1)
	assert.Equal(s.T(), 2, order.Items[0].Quantity)

	available, err := s.inventory.Available(ProductTarget(product.ID))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 3, available)

	emitted := s.publisher.byType(events.TypeOrderCreated)
	require.Len(s.T(), emitted, 1)
	payload := emitted[0].Payload.(events.OrderCreated)
	assert.Equal(s.T(), order.ID, payload.OrderID)
	require.Len(s.T(), payload.SellerIDs, 1)
	assert.Equal(s.T(), s.seller.ID, payload.SellerIDs[0])
}

func (s *OrderServiceTestSuite) TestSecondOrderCannotOversell() {
	product := seedStockProduct(s.T(), s.db, s.seller.ID, "Desk Lamp", 3)

	_, err := s.orders.CreateOrder(s.buyer.ID, CreateOrderRequest{
		Items:        []OrderLineItem{{ProductID: product.ID, Quantity: 2, UnitPrice: dec("50")}},
		Shipping:     s.shipping(),
		ClaimedTotal: dec("100"),
	})
	require.NoError(s.T(), err)

	other := seedUser(s.T(), s.db, "dave_kim", true)
	_, err = s.orders.CreateOrder(other.ID, CreateOrderRequest{
		Items:        []OrderLineItem{{ProductID: product.ID, Quantity: 2, UnitPrice: dec("50")}},
		Shipping:     ShippingInfo{Name: "Dave Kim", Phone: "0911222333", Address: "7 Hill Lane"},
		ClaimedTotal: dec("100"),
	})
	require.Error(s.T(), err)
	assert.True(s.T(), apperrors.IsKind(err, apperrors.KindInsufficientStock))

	// The failed order must not have consumed anything.
	available, err := s.inventory.Available(ProductTarget(product.ID))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, available)
}

func (s *OrderServiceTestSuite) TestSimultaneousOrdersCannotOversell() {
	product := seedStockProduct(s.T(), s.db, s.seller.ID, "Desk Lamp", 1)
	other := seedUser(s.T(), s.db, "dave_kim", true)

	request := func(name string) CreateOrderRequest {
		return CreateOrderRequest{
			Items:        []OrderLineItem{{ProductID: product.ID, Quantity: 1, UnitPrice: dec("50")}},
			Shipping:     ShippingInfo{Name: name, Phone: "0911222333", Address: "7 Hill Lane"},
			ClaimedTotal: dec("50"),
		}
	}

	// Two buyers race for the last unit. The guarded stock decrement
	// admits exactly one of them.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = s.orders.CreateOrder(s.buyer.ID, request("Carol Chen"))
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = s.orders.CreateOrder(other.ID, request("Dave Kim"))
	}()
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(s.T(), apperrors.IsKind(err, apperrors.KindInsufficientStock),
			"unexpected loser error: %v", err)
	}
	assert.Equal(s.T(), 1, winners)

	available, err := s.inventory.Available(ProductTarget(product.ID))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 0, available)

	var count int64
	require.NoError(s.T(), s.db.Model(&models.Order{}).Count(&count).Error)
	assert.Equal(s.T(), int64(1), count)
}

func (s *OrderServiceTestSuite) TestMultiLineRollbackOnShortage() {
	lamp := seedStockProduct(s.T(), s.db, s.seller.ID, "Desk Lamp", 5)
	chair := seedStockProduct(s.T(), s.db, s.seller.ID, "Office Chair", 1)

	_, err := s.orders.CreateOrder(s.buyer.ID, CreateOrderRequest{
		Items: []OrderLineItem{
			{ProductID: lamp.ID, Quantity: 2, UnitPrice: dec("50")},
			{ProductID: chair.ID, Quantity: 3, UnitPrice: dec("80")},
		},
		Shipping:     s.shipping(),
		ClaimedTotal: dec("340"),
	})
	require.Error(s.T(), err)
	assert.True(s.T(), apperrors.IsKind(err, apperrors.KindInsufficientStock))

	// The lamp decrement from the same transaction must roll back.
	available, err := s.inventory.Available(ProductTarget(lamp.ID))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 5, available)

	var count int64
	require.NoError(s.T(), s.db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(s.T(), count)
}

func (s *OrderServiceTestSuite) TestClaimedTotalMustMatch() {
	product := seedStockProduct(s.T(), s.db, s.seller.ID, "Desk Lamp", 5)

	_, err := s.orders.CreateOrder(s.buyer.ID, CreateOrderRequest{
		Items:        []OrderLineItem{{ProductID: product.ID, Quantity: 2, UnitPrice: dec("50")}},
		Shipping:     s.shipping(),
		ClaimedTotal: dec("90"),
	})
	require.Error(s.T(), err)
	assert.Equal(s.T(), "TOTAL_MISMATCH", apperrors.CodeOf(err))

	// Nothing committed.
	available, err := s.inventory.Available(ProductTarget(product.ID))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 5, available)
}

func (s *OrderServiceTestSuite) TestEmptyOrderRejected() {
	_, err := s.orders.CreateOrder(s.buyer.ID, CreateOrderRequest{
		Items:        []OrderLineItem{},
		Shipping:     s.shipping(),
		ClaimedTotal: dec("0"),
	})
	require.Error(s.T(), err)
	assert.Equal(s.T(), "EMPTY_ORDER", apperrors.CodeOf(err))
}

func (s *OrderServiceTestSuite) TestUnverifiedBuyerRejected() {
	product := seedStockProduct(s.T(), s.db, s.seller.ID, "Desk Lamp", 5)
	unverified := seedUser(s.T(), s.db, "newcomer", false)

	_, err := s.orders.CreateOrder(unverified.ID, CreateOrderRequest{
		Items:        []OrderLineItem{{ProductID: product.ID, Quantity: 1, UnitPrice: dec("50")}},
		Shipping:     s.shipping(),
		ClaimedTotal: dec("50"),
	})
	require.Error(s.T(), err)
	assert.Equal(s.T(), "BUYER_NOT_ELIGIBLE", apperrors.CodeOf(err))
}

func (s *OrderServiceTestSuite) TestSkuLineDrawsFromSkuStock() {
	product := seedStockProduct(s.T(), s.db, s.seller.ID, "T-Shirt", 0)
	sku := &models.ProductSku{
		ProductID: product.ID,
		Spec:      models.JSONB{"size": "L", "color": "navy"},
		Price:     dec("25"),
		Stock:     10,
	}
	require.NoError(s.T(), s.db.Create(sku).Error)

	order, err := s.orders.CreateOrder(s.buyer.ID, CreateOrderRequest{
		Items: []OrderLineItem{
			{ProductID: product.ID, SkuID: &sku.ID, Quantity: 4, UnitPrice: dec("25")},
		},
		Shipping:     s.shipping(),
		ClaimedTotal: dec("100"),
	})
	require.NoError(s.T(), err)
	require.Len(s.T(), order.Items, 1)

	available, err := s.inventory.Available(SkuTarget(product.ID, sku.ID))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 6, available)

	// Product-level stock untouched.
	productStock, err := s.inventory.Available(ProductTarget(product.ID))
	require.NoError(s.T(), err)
	assert.Zero(s.T(), productStock)
}

func (s *OrderServiceTestSuite) TestCancelRestoresStock() {
	product := seedStockProduct(s.T(), s.db, s.seller.ID, "Desk Lamp", 5)

	order, err := s.orders.CreateOrder(s.buyer.ID, CreateOrderRequest{
		Items:        []OrderLineItem{{ProductID: product.ID, Quantity: 2, UnitPrice: dec("50")}},
		Shipping:     s.shipping(),
		ClaimedTotal: dec("100"),
	})
	require.NoError(s.T(), err)

	cancelled, err := s.orders.CancelOrder(order.ID, s.buyer.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.OrderStatusCancelled, cancelled.Status)

	available, err := s.inventory.Available(ProductTarget(product.ID))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 5, available)

	emitted := s.publisher.byType(events.TypeOrderCancelled)
	require.Len(s.T(), emitted, 1)
}

func (s *OrderServiceTestSuite) TestOnlyBuyerMayCancel() {
	product := seedStockProduct(s.T(), s.db, s.seller.ID, "Desk Lamp", 5)

	order, err := s.orders.CreateOrder(s.buyer.ID, CreateOrderRequest{
		Items:        []OrderLineItem{{ProductID: product.ID, Quantity: 1, UnitPrice: dec("50")}},
		Shipping:     s.shipping(),
		ClaimedTotal: dec("50"),
	})
	require.NoError(s.T(), err)

	_, err = s.orders.CancelOrder(order.ID, s.seller.ID)
	require.Error(s.T(), err)
	assert.True(s.T(), apperrors.IsKind(err, apperrors.KindForbidden))
}

func (s *OrderServiceTestSuite) TestShippedOrderNotCancellable() {
	product := seedStockProduct(s.T(), s.db, s.seller.ID, "Desk Lamp", 5)

	order, err := s.orders.CreateOrder(s.buyer.ID, CreateOrderRequest{
		Items:        []OrderLineItem{{ProductID: product.ID, Quantity: 1, UnitPrice: dec("50")}},
		Shipping:     s.shipping(),
		ClaimedTotal: dec("50"),
	})
	require.NoError(s.T(), err)

	_, err = s.orders.UpdateOrderStatus(order.ID, s.seller.ID, models.OrderStatusShipped)
	require.NoError(s.T(), err)

	_, err = s.orders.CancelOrder(order.ID, s.buyer.ID)
	require.Error(s.T(), err)
	assert.Equal(s.T(), "NOT_CANCELLABLE", apperrors.CodeOf(err))
}

func (s *OrderServiceTestSuite) TestStatusTransitionsAreSellerGated() {
	product := seedStockProduct(s.T(), s.db, s.seller.ID, "Desk Lamp", 5)

	order, err := s.orders.CreateOrder(s.buyer.ID, CreateOrderRequest{
		Items:        []OrderLineItem{{ProductID: product.ID, Quantity: 1, UnitPrice: dec("50")}},
		Shipping:     s.shipping(),
		ClaimedTotal: dec("50"),
	})
	require.NoError(s.T(), err)

	// The buyer is not a seller on this order.
	_, err = s.orders.UpdateOrderStatus(order.ID, s.buyer.ID, models.OrderStatusShipped)
	require.Error(s.T(), err)
	assert.True(s.T(), apperrors.IsKind(err, apperrors.KindForbidden))

	// Sellers cannot jump straight to completed.
	_, err = s.orders.UpdateOrderStatus(order.ID, s.seller.ID, models.OrderStatusCompleted)
	require.Error(s.T(), err)
	assert.Equal(s.T(), "INVALID_TRANSITION", apperrors.CodeOf(err))

	// Nor assign cancelled.
	_, err = s.orders.UpdateOrderStatus(order.ID, s.seller.ID, models.OrderStatusCancelled)
	require.Error(s.T(), err)
	assert.Equal(s.T(), "INVALID_STATUS", apperrors.CodeOf(err))

	updated, err := s.orders.UpdateOrderStatus(order.ID, s.seller.ID, models.OrderStatusShipped)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.OrderStatusShipped, updated.Status)

	updated, err = s.orders.UpdateOrderStatus(order.ID, s.seller.ID, models.OrderStatusCompleted)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.OrderStatusCompleted, updated.Status)
}

func (s *OrderServiceTestSuite) TestOrderDetailVisibility() {
	product := seedStockProduct(s.T(), s.db, s.seller.ID, "Desk Lamp", 5)

	order, err := s.orders.CreateOrder(s.buyer.ID, CreateOrderRequest{
		Items:        []OrderLineItem{{ProductID: product.ID, Quantity: 1, UnitPrice: dec("50")}},
		Shipping:     s.shipping(),
		ClaimedTotal: dec("50"),
	})
	require.NoError(s.T(), err)

	_, err = s.orders.GetOrder(order.ID, s.buyer.ID)
	require.NoError(s.T(), err)

	_, err = s.orders.GetOrder(order.ID, s.seller.ID)
	require.NoError(s.T(), err)

	stranger := seedUser(s.T(), s.db, "eve_jones", true)
	_, err = s.orders.GetOrder(order.ID, stranger.ID)
	require.Error(s.T(), err)
	assert.True(s.T(), apperrors.IsKind(err, apperrors.KindForbidden))
}

func (s *OrderServiceTestSuite) TestBuyerAndSellerListings() {
	product := seedStockProduct(s.T(), s.db, s.seller.ID, "Desk Lamp", 5)

	order, err := s.orders.CreateOrder(s.buyer.ID, CreateOrderRequest{
		Items:        []OrderLineItem{{ProductID: product.ID, Quantity: 1, UnitPrice: dec("50")}},
		Shipping:     s.shipping(),
		ClaimedTotal: dec("50"),
	})
	require.NoError(s.T(), err)

	params := utils.PaginationParams{Page: 1, Limit: 20}

	buyerOrders, result, err := s.orders.GetBuyerOrders(s.buyer.ID, params)
	require.NoError(s.T(), err)
	require.Len(s.T(), buyerOrders, 1)
	assert.Equal(s.T(), order.ID, buyerOrders[0].ID)
	assert.Equal(s.T(), int64(1), result.Total)

	sellerOrders, _, err := s.orders.GetSellerOrders(s.seller.ID, params)
	require.NoError(s.T(), err)
	require.Len(s.T(), sellerOrders, 1)
	assert.Equal(s.T(), order.ID, sellerOrders[0].ID)

	otherSeller := seedUser(s.T(), s.db, "bookshop", true)
	sellerOrders, _, err = s.orders.GetSellerOrders(otherSeller.ID, params)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), sellerOrders)
}

func TestOrderServiceTestSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceTestSuite))
}
