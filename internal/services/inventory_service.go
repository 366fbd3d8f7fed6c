// internal/services/inventory_service.go
package services

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bidmarket/bidmarket-backend/internal/apperrors"
	"github.com/bidmarket/bidmarket-backend/internal/models"
)

// InventoryTarget names the unit of stock a line item draws from:
// either a bare product or one specific SKU. The target is resolved
// once at validation time so pricing and stock logic never branch on a
// nullable SKU id.
type InventoryTarget struct {
	ProductID uuid.UUID
	SkuID     *uuid.UUID
}

func ProductTarget(productID uuid.UUID) InventoryTarget {
	return InventoryTarget{ProductID: productID}
}

func SkuTarget(productID, skuID uuid.UUID) InventoryTarget {
	return InventoryTarget{ProductID: productID, SkuID: &skuID}
}

func (t InventoryTarget) IsSku() bool {
	return t.SkuID != nil
}

// InventoryService owns the stock counters and the only two mutations
// the core performs on them: a guarded decrement and a restore. Both
// are single conditional UPDATEs, so concurrent callers on the same
// unit can never both take the last piece.
type InventoryService struct {
	db *gorm.DB
}

func NewInventoryService(db *gorm.DB) *InventoryService {
	return &InventoryService{db: db}
}

// Decrement atomically reduces the target's stock by qty inside the
// caller's transaction. The stock >= qty predicate in the UPDATE is
// what makes a lost race surface as InsufficientStock instead of a
// negative counter.
func (s *InventoryService) Decrement(tx *gorm.DB, target InventoryTarget, qty int) error {
	if qty <= 0 {
		return apperrors.New(apperrors.KindInvalidInput, "INVALID_QUANTITY", "quantity must be positive")
	}

	var res *gorm.DB
	if target.IsSku() {
		res = tx.Model(&models.ProductSku{}).
			Where("id = ? AND stock >= ?", *target.SkuID, qty).
			UpdateColumn("stock", gorm.Expr("stock - ?", qty))
	} else {
		res = tx.Model(&models.Product{}).
			Where("id = ? AND stock_quantity >= ?", target.ProductID, qty).
			UpdateColumn("stock_quantity", gorm.Expr("stock_quantity - ?", qty))
	}

	if res.Error != nil {
		return apperrors.Wrap(res.Error, "failed to decrement stock")
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing unit from one that ran out.
		available, err := s.availableTx(tx, target)
		if err != nil {
			return err
		}
		return apperrors.Newf(apperrors.KindInsufficientStock, "INSUFFICIENT_STOCK",
			"insufficient stock: %d remaining, %d requested", available, qty)
	}
	return nil
}

// Restore adds qty back to the target's stock, used when a pending
// order is cancelled. No upper bound is enforced here; catalog-level
// maxima are not this core's concern.
func (s *InventoryService) Restore(tx *gorm.DB, target InventoryTarget, qty int) error {
	if qty <= 0 {
		return apperrors.New(apperrors.KindInvalidInput, "INVALID_QUANTITY", "quantity must be positive")
	}

	var res *gorm.DB
	if target.IsSku() {
		res = tx.Model(&models.ProductSku{}).
			Where("id = ?", *target.SkuID).
			UpdateColumn("stock", gorm.Expr("stock + ?", qty))
	} else {
		res = tx.Model(&models.Product{}).
			Where("id = ?", target.ProductID).
			UpdateColumn("stock_quantity", gorm.Expr("stock_quantity + ?", qty))
	}

	if res.Error != nil {
		return apperrors.Wrap(res.Error, "failed to restore stock")
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.KindNotFound, "UNIT_NOT_FOUND", "inventory unit not found")
	}
	return nil
}

// Available reads the current stock of a target.
func (s *InventoryService) Available(target InventoryTarget) (int, error) {
	return s.availableTx(s.db, target)
}

func (s *InventoryService) availableTx(tx *gorm.DB, target InventoryTarget) (int, error) {
	if target.IsSku() {
		var sku models.ProductSku
		err := tx.Select("stock").First(&sku, "id = ?", *target.SkuID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperrors.New(apperrors.KindNotFound, "SKU_NOT_FOUND", "product sku not found")
		}
		if err != nil {
			return 0, apperrors.Wrap(err, "failed to read sku stock")
		}
		return sku.Stock, nil
	}

	var product models.Product
	err := tx.Select("stock_quantity").First(&product, "id = ?", target.ProductID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apperrors.New(apperrors.KindNotFound, "PRODUCT_NOT_FOUND", "product not found")
	}
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to read product stock")
	}
	return product.StockQuantity, nil
}
