package inventory

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"` // short code used as the SKU prefix
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	BasePrice   decimal.Decimal `json:"basePrice"`
	BaseStock   Stock           `json:"baseStock"` // used only while the product has no active variants
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// skuPrefix is the product part of generated SKUs.
func (p Product) skuPrefix() string {
	if p.Code != "" {
		return p.Code
	}
	id := strings.ReplaceAll(p.ID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

type Variant struct {
	ID                string          `json:"id"`
	ProductID         string          `json:"productId"`
	Size              string          `json:"size"`
	Color             string          `json:"color"`
	SKU               string          `json:"skuCode"`
	SKUOverridden     bool            `json:"skuOverridden"`
	Price             decimal.Decimal `json:"price"`
	StockQuantity     int             `json:"stockQuantity"`
	ReservedQuantity  int             `json:"reservedQuantity"`
	LowStockThreshold int             `json:"lowStockThreshold"`
	ReorderPoint      int             `json:"reorderPoint"`
	IsUnlimitedStock  bool            `json:"isUnlimitedStock"`
	IsActive          bool            `json:"isActive"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Available is always derived at read time.
func (v Variant) Available() Stock {
	if v.IsUnlimitedStock {
		return Unbounded()
	}
	return Finite(v.StockQuantity - v.ReservedQuantity)
}

func (v Variant) IsLowStock() bool {
	n, ok := v.Available().Count()
	return ok && n <= v.LowStockThreshold
}

func (v Variant) NeedsReorder() bool {
	n, ok := v.Available().Count()
	return ok && n <= v.ReorderPoint
}

// VariantView is the read shape handed to callers: the stored fields plus the
// derived ones.
type VariantView struct {
	Variant
	AvailableQuantity Stock `json:"availableQuantity"`
	IsLowStock        bool  `json:"isLowStock"`
	NeedsReorder      bool  `json:"needsReorder"`
}

func (v Variant) View() VariantView {
	return VariantView{
		Variant:           v,
		AvailableQuantity: v.Available(),
		IsLowStock:        v.IsLowStock(),
		NeedsReorder:      v.NeedsReorder(),
	}
}

// VariantAttrs is a partial update; nil fields are left untouched.
type VariantAttrs struct {
	Size              *string          `json:"size,omitempty"`
	Color             *string          `json:"color,omitempty"`
	SKU               *string          `json:"skuCode,omitempty"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	StockQuantity     *int             `json:"stockQuantity,omitempty"`
	LowStockThreshold *int             `json:"lowStockThreshold,omitempty"`
	ReorderPoint      *int             `json:"reorderPoint,omitempty"`
	IsUnlimitedStock  *bool            `json:"isUnlimitedStock,omitempty"`
	IsActive          *bool            `json:"isActive,omitempty"`
}

type MovementType string

const (
	MovementAdjust  MovementType = "ADJUST"
	MovementReserve MovementType = "RESERVE"
	MovementRelease MovementType = "RELEASE"
	MovementFulfill MovementType = "FULFILL"
)

// Movement is the audit record of one stock primitive applied to a variant.
type Movement struct {
	ID             string       `json:"id"`
	VariantID      string       `json:"variantId"`
	Type           MovementType `json:"type"`
	Delta          int          `json:"delta"`
	StockBefore    int          `json:"stockBefore"`
	StockAfter     int          `json:"stockAfter"`
	ReservedBefore int          `json:"reservedBefore"`
	ReservedAfter  int          `json:"reservedAfter"`
	Reason         string       `json:"reason,omitempty"`
	Reference      string       `json:"reference,omitempty"` // order id for reservation movements
	CreatedAt      time.Time    `json:"createdAt"`
}

// Allocation is a quantity of one variant, as held by an order line.
type Allocation struct {
	VariantID string `json:"variantId"`
	Qty       int    `json:"qty"`
}
