package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Line snapshots the variant at purchase time; it does not follow later
// edits or deletion of the variant.
type Line struct {
	VariantID string          `json:"variantId"`
	ProductID string          `json:"productId"`
	SKU       string          `json:"skuCode"`
	Size      string          `json:"size"`
	Color     string          `json:"color"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Qty       int             `json:"qty"`
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
}

// Note is one entry of the order's audit history.
type Note struct {
	At   time.Time `json:"at"`
	From Status    `json:"from,omitempty"`
	To   Status    `json:"to"`
	Text string    `json:"text,omitempty"`
}

type Order struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"externalId,omitempty"`
	CustomerID string          `json:"customerId"`
	Status     Status          `json:"status"`
	Lines      []Line          `json:"lines"`
	Total      decimal.Decimal `json:"total"`
	Notes      []Note          `json:"notes"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func (o Order) clone() Order {
	o.Lines = append([]Line(nil), o.Lines...)
	o.Notes = append([]Note(nil), o.Notes...)
	return o
}

type LineInput struct {
	VariantID string `json:"variantId"`
	Qty       int    `json:"qty"`
}

type NewOrder struct {
	ExternalID string      `json:"externalId"`
	CustomerID string      `json:"customerId"`
	Lines      []LineInput `json:"lines"`
}
