package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Position is the bounding box of a recognized token, in pixels.
type Position struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// OCRToken is a single recognized word.
type OCRToken struct {
	Position   *Position
	Text       string
	Confidence float64
}

// OCRResult is what an OCR provider returns for one image.
type OCRResult struct {
	Text       string
	Engine     string
	Tokens     []OCRToken
	Confidence float64
}

// Item is one purchased line on a receipt.
type Item struct {
	Name      string
	RawLine   string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	Mismatch  bool
}

// Validate checks the non-negativity constraints of an item.
func (i *Item) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("item name is required")
	}
	if i.Quantity.IsNegative() {
		return fmt.Errorf("item %q has negative quantity %s", i.Name, i.Quantity)
	}
	if i.UnitPrice.IsNegative() {
		return fmt.Errorf("item %q has negative unit price %s", i.Name, i.UnitPrice)
	}
	return nil
}

// StructuredDocument is a receipt or bill after structuring.
type StructuredDocument struct {
	CreatedAt     time.Time
	Date          *time.Time
	DeclaredTotal *decimal.Decimal
	ID            string
	UserID        string
	Merchant      string
	Category      string
	RawText       string
	OCREngine     string
	PaymentMode   string
	Items         []Item
	Issues        []Issue
	OCRConfidence float64
	NeedsReview   bool
}

// ItemsTotal sums the line totals of all items.
func (d *StructuredDocument) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range d.Items {
		sum = sum.Add(item.LineTotal)
	}
	return sum
}

// Amount returns the declared total, falling back to the item sum.
func (d *StructuredDocument) Amount() decimal.Decimal {
	if d.DeclaredTotal != nil {
		return *d.DeclaredTotal
	}
	return d.ItemsTotal()
}
