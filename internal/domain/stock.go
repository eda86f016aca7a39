package domain

import "time"

// MovementType classifies a stock mutation for the audit trail.
type MovementType string

const (
	MovementCreation    MovementType = "creation"
	MovementAdjustment  MovementType = "adjustment"
	MovementReservation MovementType = "reservation"
	MovementRelease     MovementType = "release"
	MovementSale        MovementType = "sale"
)

// StockRecord tracks the on-hand and reserved quantity for one product.
// Reserved never exceeds Quantity and never goes below zero. MinimumStock and
// ReorderPoint are informational thresholds for the low-stock report; they
// never gate a mutation. LastUpdateBy carries the actor of the most recent
// mutation, the full history lives in the audit trail.
type StockRecord struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"product_id"`
	Quantity     int       `json:"quantity"`
	Reserved     int       `json:"reserved"`
	MinimumStock int       `json:"minimum_stock"`
	ReorderPoint int       `json:"reorder_point"`
	LastUpdateBy string    `json:"last_update_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Available returns the quantity not currently held by reservations.
func (s *StockRecord) Available() int {
	return s.Quantity - s.Reserved
}

// Sellable returns the reservation ceiling once expired units are excluded.
// Expired units still sit in Quantity until an adjustment removes them, so
// they must not be promised to new reservations. Floored at zero because
// expired units can exceed what is left after existing holds.
func (s *StockRecord) Sellable(expired int) int {
	sellable := s.Available() - expired
	if sellable < 0 {
		return 0
	}
	return sellable
}

// AuditEntry is one append-only row in the stock audit trail. Previous and
// new quantity capture the counter the movement touched: the reserved counter
// for reservations and releases, the on-hand quantity for everything else.
type AuditEntry struct {
	ID               string       `json:"id"`
	ProductID        string       `json:"product_id"`
	MovementType     MovementType `json:"movement_type"`
	QuantityChange   int          `json:"quantity_change"`
	PreviousQuantity int          `json:"previous_quantity"`
	NewQuantity      int          `json:"new_quantity"`
	Reference        string       `json:"reference,omitempty"`
	PerformedBy      string       `json:"performed_by,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// ExpirationLot is a dated batch of a product. The sum of lots past their
// expiry date is the product's expired quantity.
type ExpirationLot struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	LotCode   string    `json:"lot_code"`
	Quantity  int       `json:"quantity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lot has passed its expiry date at the given instant.
func (l *ExpirationLot) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Product is the catalog view needed at the point of sale.
type Product struct {
	ID             string    `json:"id"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
