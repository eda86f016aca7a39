package domain

import "time"

// CartStatus is the lifecycle state of a cart session.
type CartStatus string

const (
	CartStatusActive    CartStatus = "active"
	CartStatusFinalized CartStatus = "finalized"
	CartStatusAbandoned CartStatus = "abandoned"
)

// CartLine is one product position in an open cart. The quantity is backed by
// an equal reservation against the product's stock.
type CartLine struct {
	ProductID          string  `json:"product_id"`
	Description        string  `json:"description"`
	Quantity           int     `json:"quantity"`
	UnitPriceCents     int64   `json:"unit_price_cents"`
	DiscountPercentage float64 `json:"discount_percentage"`
}

// CartSession is an in-progress sale. Every unit in its lines holds a
// reservation, so the session must release on removal and abandonment.
type CartSession struct {
	ID         string     `json:"id"`
	OperatorID string     `json:"operator_id"`
	CustomerID string     `json:"customer_id,omitempty"`
	Status     CartStatus `json:"status"`
	Lines      []CartLine `json:"lines"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// LineFor returns the line for the product, or nil when absent.
func (c *CartSession) LineFor(productID string) *CartLine {
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			return &c.Lines[i]
		}
	}
	return nil
}

// AddLine merges the quantity into an existing line for the same product, or
// appends a new line. The caller must already hold a reservation for the
// added quantity.
func (c *CartSession) AddLine(line CartLine) {
	if existing := c.LineFor(line.ProductID); existing != nil {
		existing.Quantity += line.Quantity
		if line.DiscountPercentage != 0 {
			existing.DiscountPercentage = line.DiscountPercentage
		}
		return
	}
	c.Lines = append(c.Lines, line)
}

// RemoveLine removes up to quantity units of the product and returns how many
// were actually removed, so the caller knows how much reservation to release.
// A quantity at or above the line quantity removes the whole line.
func (c *CartSession) RemoveLine(productID string, quantity int) int {
	for i := range c.Lines {
		if c.Lines[i].ProductID != productID {
			continue
		}
		if quantity >= c.Lines[i].Quantity {
			removed := c.Lines[i].Quantity
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			return removed
		}
		c.Lines[i].Quantity -= quantity
		return quantity
	}
	return 0
}

// IsEmpty reports whether the cart has no lines.
func (c *CartSession) IsEmpty() bool {
	return len(c.Lines) == 0
}
