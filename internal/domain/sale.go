package domain

import (
	"math"
	"time"
)

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusCompleted InvoiceStatus = "completed"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// PaymentMethod identifies how a payment was tendered.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentVoucher  PaymentMethod = "voucher"
)

// Invoice is a finalized sale. All monetary amounts are in cents.
type Invoice struct {
	ID            string        `json:"id"`
	Number        string        `json:"number"`
	Status        InvoiceStatus `json:"status"`
	CustomerID    string        `json:"customer_id,omitempty"`
	CashierID     string        `json:"cashier_id"`
	SubtotalCents int64         `json:"subtotal_cents"`
	TaxRate       float64       `json:"tax_rate"`
	TaxCents      int64         `json:"tax_cents"`
	TotalCents    int64         `json:"total_cents"`
	Lines         []InvoiceLine `json:"lines"`
	Payments      []Payment     `json:"payments"`
	CreatedAt     time.Time     `json:"created_at"`
}

// InvoiceLine is one product position on an invoice.
type InvoiceLine struct {
	ID                 string  `json:"id"`
	InvoiceID          string  `json:"invoice_id"`
	ProductID          string  `json:"product_id"`
	Description        string  `json:"description"`
	Quantity           int     `json:"quantity"`
	UnitPriceCents     int64   `json:"unit_price_cents"`
	DiscountPercentage float64 `json:"discount_percentage"`
	TotalCents         int64   `json:"total_cents"`
}

// Total computes the line total after the percentage discount, rounded to the
// nearest cent.
func (l *InvoiceLine) Total() int64 {
	gross := float64(l.UnitPriceCents) * float64(l.Quantity)
	net := gross * (1 - l.DiscountPercentage/100)
	return int64(math.Round(net))
}

// Payment is one tender applied to an invoice. A sale may mix methods.
type Payment struct {
	ID          string        `json:"id"`
	InvoiceID   string        `json:"invoice_id"`
	Method      PaymentMethod `json:"method"`
	AmountCents int64         `json:"amount_cents"`
	Reference   string        `json:"reference,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ComputeTotals fills in line totals, subtotal, tax and total on the invoice.
func (inv *Invoice) ComputeTotals() {
	var subtotal int64
	for i := range inv.Lines {
		inv.Lines[i].TotalCents = inv.Lines[i].Total()
		subtotal += inv.Lines[i].TotalCents
	}
	inv.SubtotalCents = subtotal
	inv.TaxCents = int64(math.Round(float64(subtotal) * inv.TaxRate))
	inv.TotalCents = subtotal + inv.TaxCents
}

// PaidCents sums all payments on the invoice.
func (inv *Invoice) PaidCents() int64 {
	var paid int64
	for _, p := range inv.Payments {
		paid += p.AmountCents
	}
	return paid
}

// ChangeCents returns the amount tendered above the total, zero when exact.
func (inv *Invoice) ChangeCents() int64 {
	change := inv.PaidCents() - inv.TotalCents
	if change < 0 {
		return 0
	}
	return change
}
