package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/salepoint/salepoint/internal/domain"
	"github.com/salepoint/salepoint/pkg/database"
	apperrors "github.com/salepoint/salepoint/pkg/errors"
)

// InvoiceRepository reads finalized invoices with their lines and payments.
type InvoiceRepository struct {
	db database.DBTX
}

// NewInvoiceRepository creates an invoice repository backed by the given pool.
func NewInvoiceRepository(db database.DBTX) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// GetByID fetches a complete invoice by ID.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	return r.get(ctx, "id", id)
}

// GetByNumber fetches a complete invoice by its invoice number.
func (r *InvoiceRepository) GetByNumber(ctx context.Context, number string) (*domain.Invoice, error) {
	return r.get(ctx, "number", number)
}

func (r *InvoiceRepository) get(ctx context.Context, column, value string) (*domain.Invoice, error) {
	query := fmt.Sprintf(`
		SELECT id, number, status, COALESCE(customer_id, ''), cashier_id,
		       subtotal_cents, tax_rate, tax_cents, total_cents, created_at
		FROM invoices
		WHERE %s = $1`, column)

	var inv domain.Invoice
	err := r.db.QueryRow(ctx, query, value).Scan(
		&inv.ID, &inv.Number, &inv.Status, &inv.CustomerID, &inv.CashierID,
		&inv.SubtotalCents, &inv.TaxRate, &inv.TaxCents, &inv.TotalCents, &inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("invoice", value)
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}

	lines, err := r.loadLines(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Lines = lines

	payments, err := r.loadPayments(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Payments = payments

	return &inv, nil
}

func (r *InvoiceRepository) loadLines(ctx context.Context, invoiceID string) ([]domain.InvoiceLine, error) {
	query := `
		SELECT id, invoice_id, product_id, description, quantity, unit_price_cents, discount_percentage, total_cents
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.InvoiceLine
	for rows.Next() {
		var l domain.InvoiceLine
		if err := rows.Scan(
			&l.ID, &l.InvoiceID, &l.ProductID, &l.Description,
			&l.Quantity, &l.UnitPriceCents, &l.DiscountPercentage, &l.TotalCents,
		); err != nil {
			return nil, fmt.Errorf("scan invoice line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoice line rows: %w", err)
	}

	return lines, nil
}

func (r *InvoiceRepository) loadPayments(ctx context.Context, invoiceID string) ([]domain.Payment, error) {
	query := `
		SELECT id, invoice_id, method, amount_cents, COALESCE(reference, ''), created_at
		FROM invoice_payments
		WHERE invoice_id = $1
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Method, &p.AmountCents, &p.Reference, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invoice payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}

	return payments, nil
}
