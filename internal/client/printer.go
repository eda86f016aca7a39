package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/salepoint/salepoint/internal/domain"
	"github.com/salepoint/salepoint/pkg/httpclient"
)

// PrinterClient sends finalized invoices to the receipt printing service.
// Printing is best-effort: a failure here never rolls back the sale.
type PrinterClient struct {
	doer    httpclient.HTTPDoer
	baseURL string
	logger  *slog.Logger
}

// NewPrinterClient creates a receipt printer client.
func NewPrinterClient(doer httpclient.HTTPDoer, baseURL string, logger *slog.Logger) *PrinterClient {
	return &PrinterClient{doer: doer, baseURL: baseURL, logger: logger}
}

type printRequest struct {
	InvoiceID     string  `json:"invoice_id"`
	InvoiceNumber string  `json:"invoice_number"`
	TotalCents    int64   `json:"total_cents"`
	ChangeCents   int64   `json:"change_cents"`
	Lines         []pLine `json:"lines"`
}

type pLine struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	TotalCents  int64  `json:"total_cents"`
}

// PrintReceipt submits the invoice for printing.
func (c *PrinterClient) PrintReceipt(ctx context.Context, invoice *domain.Invoice) error {
	payload := printRequest{
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.Number,
		TotalCents:    invoice.TotalCents,
		ChangeCents:   invoice.ChangeCents(),
	}
	for _, l := range invoice.Lines {
		payload.Lines = append(payload.Lines, pLine{
			Description: l.Description,
			Quantity:    l.Quantity,
			TotalCents:  l.TotalCents,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal print request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/receipts", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build print request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("send receipt to printer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return httpclient.ParseResponseError(resp)
	}

	c.logger.InfoContext(ctx, "receipt queued for printing",
		slog.String("invoice_number", invoice.Number),
	)
	return nil
}
