package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/salepoint/salepoint/pkg/httpclient"
)

// NumberingClient fetches sequential invoice numbers from the fiscal
// numbering service. The circuit breaker wrapping this client falls back to a
// timestamp-derived number so sales never block on the numbering service.
type NumberingClient struct {
	doer    httpclient.HTTPDoer
	baseURL string
	logger  *slog.Logger
}

// NewNumberingClient creates a numbering service client.
func NewNumberingClient(doer httpclient.HTTPDoer, baseURL string, logger *slog.Logger) *NumberingClient {
	return &NumberingClient{doer: doer, baseURL: baseURL, logger: logger}
}

type numberRequest struct {
	Series string `json:"series"`
}

type numberResponse struct {
	Data struct {
		Number string `json:"number"`
	} `json:"data"`
}

// NextNumber requests the next invoice number in the given series.
func (c *NumberingClient) NextNumber(ctx context.Context, series string) (string, error) {
	body, err := json.Marshal(numberRequest{Series: series})
	if err != nil {
		return "", fmt.Errorf("marshal number request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/numbers", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build number request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return "", fmt.Errorf("request invoice number: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", httpclient.ParseResponseError(resp)
	}

	var parsed numberResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode number response: %w", err)
	}
	if parsed.Data.Number == "" {
		return "", fmt.Errorf("numbering service returned empty number")
	}

	return parsed.Data.Number, nil
}

// FallbackNumber derives an invoice number from the current timestamp. Used
// when the numbering service is unreachable; uniqueness comes from nanosecond
// resolution plus the invoices table unique constraint.
func FallbackNumber(now time.Time) string {
	return fmt.Sprintf("INV-%d", now.UnixNano())
}
