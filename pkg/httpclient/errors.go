package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/salepoint/salepoint/pkg/errors"
)

// ErrCircuitOpen is returned when the circuit is open and no fallback exists.
var ErrCircuitOpen = errors.New("circuit breaker open")

// DownstreamError represents a non-2xx response from a downstream service.
type DownstreamError struct {
	StatusCode int
	URL        string
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("downstream %s returned %d", e.URL, e.StatusCode)
}

// ParseResponseError converts a non-2xx downstream response into an AppError,
// preserving the downstream error envelope when it parses.
func ParseResponseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := fmt.Sprintf("downstream returned %d", resp.StatusCode)
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &apperrors.AppError{Code: "NOT_FOUND", Message: message, Status: http.StatusNotFound, Err: apperrors.ErrNotFound}
	case resp.StatusCode == http.StatusConflict:
		return apperrors.Conflict(message)
	case resp.StatusCode == http.StatusBadRequest:
		return apperrors.InvalidInput(message)
	case resp.StatusCode >= 500:
		return apperrors.ServiceUnavailable(message)
	default:
		return apperrors.Internal(&DownstreamError{StatusCode: resp.StatusCode, URL: resp.Request.URL.String()})
	}
}
