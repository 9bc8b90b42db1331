package perplexity

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/BaSui01/perspectra/types"
)

// mapHTTPError converts an upstream status into a types.Error.
func mapHTTPError(status int, msg string) *types.Error {
	var e *types.Error
	switch {
	case status == http.StatusUnauthorized:
		e = types.NewError(types.ErrUnauthorized, msg)
	case status == http.StatusForbidden:
		e = types.NewError(types.ErrForbidden, msg)
	case status == http.StatusTooManyRequests:
		e = types.NewError(types.ErrRateLimited, msg).WithRetryable(true)
	case status == http.StatusGatewayTimeout:
		e = types.NewError(types.ErrUpstreamTimeout, msg).WithRetryable(true)
	case status == http.StatusServiceUnavailable:
		e = types.NewError(types.ErrServiceUnavailable, msg).WithRetryable(true)
	case status >= 500:
		e = types.NewError(types.ErrUpstreamError, msg).WithRetryable(true)
	default:
		e = types.NewError(types.ErrInvalidRequest, msg)
	}
	return e.WithHTTPStatus(status).WithProvider(providerName)
}

// readErrorMessage extracts {"error":{"message"}} and falls back to the raw body.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	if len(data) == 0 {
		return http.StatusText(http.StatusInternalServerError)
	}
	return string(data)
}
