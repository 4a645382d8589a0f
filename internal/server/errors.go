package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ambiyansyah-risyal/klatch"
)

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func errorPayload(e requestError) errorBody {
	var payload errorBody
	payload.Error.Message = e.Message
	payload.Error.Type = e.Type
	payload.Error.Code = e.Code
	return payload
}

func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = c.JSON(reqErr.Status, errorPayload(reqErr))
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = c.JSON(he.Code, errorPayload(requestError{Message: fmt.Sprint(he.Message), Type: "invalid_request_error"}))
		return
	}

	_ = c.JSON(http.StatusInternalServerError, errorPayload(requestError{Message: "internal server error", Type: "server_error"}))
}

// toHTTPError maps client failures onto gateway responses.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	kind := klatch.KindOf(err)
	switch kind {
	case klatch.ErrorTypeCancelled:
		return requestError{Status: statusClientClosedRequest, Message: "request cancelled", Type: "cancelled", Code: kind}
	case klatch.ErrorTypeValidation:
		return requestError{Status: http.StatusBadRequest, Message: err.Error(), Type: "invalid_request_error", Code: kind}
	case klatch.ErrorTypeRateLimit:
		return requestError{Status: http.StatusTooManyRequests, Message: err.Error(), Type: "rate_limit_error", Code: kind}
	case klatch.ErrorTypeCircuitOpen:
		return requestError{Status: http.StatusServiceUnavailable, Message: err.Error(), Type: "upstream_unavailable", Code: kind}
	case klatch.ErrorTypeTerminal:
		return requestError{Status: http.StatusBadGateway, Message: err.Error(), Type: "upstream_rejected", Code: kind}
	case "":
		return requestError{Status: http.StatusInternalServerError, Message: "internal server error", Type: "server_error"}
	}
	// ExhaustedRetries, Transport and Decode all end at the upstream
	return requestError{Status: http.StatusBadGateway, Message: err.Error(), Type: "upstream_error", Code: kind}
}

func writeSSEData(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}
