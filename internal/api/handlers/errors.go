package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/dvloznov/finance-capture/internal/api/middleware"
	"github.com/dvloznov/finance-capture/internal/extraction"
	"github.com/dvloznov/finance-capture/internal/schema"
)

// extractionStatus maps an extraction or capture error to its HTTP status.
func extractionStatus(err error) int {
	var invalid *schema.ValidationError
	var malformed *extraction.MalformedResponseError
	var failed *extraction.ExtractionFailedError
	switch {
	case errors.Is(err, extraction.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &malformed), errors.As(err, &failed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeExtractionError writes err with its status. Schema failures carry
// the failing fields.
func writeExtractionError(w http.ResponseWriter, err error) {
	status := extractionStatus(err)

	var invalid *schema.ValidationError
	if errors.As(err, &invalid) {
		middleware.WriteJSON(w, status, map[string]interface{}{
			"error":  err.Error(),
			"issues": invalid.Issues,
		})
		return
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	middleware.WriteError(w, status, message)
}
