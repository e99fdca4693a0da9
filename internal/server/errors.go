package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	cycledomain "github.com/metriqhq/metriq/internal/cycle/domain"
	invoicedomain "github.com/metriqhq/metriq/internal/invoice/domain"
	ledgerdomain "github.com/metriqhq/metriq/internal/ledger/domain"
	"github.com/metriqhq/metriq/internal/pricing"
)

var ErrInvalidRequest = errors.New("invalid_request")

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware converts the last handler error into a JSON
// response after the chain has run.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ledgerdomain.ErrInvalidMeterKind),
		errors.Is(err, ledgerdomain.ErrNonPositiveAmount),
		errors.Is(err, pricing.ErrUnknownMeterRate):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, cycledomain.ErrNoOpenCycle),
		errors.Is(err, cycledomain.ErrSnapshotNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	case errors.Is(err, cycledomain.ErrConcurrentCloseConflict),
		errors.Is(err, invoicedomain.ErrInvoiceNumberConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
