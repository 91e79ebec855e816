package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"trading-authority/internal/errs"
	"trading-authority/internal/execution"
	"trading-authority/internal/ledger"
	"trading-authority/internal/settings"
	"trading-authority/pkg/logging"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// errorStatus maps the error taxonomy onto an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	var (
		ve *errs.ValidationError
		nc *errs.NotConfiguredError
		cc *errs.ConcurrencyConflictError
		ib *errs.InsufficientBalanceError
		de *errs.DecryptionError
		ee *errs.EncryptionError
		te *errs.TransientExecutionError
	)
	switch {
	case errors.As(err, &ve),
		errors.Is(err, errs.ErrAmountOutOfBounds),
		errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.As(err, &nc):
		return http.StatusConflict, "NOT_CONFIGURED"
	case errors.Is(err, errs.ErrAlreadyConfigured):
		return http.StatusConflict, "ALREADY_CONFIGURED"
	case errors.As(err, &cc):
		return http.StatusConflict, "VERSION_CONFLICT"
	case errors.As(err, &ib):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"
	case errors.Is(err, errs.ErrNoPrice):
		return http.StatusUnprocessableEntity, "NO_PRICE"
	case errors.Is(err, errs.ErrSlippageExceeded):
		return http.StatusUnprocessableEntity, "SLIPPAGE_EXCEEDED"
	case errors.Is(err, errs.ErrMissingCredential), errors.Is(err, execution.ErrNoSettlement):
		return http.StatusConflict, "LIVE_UNAVAILABLE"
	case errors.Is(err, errs.ErrTimeout):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.As(err, &te):
		return http.StatusServiceUnavailable, "SETTLEMENT_UNAVAILABLE"
	case errors.Is(err, errs.ErrOrderRejected), errors.Is(err, execution.ErrSettlementFailed):
		return http.StatusBadGateway, "ORDER_REJECTED"
	case errors.As(err, &de):
		return http.StatusInternalServerError, "DECRYPTION_FAILED"
	case errors.As(err, &ee):
		return http.StatusInternalServerError, "ENCRYPTION_FAILED"
	case errors.Is(err, settings.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// respondErr writes err using the taxonomy mapping. Validation failures carry their
// field list; server errors are logged and masked.
func respondErr(c *gin.Context, err error) {
	status, code := errorStatus(err)
	body := gin.H{"code": code, "error": logging.Mask(err.Error())}

	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		body["fields"] = ve.Fields
	}
	if status == http.StatusInternalServerError {
		logging.FromContext(c.Request.Context()).Error().Err(err).Str("code", code).Msg("request failed")
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}
