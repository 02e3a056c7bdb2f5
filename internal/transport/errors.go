package transport

import (
	"errors"
	"net/http"

	"shopfront/internal/auth"
	"shopfront/internal/domain"
	"shopfront/internal/middleware"
	"shopfront/internal/repository"
	"shopfront/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Error codes carried in the "code" field of the error envelope
const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeEmptyCart          = "EMPTY_CART"
	CodeProductUnavailable = "PRODUCT_UNAVAILABLE"
	CodeInsufficientStock  = "INSUFFICIENT_STOCK"
	CodeConflict           = "CONFLICT"
	CodeValidation         = "VALIDATION_ERROR"
	CodeTransient          = "TEMPORARILY_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

var notFoundErrors = []error{
	repository.ErrOrderNotFound,
	repository.ErrProductNotFound,
	repository.ErrCartItemNotFound,
	repository.ErrCartNotFound,
	repository.ErrUserNotFound,
}

// respondError maps a service error onto its HTTP status. Anything that is
// not a known kind is logged and reported as a generic 500.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var stockErr *domain.StockError
	var unavailableErr *domain.UnavailableError
	var conflictErr *domain.ConflictError

	switch {
	case errors.As(err, &stockErr):
		middleware.RespondWithErrorCode(w, http.StatusConflict, CodeInsufficientStock, stockErr.Error(), map[string]interface{}{
			"product_id":   stockErr.ProductID.String(),
			"product_name": stockErr.ProductName,
			"requested":    stockErr.Requested,
			"available":    stockErr.Available,
		})
	case errors.As(err, &unavailableErr):
		middleware.RespondWithErrorCode(w, http.StatusNotFound, CodeProductUnavailable, unavailableErr.Error(), map[string]interface{}{
			"product_id": unavailableErr.ProductID.String(),
		})
	case errors.Is(err, domain.ErrProductUnavailable):
		middleware.RespondWithErrorCode(w, http.StatusNotFound, CodeProductUnavailable, domain.ErrProductUnavailable.Error(), nil)
	case errors.Is(err, domain.ErrInsufficientStock):
		middleware.RespondWithErrorCode(w, http.StatusConflict, CodeInsufficientStock, domain.ErrInsufficientStock.Error(), nil)
	case errors.As(err, &conflictErr):
		middleware.RespondWithErrorCode(w, http.StatusConflict, CodeConflict, conflictErr.Reason, nil)
	case errors.Is(err, domain.ErrConflict):
		middleware.RespondWithErrorCode(w, http.StatusConflict, CodeConflict, domain.ErrConflict.Error(), nil)
	case errors.Is(err, domain.ErrEmptyCart):
		middleware.RespondWithErrorCode(w, http.StatusBadRequest, CodeEmptyCart, domain.ErrEmptyCart.Error(), nil)
	case errors.Is(err, domain.ErrValidation):
		middleware.RespondWithErrorCode(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
	case errors.Is(err, domain.ErrNotFound):
		middleware.RespondWithErrorCode(w, http.StatusNotFound, CodeNotFound, notFoundMessage(err), nil)
	case errors.Is(err, domain.ErrUnauthorized):
		middleware.RespondWithErrorCode(w, http.StatusUnauthorized, CodeUnauthorized, unauthorizedMessage(err), nil)
	case errors.Is(err, domain.ErrForbidden):
		middleware.RespondWithErrorCode(w, http.StatusForbidden, CodeForbidden, "insufficient permissions", nil)
	case errors.Is(err, domain.ErrTransient):
		logger.Warn("Transient failure", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		middleware.RespondWithErrorCode(w, http.StatusServiceUnavailable, CodeTransient, "temporarily unavailable, please retry", nil)
	default:
		logger.Error("Unhandled error", zap.Error(err))
		middleware.RespondWithErrorCode(w, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
	}
}

func notFoundMessage(err error) string {
	for _, known := range notFoundErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return domain.ErrNotFound.Error()
}

func unauthorizedMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return "invalid email or password"
	case errors.Is(err, auth.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, auth.ErrWrongTokenType):
		return "wrong token type"
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid token"
	}
	return "unauthorized"
}

// decodeRequest reads and validates a JSON body. On failure it has already
// written the response and returns false.
func decodeRequest(w http.ResponseWriter, r *http.Request, logger *zap.Logger, v interface{}) bool {
	if err := middleware.DecodeAndValidate(r, v); err != nil {
		logger.Debug("Request validation failed", zap.Error(err))

		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return false
		}

		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func callerID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		logger.Error("User ID not found in context")
		middleware.RespondWithError(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, false
	}
	return userID, true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		middleware.RespondWithErrorCode(w, http.StatusBadRequest, CodeValidation, "invalid "+param, nil)
		return uuid.Nil, false
	}
	return id, true
}
