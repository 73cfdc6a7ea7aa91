package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/diagnosis/userhub/internal/domain"
	"github.com/diagnosis/userhub/pkg/logger"
)

// ErrorResponse represents a structured JSON error response
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Common error codes
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeConflict           = "CONFLICT"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidOTP         = "INVALID_OTP"
	CodeOTPExpired         = "OTP_EXPIRED"
	CodeEmailNotVerified   = "EMAIL_NOT_VERIFIED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeForbidden          = "FORBIDDEN"
	CodeDependencyFailure  = "DEPENDENCY_FAILURE"
	CodeInternalError      = "INTERNAL_ERROR"
)

func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, statusCode int, message string, code string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// FromError maps a service error onto its HTTP status and code. Unknown
// errors are logged and answered with a generic message.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "invalid input",
			Code:   CodeInvalidInput,
			Fields: verr.Fields,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrConflict):
		WriteError(w, http.StatusBadRequest, err.Error(), CodeConflict)
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not found", CodeNotFound)
	case errors.Is(err, domain.ErrInvalidCredentials):
		WriteError(w, http.StatusBadRequest, "invalid credentials", CodeInvalidCredentials)
	case errors.Is(err, domain.ErrInvalidOTP):
		WriteError(w, http.StatusBadRequest, "invalid or expired otp", CodeInvalidOTP)
	case errors.Is(err, domain.ErrOTPExpired):
		WriteError(w, http.StatusBadRequest, "otp expired or invalid", CodeOTPExpired)
	case errors.Is(err, domain.ErrEmailNotVerified):
		WriteError(w, http.StatusBadRequest, "email not verified", CodeEmailNotVerified)
	case errors.Is(err, domain.ErrUnauthenticated):
		WriteError(w, http.StatusUnauthorized, "authentication required", CodeUnauthorized)
	case errors.Is(err, domain.ErrInvalidToken):
		WriteError(w, http.StatusUnauthorized, "invalid or expired token", CodeInvalidToken)
	case errors.Is(err, domain.ErrForbidden):
		WriteError(w, http.StatusForbidden, "insufficient role", CodeForbidden)
	case errors.Is(err, domain.ErrDependency):
		logger.ErrorContext(r.Context(), "Dependency failure", "error", err, "path", r.URL.Path)
		WriteError(w, http.StatusInternalServerError, "upstream service unavailable", CodeDependencyFailure)
	default:
		logger.ErrorContext(r.Context(), "Unhandled error", "error", err, "path", r.URL.Path)
		WriteError(w, http.StatusInternalServerError, "internal server error", CodeInternalError)
	}
}
