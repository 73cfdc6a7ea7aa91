package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/diagnosis/userhub/internal/domain"
	"github.com/diagnosis/userhub/internal/http/response"
)

const maxBodyBytes = 1 << 20

type messageResponse struct {
	Message string `json:"message"`
}

type userResponse struct {
	Message string           `json:"message,omitempty"`
	User    *domain.Identity `json:"user"`
}

type usersResponse struct {
	Users  []domain.Identity `json:"users"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// decodeJSON reads exactly one JSON object and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return domain.NewValidationError("body", "request body is empty")
		case errors.As(err, &maxErr):
			return domain.NewValidationError("body", "request body too large")
		default:
			return domain.NewValidationError("body", fmt.Sprintf("malformed JSON: %v", err))
		}
	}
	if dec.More() {
		return domain.NewValidationError("body", "request body must contain a single JSON object")
	}
	return nil
}

func requireQuery(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", domain.NewValidationError(name, "is required")
	}
	return v, nil
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return limit, offset
}

// writeLoginError hides whether the account exists.
func writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		err = domain.ErrInvalidCredentials
	}
	response.FromError(w, r, err)
}
