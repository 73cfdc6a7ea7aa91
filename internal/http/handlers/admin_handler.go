package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/userhub/internal/domain"
	"github.com/diagnosis/userhub/internal/http/middleware"
	"github.com/diagnosis/userhub/internal/http/response"
	"github.com/diagnosis/userhub/internal/service"
	"github.com/diagnosis/userhub/pkg/logger"
)

type AdminHandler struct {
	Accounts service.AccountService
}

func NewAdminHandler(accounts service.AccountService) *AdminHandler {
	return &AdminHandler{Accounts: accounts}
}

// Routes keeps login public; everything else needs an admin token.
func (h *AdminHandler) Routes(authn func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(authn, middleware.RequireAdmin)
		r.Post("/register", h.register)
		r.Put("/update", h.update)
		r.Delete("/delete", h.delete)
		r.Get("/all-users", h.list)
		r.Get("/user", h.get)
	})
	return r
}

func (h *AdminHandler) login(w http.ResponseWriter, r *http.Request) {
	var in domain.LoginRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.FromError(w, r, err)
		return
	}

	resp, err := h.Accounts.Login(r.Context(), &in)
	if err != nil {
		writeLoginError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) register(w http.ResponseWriter, r *http.Request) {
	var in domain.RegisterRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.FromError(w, r, err)
		return
	}

	u, err := h.Accounts.RegisterAdmin(r.Context(), &in)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	logger.InfoContext(r.Context(), "Admin created by admin", "new_identity_id", u.ID)
	response.WriteJSON(w, http.StatusCreated, userResponse{User: u})
}

func (h *AdminHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := requireQuery(r, "userId")
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	var in domain.AdminUpdateRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.FromError(w, r, err)
		return
	}

	u, err := h.Accounts.AdminUpdate(r.Context(), id, &in)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, userResponse{User: u})
}

func (h *AdminHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := requireQuery(r, "userId")
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	if err := h.Accounts.DeleteIdentity(r.Context(), id); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, messageResponse{Message: "User deleted successfully"})
}

func (h *AdminHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	users, err := h.Accounts.ListUsers(r.Context(), limit, offset)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if users == nil {
		users = []domain.Identity{}
	}
	response.WriteJSON(w, http.StatusOK, usersResponse{Users: users, Limit: limit, Offset: offset})
}

func (h *AdminHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := requireQuery(r, "userId")
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	u, err := h.Accounts.GetIdentity(r.Context(), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, userResponse{User: u})
}
