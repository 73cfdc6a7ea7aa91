package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/userhub/internal/domain"
	"github.com/diagnosis/userhub/internal/http/middleware"
	"github.com/diagnosis/userhub/internal/http/response"
	"github.com/diagnosis/userhub/internal/service"
)

type UsersHandler struct {
	Accounts service.AccountService
}

func NewUsersHandler(accounts service.AccountService) *UsersHandler {
	return &UsersHandler{Accounts: accounts}
}

// Routes mounts the public registration and login endpoints plus the self-service
// profile endpoints behind authn. sendLimit wraps the endpoints that send codes and
// verifyLimit the ones that check them.
func (h *UsersHandler) Routes(authn, sendLimit, verifyLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/register", h.register)
	r.With(sendLimit).Post("/send-otp", h.sendPhoneOTP)
	r.With(verifyLimit).Post("/verifyOTPAndRegister", h.verifyPhoneAndRegister)
	r.With(sendLimit).Post("/send-email-otp", h.sendEmailOTP)
	r.With(verifyLimit).Post("/verify-email-otp", h.verifyEmailOTP)
	r.Post("/verifyEmailOTPAndRegister", h.registerWithVerifiedEmail)
	r.Post("/login", h.login)

	r.Group(func(r chi.Router) {
		r.Use(authn)
		r.Put("/update", h.update)
		r.Delete("/delete", h.delete)
		r.Get("/getUserData", h.me)
	})
	return r
}

func (h *UsersHandler) register(w http.ResponseWriter, r *http.Request) {
	var in domain.RegisterRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.FromError(w, r, err)
		return
	}

	u, err := h.Accounts.Register(r.Context(), &in)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, userResponse{User: u})
}

func (h *UsersHandler) sendPhoneOTP(w http.ResponseWriter, r *http.Request) {
	var in domain.PhoneOTPRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.FromError(w, r, err)
		return
	}

	if err := h.Accounts.RequestPhoneOTP(r.Context(), &in); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, messageResponse{Message: "OTP sent"})
}

func (h *UsersHandler) verifyPhoneAndRegister(w http.ResponseWriter, r *http.Request) {
	var in domain.VerifyPhoneRegisterRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.FromError(w, r, err)
		return
	}

	u, err := h.Accounts.VerifyPhoneAndRegister(r.Context(), &in)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, userResponse{Message: "User registered successfully.", User: u})
}

func (h *UsersHandler) sendEmailOTP(w http.ResponseWriter, r *http.Request) {
	var in domain.EmailOTPRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.FromError(w, r, err)
		return
	}

	if err := h.Accounts.RequestEmailOTP(r.Context(), &in); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, messageResponse{Message: "OTP sent"})
}

func (h *UsersHandler) verifyEmailOTP(w http.ResponseWriter, r *http.Request) {
	var in domain.VerifyEmailOTPRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.FromError(w, r, err)
		return
	}

	if err := h.Accounts.VerifyEmailOTP(r.Context(), &in); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, messageResponse{Message: "OTP verified successfully!"})
}

func (h *UsersHandler) registerWithVerifiedEmail(w http.ResponseWriter, r *http.Request) {
	var in domain.RegisterRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.FromError(w, r, err)
		return
	}

	u, err := h.Accounts.RegisterWithVerifiedEmail(r.Context(), &in)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, userResponse{User: u})
}

func (h *UsersHandler) login(w http.ResponseWriter, r *http.Request) {
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

func (h *UsersHandler) update(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFrom(r.Context())

	var in domain.UpdateProfileRequest
	if err := decodeJSON(w, r, &in); err != nil {
		response.FromError(w, r, err)
		return
	}

	u, err := h.Accounts.UpdateProfile(r.Context(), p.IdentityID, &in)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, userResponse{User: u})
}

func (h *UsersHandler) delete(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFrom(r.Context())

	if err := h.Accounts.DeleteIdentity(r.Context(), p.IdentityID); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, messageResponse{Message: "User deleted successfully"})
}

func (h *UsersHandler) me(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFrom(r.Context())

	u, err := h.Accounts.GetIdentity(r.Context(), p.IdentityID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, userResponse{User: u})
}
