package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/diagnosis/userhub/internal/http/middleware"
	"github.com/diagnosis/userhub/internal/http/response"
	"github.com/diagnosis/userhub/internal/service"
	mw "github.com/diagnosis/userhub/pkg/middleware"
)

type RouterConfig struct {
	Accounts         service.AccountService
	Tokens           middleware.TokenVerifier
	OTPLimiter       func(http.Handler) http.Handler // code sends; nil means unlimited
	OTPVerifyLimiter func(http.Handler) http.Handler // code checks; nil means unlimited
	ServiceName      string
	AllowedOrigins   []string
	HealthChecks     map[string]mw.HealthCheck
}

func passThrough(next http.Handler) http.Handler { return next }

func NewRouter(cfg RouterConfig) http.Handler {
	sendLimit := cfg.OTPLimiter
	if sendLimit == nil {
		sendLimit = passThrough
	}
	verifyLimit := cfg.OTPVerifyLimiter
	if verifyLimit == nil {
		verifyLimit = passThrough
	}
	authn := middleware.Authenticate(cfg.Tokens)

	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.ServiceName(cfg.ServiceName))
	r.Use(mw.Logging)
	r.Use(chimw.Recoverer)
	r.Use(mw.CORS(cfg.AllowedOrigins))
	r.Use(mw.Health(cfg.HealthChecks))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.WriteError(w, http.StatusNotFound, "route not found", response.CodeNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", response.CodeInvalidInput)
	})

	r.Mount("/api/users", NewUsersHandler(cfg.Accounts).Routes(authn, sendLimit, verifyLimit))
	r.Mount("/api/admin", NewAdminHandler(cfg.Accounts).Routes(authn))

	return r
}
