package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-pay/client/internal/guard"
	"github.com/zhouzirui/z-pay/client/internal/handler/auth"
	"github.com/zhouzirui/z-pay/client/internal/handler/checkout"
	"github.com/zhouzirui/z-pay/client/internal/handler/dashboard"
	"github.com/zhouzirui/z-pay/client/internal/handler/web"
	zpmw "github.com/zhouzirui/z-pay/client/internal/middleware"
	"github.com/zhouzirui/z-pay/client/pkg/utils"
)

// Deps are the long-lived objects the portal routes share. Main builds
// each of them exactly once.
type Deps struct {
	Sessions guard.SessionView
	Auth     auth.Service
	Account  dashboard.Account
	Payments checkout.Payments
	Pages    *web.Responder
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter wires the portal pages behind their route guards.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(zpmw.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		err := utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"hydrated": d.Sessions.Snapshot().IsHydrated,
		})
		if err != nil {
			logger.Warn("health response not written", zap.Error(err))
		}
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	authHandler := auth.New(d.Auth, d.Pages)
	dashboardHandler := dashboard.New(d.Account, d.Pages)
	checkoutHandler := checkout.New(d.Payments, d.Pages, logger)

	r.Group(func(r chi.Router) {
		r.Use(d.Pages.FollowPending)

		// Landing and sign-in pages are for visitors without a session.
		r.Group(func(r chi.Router) {
			r.Use(guard.Middleware(guard.RequireAnonymous, d.Sessions, nil))
			authHandler.RegisterRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(guard.Middleware(guard.RequireAuth, d.Sessions, nil))
			dashboardHandler.RegisterRoutes(r)
		})

		r.Post("/auth/logout", authHandler.HandleLogout)
		checkoutHandler.RegisterRoutes(r)
	})

	return r
}
