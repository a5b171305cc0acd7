package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/toolgate/internal/api/v1"
	"github.com/gosuda/toolgate/internal/api/ws"
	"github.com/gosuda/toolgate/internal/config"
	"github.com/gosuda/toolgate/internal/gateway"
	"github.com/gosuda/toolgate/internal/server/middleware"
	"github.com/gosuda/toolgate/internal/store/postgres"
)

func registerRoutes(ctx context.Context, router chi.Router, cfg *config.Config, store *postgres.Store, hub *ws.Hub, svc *gateway.Service) {
	// Authenticated API routes. Role checks happen per operation:
	// agents submit, approvers claim and resolve.
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth.JWTSecret))
		r.Use(middleware.RateLimit(ctx, cfg.Gateway.ActionRatePerSec, cfg.Gateway.ActionRateBurst))

		apiConfig := huma.DefaultConfig("Toolgate API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		v1.RegisterApprovalRoutes(api, svc)
		v1.RegisterExecutionRoutes(api, svc)
		v1.RegisterAuditRoutes(api, svc)
	})

	// WebSocket routes for live approval events.
	router.Route("/ws", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth.JWTSecret))
		r.Get("/approvals", hub.ServeFirehose)
		r.Get("/approvals/{threadID}", hub.ServeThread)
	})

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(pingCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded","detail":"database unreachable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
