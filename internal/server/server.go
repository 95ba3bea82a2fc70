// Package server exposes the HTTP surface: task lifecycle routes, OpenClaw
// configuration routes, the completion webhook, and push subscriptions.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/missionctl/mission-control/internal/config"
	"github.com/missionctl/mission-control/internal/dispatch"
	"github.com/missionctl/mission-control/internal/eventbus"
	"github.com/missionctl/mission-control/internal/openclaw"
	"github.com/missionctl/mission-control/internal/pushnotification"
	"github.com/missionctl/mission-control/internal/reconcile"
	"github.com/missionctl/mission-control/internal/task"
	"github.com/missionctl/mission-control/internal/user"
	"github.com/missionctl/mission-control/pkg/cerr"
	"github.com/missionctl/mission-control/pkg/clog"
)

type Server struct {
	server *http.Server
	env    *config.Env

	tasks      task.Store
	users      user.Store
	subs       pushnotification.SubscriptionStore
	client     *openclaw.Client
	dispatcher *dispatch.Engine
	reconciler *reconcile.Engine
	bus        *eventbus.Bus
}

func NewServer(
	env *config.Env,
	tasks task.Store,
	users user.Store,
	subs pushnotification.SubscriptionStore,
	client *openclaw.Client,
	dispatcher *dispatch.Engine,
	reconciler *reconcile.Engine,
	bus *eventbus.Bus,
) *Server {
	return &Server{
		env:        env,
		tasks:      tasks,
		users:      users,
		subs:       subs,
		client:     client,
		dispatcher: dispatcher,
		reconciler: reconciler,
		bus:        bus,
	}
}

// ListenAndServe starts the HTTP server. The provided context is used as the
// base context for all incoming requests via http.Server.BaseContext, so
// cancelling it on shutdown also cancels in-flight request contexts.
func (s *Server) ListenAndServe(ctx context.Context) error {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewJSONResponseChiMiddleware(),
		)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})

		// OpenClaw calls the webhook; it carries no user credentials.
		r.Post("/openclaw/webhook", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", s.handleListTasks)
				r.Post("/", s.handleCreateTask)
				r.Get("/{taskID}", s.handleGetTask)
				r.Put("/{taskID}", s.handleUpdateTask)
				r.Delete("/{taskID}", s.handleDeleteTask)
				r.Put("/{taskID}/status", s.handleUpdateTaskStatus)
			})

			r.Route("/openclaw", func(r chi.Router) {
				r.Get("/config", s.handleGetConfig)
				r.Post("/config", s.handleSaveConfig)
				r.Delete("/config", s.handleRemoveConfig)
				r.Post("/test", s.handleTestConnection)
				r.Get("/status", s.handleStatus)
				r.Get("/webhook-url", s.handleWebhookURL)
			})

			r.Route("/push", func(r chi.Router) {
				r.Get("/vapid-public-key", s.handleVAPIDPublicKey)
				r.Post("/subscriptions", s.handleSaveSubscription)
				r.Delete("/subscriptions/{subscriptionID}", s.handleDeleteSubscription)
			})
		})
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/api/", r)

	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr: addr,
		Handler: h2c.NewHandler(cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}).Handler(mux), &http2.Server{}),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
