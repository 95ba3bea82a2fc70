package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/missionctl/mission-control/internal/pushnotification"
	"github.com/missionctl/mission-control/pkg/cerr"
)

func (s *Server) handleVAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.env.VAPIDEnv.PublicKey == "" {
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "push notifications are not configured", nil)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]string{"public_key": s.env.VAPIDEnv.PublicKey})
}

type saveSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s *Server) handleSaveSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFromContext(ctx)

	var req saveSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint and keys are required", nil)
		return
	}

	sub := &pushnotification.Subscription{
		ID:       uuid.NewString(),
		UserID:   owner.ID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}
	if err := s.subs.Save(ctx, sub); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, sub)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "subscriptionID")
	if id == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "subscription id required", nil)
		return
	}
	if err := s.subs.Delete(ctx, id); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]bool{"success": true})
}
