// Package api exposes subscription management over HTTP: the public
// unsubscribe/resubscribe links embedded in campaign emails plus a small
// operator surface for creating subscriptions and backfilling mailings.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/drip-engine/internal/drip"
	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// Handlers holds the HTTP handlers over the drip engine.
type Handlers struct {
	engine *drip.Engine
}

// NewHandlers creates the handler set.
func NewHandlers(engine *drip.Engine) *Handlers {
	return &Handlers{engine: engine}
}

// HealthCheck reports process liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type subscribeRequest struct {
	Subscriber drip.EntityRef  `json:"subscriber"`
	User       *drip.EntityRef `json:"user,omitempty"`
}

// CreateSubscription subscribes an entity to the campaign in the URL.
// Subscribing an already-active subscriber returns the existing
// subscription unchanged.
func (h *Handlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Subscriber.Type == "" || req.Subscriber.ID == "" {
		respondError(w, http.StatusBadRequest, "subscriber type and id are required")
		return
	}

	sub, err := h.engine.Subscribe(r.Context(), slug, req.Subscriber, req.User)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, subscriptionView(sub))
}

// GetSubscription shows the subscription identified by its token.
func (h *Handlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, subscriptionView(sub))
}

// ListMailings returns the mailing timeline for a subscription.
func (h *Handlers) ListMailings(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.lookup(w, r)
	if !ok {
		return
	}
	mailings, err := h.engine.Store().MailingsForSubscription(r.Context(), sub.ID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	views := make([]map[string]interface{}, 0, len(mailings))
	for _, m := range mailings {
		views = append(views, mailingView(m))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token":    sub.Token,
		"mailings": views,
	})
}

// Unsubscribe opts the subscription out. It serves both the GET link from
// an email footer and a POST from an API client, and is idempotent so a
// twice-clicked link still lands on the confirmation.
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.lookup(w, r)
	if !ok {
		return
	}
	reason := r.URL.Query().Get("reason")
	if _, err := h.engine.TryUnsubscribe(r.Context(), sub, reason); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, subscriptionView(sub))
}

// Resubscribe re-activates an unsubscribed or ended subscription. The
// email link is an explicit opt back in, so the forced variant is used.
func (h *Handlers) Resubscribe(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if sub.Subscribed() {
		respondJSON(w, http.StatusOK, subscriptionView(sub))
		return
	}
	if err := h.engine.Resubscribe(r.Context(), sub, true); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, subscriptionView(sub))
}

// Refuel backfills mailings added to the campaign after this subscription
// was created. The offset query parameter selects how send times are
// anchored: "created_at" (default) or "current".
func (h *Handlers) Refuel(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.lookup(w, r)
	if !ok {
		return
	}
	offset := drip.OffsetCreatedAt
	if r.URL.Query().Get("offset") == "current" {
		offset = drip.OffsetCurrent
	}
	created, err := h.engine.Refuel(r.Context(), sub, offset)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	views := make([]map[string]interface{}, 0, len(created))
	for _, m := range created {
		views = append(views, mailingView(m))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token":   sub.Token,
		"created": views,
	})
}

// DeleteSubscription removes the subscription and its mailings.
func (h *Handlers) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.engine.Destroy(r.Context(), sub); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*drip.Subscription, bool) {
	token := chi.URLParam(r, "token")
	sub, err := h.engine.SubscriptionByToken(r.Context(), token)
	if err != nil {
		respondEngineError(w, err)
		return nil, false
	}
	return sub, true
}

// Views

func subscriptionView(s *drip.Subscription) map[string]interface{} {
	state := "subscribed"
	switch {
	case s.Ended():
		state = "ended"
	case s.Unsubscribed():
		state = "unsubscribed"
	}
	v := map[string]interface{}{
		"token":      s.Token,
		"campaign":   s.CampaignSlug,
		"subscriber": s.Subscriber,
		"state":      state,
		"created_at": s.CreatedAt,
	}
	if s.User != nil {
		v["user"] = *s.User
	}
	if s.EndedAt != nil {
		v["ended_at"] = *s.EndedAt
		v["ended_reason"] = s.EndedReason
	}
	if s.UnsubscribedAt != nil {
		v["unsubscribed_at"] = *s.UnsubscribedAt
		v["unsubscribe_reason"] = s.UnsubscribeReason
	}
	if s.ResubscribedAt != nil {
		v["resubscribed_at"] = *s.ResubscribedAt
	}
	return v
}

func mailingView(m *drip.Mailing) map[string]interface{} {
	state := "pending"
	switch {
	case m.Sent():
		state = "sent"
	case m.Skipped():
		state = "skipped"
	}
	v := map[string]interface{}{
		"id":      m.ID,
		"mailer":  m.Mailer,
		"action":  m.Action,
		"step":    m.Step,
		"send_at": m.SendAt,
		"state":   state,
	}
	if m.SentAt != nil {
		v["sent_at"] = *m.SentAt
	}
	if m.SkippedAt != nil {
		v["skipped_at"] = *m.SkippedAt
	}
	return v
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case drip.IsNotFound(err):
		respondError(w, http.StatusNotFound, err.Error())
	case drip.IsInvalidState(err):
		respondError(w, http.StatusConflict, err.Error())
	default:
		var verr *drip.ValidationError
		var cerr *drip.ConfigurationError
		if errors.As(err, &verr) || errors.As(err, &cerr) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		logger.Error("request failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
