package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/city"
	"github.com/nidhogg/agora/internal/conversation"
	"github.com/nidhogg/agora/internal/engine"
	"github.com/nidhogg/agora/internal/gateway"
	"github.com/nidhogg/agora/internal/quota"
	"github.com/nidhogg/agora/internal/registry"
)

// RosterSaver persists registered agents across restarts.
type RosterSaver interface {
	SaveAgent(ctx context.Context, a *registry.Agent) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine    *engine.Engine
	reg       *registry.Registry
	convs     *conversation.Store
	quota     *quota.Tracker
	districts *city.Directory
	history   *gateway.MemorySink
	roster    RosterSaver
	logger    *zap.Logger
}

// NewHandler creates a new API handler. The history sink may be nil.
func NewHandler(
	eng *engine.Engine,
	reg *registry.Registry,
	convs *conversation.Store,
	tracker *quota.Tracker,
	districts *city.Directory,
	history *gateway.MemorySink,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		engine:    eng,
		reg:       reg,
		convs:     convs,
		quota:     tracker,
		districts: districts,
		history:   history,
		logger:    logger,
	}
}

// SetRoster wires durable agent storage. Optional; registration works
// without it, the roster just does not survive a restart.
func (h *Handler) SetRoster(r RosterSaver) {
	h.roster = r
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/agents", h.listAgents)
		r.Post("/agents", h.createAgent)
		r.Get("/agents/{id}", h.getAgent)
		r.Post("/agents/{id}/routine", h.setRoutine)
		r.Post("/agents/{id}/friends", h.addFriend)
		r.Get("/agents/{id}/quota", h.agentQuota)

		r.Get("/conversations", h.listConversations)
		r.Post("/conversations", h.startConversation)
		r.Get("/conversations/{id}", h.getConversation)
		r.Post("/conversations/{id}/messages", h.postMessage)
		r.Post("/conversations/{id}/turn", h.runTurn)
		r.Delete("/conversations/{id}", h.endConversation)
		r.Get("/conversations/{id}/metrics", h.getMetrics)

		r.Get("/districts", h.listDistricts)
		r.Get("/events", h.recentEvents)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "city": "agora"})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reg.List())
}

func (h *Handler) createAgent(w http.ResponseWriter, r *http.Request) {
	var a registry.Agent
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if a.ID == "" || a.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id and name are required"})
		return
	}
	if err := h.reg.Register(&a); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if h.roster != nil {
		// Best-effort: the in-memory registry stays authoritative.
		if err := h.roster.SaveAgent(r.Context(), &a); err != nil {
			h.logger.Warn("agent persist failed",
				zap.String("agent", a.ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.reg.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type routineRequest struct {
	Slots []registry.RoutineSlot `json:"slots"`
}

func (h *Handler) setRoutine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req routineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.reg.SetRoutine(id, req.Slots); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "routine set"})
}

type friendRequest struct {
	FriendID string `json:"friend_id"`
}

func (h *Handler) addFriend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req friendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.FriendID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "friend_id is required"})
		return
	}
	if err := h.reg.AddFriend(id, req.FriendID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "friends"})
}

func (h *Handler) agentQuota(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.reg.Get(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	convID, busy := h.quota.Busy(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent_id":     id,
		"can_start":    h.quota.CanStart(id),
		"busy":         busy,
		"conversation": convID,
	})
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("status") {
	case "ended":
		writeJSON(w, http.StatusOK, h.convs.ListEnded())
	default:
		writeJSON(w, http.StatusOK, h.convs.ListActive())
	}
}

type startConversationRequest struct {
	Participants []string `json:"participants"`
	Topic        string   `json:"topic"`
	Location     string   `json:"location"`
	Activity     string   `json:"activity"`
}

func (h *Handler) startConversation(w http.ResponseWriter, r *http.Request) {
	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(req.Participants) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "participants are required"})
		return
	}

	rec, err := h.engine.StartConversation(r.Context(), req.Participants, req.Topic, req.Location, req.Activity)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, registry.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, quota.ErrParticipantsBusy), errors.Is(err, quota.ErrBudgetExhausted):
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.convs.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type postMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}

	if err := h.engine.PostUserMessage(r.Context(), id, req.Content); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, conversation.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, conversation.ErrEnded):
			status = http.StatusGone
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	// A user message invites a reply in the same request.
	if err := h.engine.RunTurn(r.Context(), id); err != nil && !errors.Is(err, conversation.ErrEnded) {
		h.logger.Warn("reply turn failed", zap.String("conversation", id), zap.Error(err))
	}

	rec, err := h.convs.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) runTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.RunTurn(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, conversation.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, conversation.ErrEnded):
			status = http.StatusGone
		case errors.Is(err, engine.ErrGenerationFailed):
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	rec, err := h.convs.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) endConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.Terminate(r.Context(), id, conversation.EndAmicableTaper); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, conversation.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (h *Handler) getMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.convs.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec.Metrics)
}

func (h *Handler) listDistricts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.districts.Districts())
}

func (h *Handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event history not enabled"})
		return
	}
	writeJSON(w, http.StatusOK, h.history.History(100))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
