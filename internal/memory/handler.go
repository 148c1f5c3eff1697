package memory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/PQContinuum/PQ-Frontend-sub000/internal/api"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/auth"
	"github.com/PQContinuum/PQ-Frontend-sub000/internal/plans"
)

const (
	defaultTurnsLimit = 20
	maxRequestBody    = 1 << 20
)

// TurnStore reads and writes conversation turns.
type TurnStore interface {
	TurnSource
	AppendTurn(ctx context.Context, userID, conversationID string, turn Turn) error
}

// Handler handles memory HTTP endpoints.
type Handler struct {
	svc        *Service
	plans      plans.Resolver
	turns      TurnStore
	dispatcher Dispatcher
	validate   *validator.Validate
}

// NewHandler creates a new memory handler.
func NewHandler(svc *Service, resolver plans.Resolver, turns TurnStore, dispatcher Dispatcher) *Handler {
	return &Handler{
		svc:        svc,
		plans:      resolver,
		turns:      turns,
		dispatcher: dispatcher,
		validate:   validator.New(),
	}
}

func (h *Handler) resolvePlan(r *http.Request, userID string) plans.Plan {
	plan, err := h.plans.Resolve(r.Context(), userID)
	if err != nil {
		slog.Warn("memory: resolving plan failed, using free limits", "error", err, "user_id", userID)
	}
	return plan
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return false
	}
	return true
}

// Context returns the context block the chat backend prepends to its system prompt.
func (h *Handler) Context(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	opts := PromptOptions{CurrentMessage: r.URL.Query().Get("message")}
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		opts.ForceLevel = plans.ContextLevel(lvl)
		if !opts.ForceLevel.Valid() {
			api.HandleError(w, api.NewBadRequestError("level must be minimal, standard or full"))
			return
		}
	}

	plan := h.resolvePlan(r, userID)
	out := h.svc.GetContextForPrompt(r.Context(), userID, plan, opts)
	api.JSON(w, http.StatusOK, ContextResponse{Context: out, Plan: string(plan)})
}

// Extract queues fact extraction for a conversation.
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req ExtractRequest
	if !h.decode(w, r, &req) {
		return
	}

	job := ExtractionJob{
		UserID:         userID,
		Plan:           h.resolvePlan(r, userID),
		ConversationID: req.ConversationID,
		Turns:          req.Turns,
		Force:          req.Force,
	}
	requestID := uuid.NewString()
	if err := h.dispatcher.Dispatch(r.Context(), requestID, job); err != nil {
		slog.Error("queueing extraction", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrUnavailable)
		return
	}

	api.JSON(w, http.StatusAccepted, map[string]string{"status": "queued", "request_id": requestID})
}

// ListFacts returns the caller's facts, most recently mentioned first.
func (h *Handler) ListFacts(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	category := Category(r.URL.Query().Get("category"))
	if category != "" && !category.Valid() {
		api.HandleError(w, api.NewBadRequestError("unknown category"))
		return
	}

	facts, err := h.svc.ListFacts(r.Context(), userID, category)
	if err != nil {
		slog.Error("listing facts", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if facts == nil {
		facts = []Fact{}
	}

	api.JSON(w, http.StatusOK, facts)
}

func (h *Handler) DeleteFact(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "factID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid fact id"))
		return
	}

	if err := h.svc.DeleteFact(r.Context(), userID, id); err != nil {
		if errors.Is(err, ErrFactNotFound) {
			api.HandleError(w, api.NewNotFoundError("fact not found"))
			return
		}
		slog.Error("deleting fact", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "fact deleted")
}

func (h *Handler) DeleteAllFacts(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	n, err := h.svc.DeleteAllFacts(r.Context(), userID)
	if err != nil {
		slog.Error("deleting all facts", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// InvalidateCache drops the caller's cached context on every instance.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.svc.Invalidate(r.Context(), auth.UserID(r.Context()))
	api.JSONMessage(w, http.StatusOK, "cache invalidated")
}

func (h *Handler) AppendTurn(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	conversationID := chi.URLParam(r, "conversationID")

	var req AppendTurnRequest
	if !h.decode(w, r, &req) {
		return
	}

	turn := Turn{Role: req.Role, Content: req.Content}
	if err := h.turns.AppendTurn(r.Context(), userID, conversationID, turn); err != nil {
		slog.Error("appending turn", "error", err, "user_id", userID, "conversation_id", conversationID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusCreated, "turn stored")
}

func (h *Handler) ListTurns(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	conversationID := chi.URLParam(r, "conversationID")

	limit := defaultTurnsLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}

	turns, err := h.turns.RecentTurns(r.Context(), userID, conversationID, limit)
	if err != nil {
		slog.Error("listing turns", "error", err, "user_id", userID, "conversation_id", conversationID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, turns)
}
