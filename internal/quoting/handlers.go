package quoting

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/equiplease/quote-api/internal/common"
	"github.com/equiplease/quote-api/internal/quote"
	"github.com/equiplease/quote-api/internal/save"
	"github.com/equiplease/quote-api/internal/store"
)

// Handler exposes the quoting service over HTTP. Slot and terms edits go
// through the caller's save session so persistence stays debounced; lifecycle
// commands write through immediately.
type Handler struct {
	Svc      *Service
	Sessions *save.Manager
	Logger   zerolog.Logger
}

// Routes mounts all quote endpoints on r. The router is expected to already
// enforce authentication.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/quotes", h.Create)
	r.Get("/quotes", h.List)
	r.Route("/quotes/{quoteID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/", h.UpdateTerms)
		r.Put("/slots/{index}", h.UpdateSlot)
		r.Delete("/slots/{index}", h.ClearSlot)
		r.Post("/lock", h.AcquireLock)
		r.Delete("/lock", h.ReleaseLock)
		r.Post("/save", h.Save)
		r.Post("/reload", h.Reload)
		r.Post("/submit", h.Submit)
		r.Post("/approve", h.Approve)
		r.Post("/reject", h.Reject)
		r.Post("/reopen", h.Reopen)
		r.Post("/close", h.Close)
		r.Get("/shipping/suggestion", h.SuggestShipping)
		r.Post("/shipping/apply", h.ApplyShipping)
	})
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := common.UserID(r.Context())
	if !ok || id == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return "", false
	}
	return id, true
}

func quoteID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "quoteID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid quote id", nil)
		return uuid.Nil, false
	}
	return id, true
}

// activeQuote returns the session's aggregate for id, loading and activating
// it when the session points elsewhere.
func (h *Handler) activeQuote(r *http.Request, sess *save.Session, id uuid.UUID) (*quote.Quote, error) {
	if q := sess.Active(); q != nil && q.ID == id {
		return q, nil
	}
	q, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	sess.Activate(q)
	return q, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "quote not found", nil)
	case errors.Is(err, ErrLockHeld), errors.Is(err, store.ErrLockConflict):
		common.JSONError(w, http.StatusConflict, "LOCKED", "quote is locked by another user", nil)
	case errors.Is(err, store.ErrVersionConflict):
		common.JSONError(w, http.StatusConflict, "VERSION_CONFLICT", "quote was changed elsewhere; reload the latest revision", nil)
	case errors.Is(err, ErrNotEditable):
		common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "quote is not editable by this user", nil)
	case errors.Is(err, ErrBadTransition):
		common.JSONError(w, http.StatusConflict, "INVALID_STATUS", "status transition not allowed", nil)
	case errors.Is(err, ErrSlotIndex):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "slot index out of range", nil)
	case errors.Is(err, ErrConfirmRequired):
		common.JSONError(w, http.StatusConflict, "CONFIRM_REQUIRED", "existing shipping entries would be replaced; confirm to proceed", nil)
	case errors.Is(err, save.ErrSaveInFlight):
		common.JSONError(w, http.StatusConflict, "SAVE_IN_FLIGHT", "a save is already running; retry shortly", nil)
	case errors.As(err, &verr):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "quote failed validation", verr.Issues)
	default:
		h.Logger.Error().Err(err).Msg("quote handler failure")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func (h *Handler) respondQuote(w http.ResponseWriter, status int, q *quote.Quote) {
	common.JSON(w, status, map[string]any{"data": map[string]any{
		"quote":   q,
		"derived": h.Svc.Derive(q),
	}})
}

// Create opens a new draft quote for the caller.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Customer string `json:"customer"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil && !errors.Is(err, io.EOF) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	q, err := h.Svc.Create(r.Context(), userID, payload.Customer)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.Sessions.SessionFor(userID).Activate(q)
	h.respondQuote(w, http.StatusCreated, q)
}

// List returns quotes matching the query filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.userID(w, r); !ok {
		return
	}
	f := store.Filter{
		Status:  quote.Status(r.URL.Query().Get("status")),
		OwnerID: r.URL.Query().Get("owner"),
		Limit:   int32(common.AtoiDefault(r.URL.Query().Get("limit"), 50)),
		Offset:  int32(common.AtoiDefault(r.URL.Query().Get("offset"), 0)),
	}
	if f.Status != "" && !f.Status.Valid() {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown status filter", nil)
		return
	}
	quotes, err := h.Svc.List(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quotes})
}

// Get returns the quote with its derived pricing read model. When the caller
// has the quote open in their session the in-memory (possibly unsaved) state
// is returned so edits are visible before persistence.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := quoteID(w, r)
	if !ok {
		return
	}
	sess := h.Sessions.SessionFor(userID)
	if q := sess.Active(); q != nil && q.ID == id {
		h.respondQuote(w, http.StatusOK, q)
		return
	}
	q, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respondQuote(w, http.StatusOK, q)
}

// UpdateSlot replaces one fleet slot and schedules a debounced save.
func (h *Handler) UpdateSlot(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := quoteID(w, r)
	if !ok {
		return
	}
	index := common.AtoiDefault(chi.URLParam(r, "index"), -1)
	var slot quote.Slot
	if err := common.DecodeJSON(r, &slot); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid slot payload", nil)
		return
	}
	sess := h.Sessions.SessionFor(userID)
	q, err := h.activeQuote(r, sess, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Svc.UpdateSlot(q, userID, index, slot); err != nil {
		h.writeError(w, err)
		return
	}
	sess.Touch()
	h.respondQuote(w, http.StatusOK, q)
}

// ClearSlot resets one fleet position to empty.
func (h *Handler) ClearSlot(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := quoteID(w, r)
	if !ok {
		return
	}
	index := common.AtoiDefault(chi.URLParam(r, "index"), -1)
	sess := h.Sessions.SessionFor(userID)
	q, err := h.activeQuote(r, sess, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Svc.ClearSlot(q, userID, index); err != nil {
		h.writeError(w, err)
		return
	}
	sess.Touch()
	h.respondQuote(w, http.StatusOK, q)
}

// UpdateTerms patches quote-level parameters.
func (h *Handler) UpdateTerms(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := quoteID(w, r)
	if !ok {
		return
	}
	var patch TermsPatch
	if err := common.DecodeJSON(r, &patch); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	sess := h.Sessions.SessionFor(userID)
	q, err := h.activeQuote(r, sess, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Svc.UpdateTerms(q, userID, patch); err != nil {
		h.writeError(w, err)
		return
	}
	sess.Touch()
	h.respondQuote(w, http.StatusOK, q)
}

// AcquireLock takes the single-writer edit lock.
func (h *Handler) AcquireLock(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(userID string, id uuid.UUID) (*quote.Quote, error) {
		return h.Svc.AcquireLock(r.Context(), id, userID)
	})
}

// ReleaseLock gives the edit lock back.
func (h *Handler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(userID string, id uuid.UUID) (*quote.Quote, error) {
		return h.Svc.ReleaseLock(r.Context(), id, userID)
	})
}

// Save flushes the caller's pending edits immediately.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := quoteID(w, r)
	if !ok {
		return
	}
	sess := h.Sessions.SessionFor(userID)
	q := sess.Active()
	if q == nil || q.ID != id {
		common.JSONError(w, http.StatusConflict, "NOT_ACTIVE", "quote is not open in this session", nil)
		return
	}
	if err := sess.Flush(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.respondQuote(w, http.StatusOK, sess.Active())
}

// Reload discards the session's unsaved edits and re-baselines on the latest
// persisted record. This is the recovery path after a version conflict.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := quoteID(w, r)
	if !ok {
		return
	}
	latest, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.Sessions.SessionFor(userID).Replace(latest)
	h.respondQuote(w, http.StatusOK, latest)
}

// Submit moves the quote into review.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := quoteID(w, r)
	if !ok {
		return
	}
	var payload struct {
		ApproverID string `json:"approverId"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil && !errors.Is(err, io.EOF) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	h.withSessionSync(r, userID, id, w, func() (*quote.Quote, error) {
		return h.Svc.Submit(r.Context(), id, userID, payload.ApproverID)
	})
}

// Approve marks a quote in review as approved.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(userID string, id uuid.UUID) (*quote.Quote, error) {
		return h.Svc.Approve(r.Context(), id, userID)
	})
}

// Reject marks a quote in review as rejected.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(userID string, id uuid.UUID) (*quote.Quote, error) {
		return h.Svc.Reject(r.Context(), id, userID)
	})
}

// Reopen turns an approved or rejected quote into a change request.
func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(userID string, id uuid.UUID) (*quote.Quote, error) {
		return h.Svc.Reopen(r.Context(), id, userID)
	})
}

// Close ends the quote's lifecycle.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(userID string, id uuid.UUID) (*quote.Quote, error) {
		return h.Svc.Close(r.Context(), id, userID)
	})
}

// SuggestShipping previews container suggestions without mutating the quote.
func (h *Handler) SuggestShipping(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := quoteID(w, r)
	if !ok {
		return
	}
	sess := h.Sessions.SessionFor(userID)
	q, err := h.activeQuote(r, sess, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	entries, err := h.Svc.SuggestShipping(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": entries})
}

// ApplyShipping replaces the suggested shipping entries on the quote.
func (h *Handler) ApplyShipping(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := quoteID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Confirm bool `json:"confirm"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil && !errors.Is(err, io.EOF) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	sess := h.Sessions.SessionFor(userID)
	q, err := h.activeQuote(r, sess, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Svc.ApplyShipping(r.Context(), q, userID, payload.Confirm); err != nil {
		h.writeError(w, err)
		return
	}
	sess.Touch()
	h.respondQuote(w, http.StatusOK, q)
}

// lifecycle runs a load-mutate-persist command and syncs the caller's session
// with the result.
func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, run func(userID string, id uuid.UUID) (*quote.Quote, error)) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := quoteID(w, r)
	if !ok {
		return
	}
	h.withSessionSync(r, userID, id, w, func() (*quote.Quote, error) {
		return run(userID, id)
	})
}

// withSessionSync executes a write-through command. Pending debounced edits on
// the caller's session are flushed first so the command loads what the user
// sees, not a stale store copy; a flush conflict aborts the command and is
// surfaced instead of losing the edits. On success the session's copy is
// replaced by the persisted record so in-memory and stored state agree.
func (h *Handler) withSessionSync(r *http.Request, userID string, id uuid.UUID, w http.ResponseWriter, run func() (*quote.Quote, error)) {
	sess := h.Sessions.SessionFor(userID)
	if active := sess.Active(); active != nil && active.ID == id && sess.HasUnsaved() {
		if err := sess.Flush(r.Context()); err != nil {
			h.writeError(w, err)
			return
		}
	}
	q, err := run()
	if err != nil {
		h.writeError(w, err)
		return
	}
	if active := sess.Active(); active != nil && active.ID == id {
		sess.Replace(q)
	}
	h.respondQuote(w, http.StatusOK, q)
}
