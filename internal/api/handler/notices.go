package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opencirc/noticesvc/internal/api/respond"
	"github.com/opencirc/noticesvc/internal/notices"
)

// ProcessSweep runs one sweep of the flavor named in the route. The optional
// `at` query parameter (RFC 3339) runs the sweep at a simulated instant,
// which makes scheduling behavior testable without touching the clock.
// @Summary Run a scheduled notice sweep
// @Tags scheduled-notices
// @Param flavor path string true "Sweep flavor"
// @Param at query string false "Simulated sweep time (RFC 3339)"
// @Produce json
// @Success 200 {object} notices.SweepResult
// @Failure 400 {object} respond.ErrorResponse
// @Router /scheduled-notices/{flavor}/process [post]
func (h *Handler) ProcessSweep(w http.ResponseWriter, r *http.Request) {
	flavor, err := notices.FlavorByName(chi.URLParam(r, "flavor"))
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, "UNKNOWN_FLAVOR", err.Error())
		return
	}

	now := time.Now()
	if at := r.URL.Query().Get("at"); at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			respond.WriteError(w, http.StatusBadRequest, "BAD_TIME", "at must be RFC 3339")
			return
		}
		now = parsed
	}

	result := h.processor.Run(r.Context(), flavor, now)
	respond.WriteJSONObject(w, http.StatusOK, result)
}

// ListNotices returns pending notices ordered by next run time.
// @Summary List pending scheduled notices
// @Tags scheduled-notices
// @Param limit query int false "Maximum rows (default 100)"
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /scheduled-notices [get]
func (h *Handler) ListNotices(w http.ResponseWriter, r *http.Request) {
	limit := notices.DefaultNoticesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	list, err := h.repo.List(r.Context(), limit)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"scheduledNotices": list,
		"totalReturned":    len(list),
	})
}

// --------------------------------------------------------------------------
// Lifecycle event intake
// --------------------------------------------------------------------------

type anchorEstablishedRequest struct {
	Owner   notices.OwnerRef        `json:"owner"`
	Event   notices.TriggeringEvent `json:"triggeringEvent"`
	Anchor  time.Time               `json:"anchor"`
	Configs []notices.Config        `json:"configs"`
}

// AnchorEstablished schedules notices for a newly established anchor
// (checkout, fee/fine charge, request creation). Scheduling failures are
// logged but the response is still accepted: the triggering business
// operation must never fail because of this engine.
// @Summary Schedule notices for an established anchor
// @Tags notice-lifecycle
// @Accept json
// @Success 202
// @Failure 400 {object} respond.ErrorResponse
// @Router /notice-lifecycle/anchor-established [post]
func (h *Handler) AnchorEstablished(w http.ResponseWriter, r *http.Request) {
	var req anchorEstablishedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
		return
	}
	if req.Event == "" || req.Anchor.IsZero() {
		respond.WriteError(w, http.StatusBadRequest, "BAD_BODY", "triggeringEvent and anchor are required")
		return
	}
	if err := req.Owner.Validate(); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "BAD_OWNER", err.Error())
		return
	}

	if err := h.scheduler.OnAnchorEstablished(r.Context(), req.Owner, req.Event, req.Anchor, req.Configs); err != nil {
		h.logger.Error("anchor-established scheduling incomplete",
			"owner", req.Owner.String(), "error", err)
	}
	w.WriteHeader(http.StatusAccepted)
}

type anchorChangedRequest struct {
	Owner   notices.OwnerRef          `json:"owner"`
	Events  []notices.TriggeringEvent `json:"triggeringEvents"`
	Anchor  time.Time                 `json:"anchor"`
	Configs []notices.Config          `json:"configs"`
}

// AnchorChanged replaces an owner's notices after its anchor moved
// (renewal, recall, due date edit, request expiration edit).
// @Summary Replace notices after an anchor change
// @Tags notice-lifecycle
// @Accept json
// @Success 202
// @Failure 400 {object} respond.ErrorResponse
// @Router /notice-lifecycle/anchor-changed [post]
func (h *Handler) AnchorChanged(w http.ResponseWriter, r *http.Request) {
	var req anchorChangedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
		return
	}
	if len(req.Events) == 0 || req.Anchor.IsZero() {
		respond.WriteError(w, http.StatusBadRequest, "BAD_BODY", "triggeringEvents and anchor are required")
		return
	}
	if err := req.Owner.Validate(); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "BAD_OWNER", err.Error())
		return
	}

	if err := h.scheduler.OnAnchorChanged(r.Context(), req.Owner, req.Events, req.Anchor, req.Configs); err != nil {
		h.logger.Error("anchor-changed scheduling incomplete",
			"owner", req.Owner.String(), "error", err)
	}
	w.WriteHeader(http.StatusAccepted)
}

type ownerInvalidatedRequest struct {
	Owner notices.OwnerRef `json:"owner"`
}

// OwnerInvalidated eagerly cancels every notice for an owner (check-in,
// declared/aged lost, claimed returned, account closed). Idempotent.
// @Summary Cancel all notices for an owner
// @Tags notice-lifecycle
// @Accept json
// @Success 202
// @Failure 400 {object} respond.ErrorResponse
// @Router /notice-lifecycle/owner-invalidated [post]
func (h *Handler) OwnerInvalidated(w http.ResponseWriter, r *http.Request) {
	var req ownerInvalidatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
		return
	}
	if err := req.Owner.Validate(); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "BAD_OWNER", err.Error())
		return
	}

	if err := h.scheduler.OnOwnerInvalidated(r.Context(), req.Owner); err != nil {
		h.logger.Error("owner-invalidated cancellation failed",
			"owner", req.Owner.String(), "error", err)
	}
	w.WriteHeader(http.StatusAccepted)
}
