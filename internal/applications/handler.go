package applications

import (
	"log/slog"
	"net/http"

	"github.com/haulhub/backend/internal/httputil"
	"github.com/haulhub/backend/internal/jobs"
	"github.com/haulhub/backend/internal/middleware"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/validator"
)

type ApplyRequest struct {
	Proposal string `json:"proposal"`
}

type ActionRequest struct {
	Action string `json:"action"`
}

type Handler struct {
	svc       Service
	validator *validator.Validator
	log       *slog.Logger
}

func NewHandler(svc Service, v *validator.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: v, log: log}
}

// Apply handles POST /jobs/{id}/applications.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	jobID, err := jobs.PathID(r)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	var req ApplyRequest
	if err := h.validator.Decode(r, validator.ApplicationCreate, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	app, err := h.svc.Apply(r.Context(), actor.ID, jobID, req.Proposal)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, app)
}

// Act handles PATCH /applications/{id}.
func (h *Handler) Act(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	id, err := jobs.PathID(r)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	var req ActionRequest
	if err := h.validator.Decode(r, validator.ApplicationAction, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	cmd, err := ParseCommand(req.Action)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	res, err := h.svc.Act(r.Context(), actor.ID, id, cmd)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// ListForJob handles GET /jobs/{id}/applications.
func (h *Handler) ListForJob(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	jobID, err := jobs.PathID(r)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	apps, err := h.svc.ListForJob(r.Context(), actor.ID, jobID)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	writeList(w, apps)
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	apps, err := h.svc.ListMine(r.Context(), actor.ID)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	writeList(w, apps)
}

func writeList(w http.ResponseWriter, apps []*models.Application) {
	if apps == nil {
		apps = []*models.Application{}
	}
	httputil.WriteJSON(w, http.StatusOK, apps)
}
