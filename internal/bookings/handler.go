package bookings

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/httputil"
	"github.com/haulhub/backend/internal/middleware"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/money"
	"github.com/haulhub/backend/internal/validator"
)

type PickupRequest struct {
	Pin string `json:"pin"`
}

type EvidenceRequest struct {
	Kind     models.EvidenceKind `json:"kind"`
	Artifact string              `json:"artifact"`
	Lat      *float64            `json:"lat"`
	Lng      *float64            `json:"lng"`
}

type DisputeRequest struct {
	Reason string `json:"reason"`
}

type AmendmentRequest struct {
	ProposedAmount money.Amount `json:"proposed_amount"`
	Reason         string       `json:"reason"`
}

type AmendmentActionRequest struct {
	Action string `json:"action"`
}

type ResolveRequest struct {
	Outcome Outcome `json:"outcome"`
	Note    string  `json:"note"`
}

// View is a booking as its participants see it. Only the hauler sees the pickup code; the client gets it in person.
type View struct {
	*models.Booking
	PickupCode string `json:"pickup_code,omitempty"`
}

func viewFor(b *models.Booking, actorID uuid.UUID) View {
	v := View{Booking: b}
	if b.HaulerID == actorID && b.Status == models.BookingAssigned {
		v.PickupCode = b.PickupCode
	}
	return v
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

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, b *models.Booking, err error) {
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewFor(b, middleware.ActorFromCtx(r.Context()).ID))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.svc.Get(r.Context(), middleware.ActorFromCtx(r.Context()).ID, id)
	h.respond(w, r, b, err)
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	list, err := h.svc.ListMine(r.Context(), actor.ID)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	out := make([]View, 0, len(list))
	for _, b := range list {
		out = append(out, viewFor(b, actor.ID))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) ConfirmPickup(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req PickupRequest
	if !h.decode(w, r, validator.PickupConfirm, &req) {
		return
	}
	b, err := h.svc.ConfirmPickup(r.Context(), middleware.ActorFromCtx(r.Context()).ID, id, req.Pin)
	h.respond(w, r, b, err)
}

func (h *Handler) AddEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req EvidenceRequest
	if !h.decode(w, r, validator.EvidenceCreate, &req) {
		return
	}
	b, err := h.svc.AddEvidence(r.Context(), middleware.ActorFromCtx(r.Context()).ID, id, EvidenceInput{
		Kind:        req.Kind,
		ArtifactRef: req.Artifact,
		Lat:         req.Lat,
		Lng:         req.Lng,
	})
	h.respond(w, r, b, err)
}

func (h *Handler) MarkDone(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.svc.MarkDone(r.Context(), middleware.ActorFromCtx(r.Context()).ID, id)
	h.respond(w, r, b, err)
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.svc.Complete(r.Context(), middleware.ActorFromCtx(r.Context()).ID, id)
	h.respond(w, r, b, err)
}

func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req DisputeRequest
	if !h.decode(w, r, validator.DisputeOpen, &req) {
		return
	}
	b, err := h.svc.OpenDispute(r.Context(), middleware.ActorFromCtx(r.Context()).ID, id, req.Reason)
	h.respond(w, r, b, err)
}

func (h *Handler) ReportNoShow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.svc.ReportNoShow(r.Context(), middleware.ActorFromCtx(r.Context()).ID, id)
	h.respond(w, r, b, err)
}

func (h *Handler) RequestAmendment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req AmendmentRequest
	if !h.decode(w, r, validator.AmendmentCreate, &req) {
		return
	}
	b, err := h.svc.RequestAmendment(r.Context(), middleware.ActorFromCtx(r.Context()).ID, id, req.ProposedAmount, req.Reason)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, viewFor(b, middleware.ActorFromCtx(r.Context()).ID))
}

func (h *Handler) RespondAmendment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	amendmentID, ok := h.pathID(w, r, "aid")
	if !ok {
		return
	}
	var req AmendmentActionRequest
	if !h.decode(w, r, validator.AmendmentAction, &req) {
		return
	}
	b, err := h.svc.RespondAmendment(r.Context(), middleware.ActorFromCtx(r.Context()).ID, id, amendmentID, req.Action == "accept")
	h.respond(w, r, b, err)
}

// Resolve is the arbitration callback. It is mounted behind the arbiter key, not a user token.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req ResolveRequest
	if !h.decode(w, r, validator.Resolve, &req) {
		return
	}
	b, err := h.svc.Resolve(r.Context(), id, req.Outcome, req.Note)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		httputil.WriteError(w, h.log, apperr.Validation("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	if err := h.validator.Decode(r, schema, dst); err != nil {
		httputil.WriteError(w, h.log, err)
		return false
	}
	return true
}
