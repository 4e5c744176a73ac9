package jobs

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/httputil"
	"github.com/haulhub/backend/internal/middleware"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/money"
	"github.com/haulhub/backend/internal/validator"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type CreateJobRequest struct {
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Category        string       `json:"category"`
	Budget          money.Amount `json:"budget"`
	LocationAddress string       `json:"location_address"`
	City            string       `json:"city"`
	Lat             *float64     `json:"lat"`
	Lng             *float64     `json:"lng"`
	ScheduledAt     time.Time    `json:"scheduled_at"`
}

type JobActionRequest struct {
	Action string `json:"action"`
}

type ListResponse struct {
	Jobs       []*models.Job `json:"jobs"`
	NextCursor string        `json:"next_cursor,omitempty"`
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

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	var req CreateJobRequest
	if err := h.validator.Decode(r, validator.JobCreate, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	job, err := h.svc.Post(r.Context(), actor.ID, PostInput{
		Title:           req.Title,
		Description:     req.Description,
		Category:        req.Category,
		Budget:          req.Budget,
		LocationAddress: req.LocationAddress,
		City:            req.City,
		Lat:             req.Lat,
		Lng:             req.Lng,
		ScheduledAt:     req.ScheduledAt,
	})
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, job)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	job, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

// Act applies a client action to a job. Only "cancel" exists today.
func (h *Handler) Act(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	id, err := PathID(r)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	var req JobActionRequest
	if err := h.validator.Decode(r, validator.JobAction, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	job, err := h.svc.Cancel(r.Context(), actor.ID, id)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) ListOpen(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := parseFilter(q.Get)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	limit := defaultListLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxListLimit {
			httputil.WriteError(w, h.log, apperr.Validation("limit must be between 1 and %d", maxListLimit))
			return
		}
		limit = n
	}
	var after *models.JobCursor
	if s := q.Get("cursor"); s != "" {
		if after, err = DecodeCursor(s); err != nil {
			httputil.WriteError(w, h.log, err)
			return
		}
	}

	resp := ListResponse{Jobs: []*models.Job{}}
	for job, err := range h.svc.ListOpen(r.Context(), filter, after) {
		if err != nil {
			httputil.WriteError(w, h.log, err)
			return
		}
		if len(resp.Jobs) == limit {
			last := resp.Jobs[limit-1]
			resp.NextCursor = EncodeCursor(models.JobCursor{CreatedAt: last.CreatedAt, ID: last.ID})
			break
		}
		resp.Jobs = append(resp.Jobs, job)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	jobs, err := h.svc.ListMine(r.Context(), actor.ID)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	httputil.WriteJSON(w, http.StatusOK, jobs)
}

func parseFilter(get func(string) string) (models.JobFilter, error) {
	f := models.JobFilter{Category: get("category"), City: strings.TrimSpace(get("city"))}
	if f.Category != "" && !models.ValidCategory(f.Category) {
		return f, apperr.Validation("unknown category %q", f.Category)
	}
	var err error
	if s := get("min_budget"); s != "" {
		if f.MinBudget, err = money.Parse(s); err != nil {
			return f, apperr.Validation("min_budget: %v", err)
		}
	}
	if s := get("max_budget"); s != "" {
		if f.MaxBudget, err = money.Parse(s); err != nil {
			return f, apperr.Validation("max_budget: %v", err)
		}
	}
	if f.ScheduledFrom, err = parseTime(get("scheduled_from")); err != nil {
		return f, apperr.Validation("scheduled_from must be RFC 3339")
	}
	if f.ScheduledTo, err = parseTime(get("scheduled_to")); err != nil {
		return f, apperr.Validation("scheduled_to must be RFC 3339")
	}
	return f, nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// EncodeCursor renders a keyset position as an opaque token.
func EncodeCursor(c models.JobCursor) string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "." + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (*models.JobCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.Validation("invalid cursor")
	}
	ts, id, ok := strings.Cut(string(raw), ".")
	if !ok {
		return nil, apperr.Validation("invalid cursor")
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, apperr.Validation("invalid cursor")
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.Validation("invalid cursor")
	}
	return &models.JobCursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: uid}, nil
}

// PathID reads the {id} path segment.
func PathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}
