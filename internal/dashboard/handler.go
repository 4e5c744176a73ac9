// Package dashboard serves the signed-in user's overview: standing, wallet buckets and work in flight.
package dashboard

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/haulhub/backend/internal/httputil"
	"github.com/haulhub/backend/internal/ledger"
	"github.com/haulhub/backend/internal/middleware"
	"github.com/haulhub/backend/internal/models"
)

const recentTransactions = 10

type Users interface {
	Get(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type Wallets interface {
	Wallet(ctx context.Context, userID uuid.UUID, limit int) (*ledger.Wallet, error)
}

type Jobs interface {
	ListMine(ctx context.Context, clientID uuid.UUID) ([]*models.Job, error)
}

type Applications interface {
	ListMine(ctx context.Context, haulerID uuid.UUID) ([]*models.Application, error)
}

type Bookings interface {
	ListMine(ctx context.Context, userID uuid.UUID) ([]*models.Booking, error)
}

// Overview is the dashboard payload. Jobs is only filled for clients and Applications only for haulers.
type Overview struct {
	User         *models.User                     `json:"user"`
	Wallet       *ledger.Wallet                   `json:"wallet"`
	Jobs         map[models.JobStatus]int         `json:"jobs,omitempty"`
	Applications map[models.ApplicationStatus]int `json:"applications,omitempty"`
	Bookings     map[models.BookingStatus]int     `json:"bookings"`
	// ActionRequired counts bookings waiting on this user: pickup or approval for a client, work for a hauler.
	ActionRequired int `json:"action_required"`
}

type Deps struct {
	Users        Users
	Wallets      Wallets
	Jobs         Jobs
	Applications Applications
	Bookings     Bookings
}

type Handler struct {
	Deps
	log *slog.Logger
}

func NewHandler(d Deps, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Deps: d, log: log}
}

// GET /api/v1/dashboard
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	o, err := h.overview(r.Context(), actor.ID)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) overview(ctx context.Context, userID uuid.UUID) (*Overview, error) {
	u, err := h.Users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	wallet, err := h.Wallets.Wallet(ctx, userID, recentTransactions)
	if err != nil {
		return nil, err
	}
	o := &Overview{User: u, Wallet: wallet, Bookings: map[models.BookingStatus]int{}}

	switch u.Role {
	case models.RoleClient:
		jobs, err := h.Jobs.ListMine(ctx, userID)
		if err != nil {
			return nil, err
		}
		o.Jobs = map[models.JobStatus]int{}
		for _, j := range jobs {
			o.Jobs[j.Status]++
		}
	case models.RoleHauler:
		apps, err := h.Applications.ListMine(ctx, userID)
		if err != nil {
			return nil, err
		}
		o.Applications = map[models.ApplicationStatus]int{}
		for _, a := range apps {
			o.Applications[a.Status]++
		}
	}

	bookings, err := h.Bookings.ListMine(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, b := range bookings {
		o.Bookings[b.Status]++
		if waitingOn(b, userID) {
			o.ActionRequired++
		}
	}
	return o, nil
}

func waitingOn(b *models.Booking, userID uuid.UUID) bool {
	switch b.Status {
	case models.BookingAssigned, models.BookingPendingCompletion:
		return b.ClientID == userID
	case models.BookingInProgress:
		return b.HaulerID == userID
	}
	return false
}
