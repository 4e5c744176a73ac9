package router

import (
	"net/http"
	"strings"

	"github.com/haulhub/backend/internal/applications"
	"github.com/haulhub/backend/internal/auth"
	"github.com/haulhub/backend/internal/bookings"
	"github.com/haulhub/backend/internal/dashboard"
	"github.com/haulhub/backend/internal/jobs"
	"github.com/haulhub/backend/internal/ledger"
	"github.com/haulhub/backend/internal/middleware"
)

const base = "/api/v1"

type Handlers struct {
	Auth         *auth.Handler
	Jobs         *jobs.Handler
	Applications *applications.Handler
	Bookings     *bookings.Handler
	Wallet       *ledger.Handler
	Dashboard    *dashboard.Handler
}

type Guards struct {
	Tokens     middleware.TokenValidator
	ArbiterKey string
	Throttles  *middleware.Throttles
}

// New returns an http.Handler that serves the API under /api/v1.
func New(h Handlers, g Guards) http.Handler {
	mux := http.NewServeMux()
	authed := middleware.Authenticate(g.Tokens)
	user := func(fn http.HandlerFunc, scopes ...string) http.Handler {
		var next http.Handler = fn
		for _, s := range scopes {
			next = g.Throttles.Scope(s)(next)
		}
		return authed(next)
	}
	handle := func(pattern string, handler http.Handler) {
		method, path, _ := strings.Cut(pattern, " ")
		mux.Handle(method+" "+base+path, handler)
	}

	handle("POST /auth/register", http.HandlerFunc(h.Auth.Register))
	handle("POST /auth/login", http.HandlerFunc(h.Auth.Login))
	handle("GET /me", user(h.Auth.Me))
	handle("GET /dashboard", user(h.Dashboard.Get))

	handle("POST /jobs", user(h.Jobs.Create, middleware.ScopeJobCreation))
	handle("GET /jobs", user(h.Jobs.ListOpen))
	handle("GET /jobs/mine", user(h.Jobs.ListMine))
	handle("GET /jobs/{id}", user(h.Jobs.Get))
	handle("PATCH /jobs/{id}", user(h.Jobs.Act))
	handle("GET /jobs/{id}/applications", user(h.Applications.ListForJob))
	handle("POST /jobs/{id}/applications", user(h.Applications.Apply, middleware.ScopeJobApplication))

	handle("GET /applications/mine", user(h.Applications.ListMine))
	handle("PATCH /applications/{id}", user(h.Applications.Act, middleware.ScopeEscrowLock))

	handle("GET /bookings/mine", user(h.Bookings.ListMine))
	handle("GET /bookings/{id}", user(h.Bookings.Get))
	handle("POST /bookings/{id}/confirm-pickup", user(h.Bookings.ConfirmPickup))
	handle("POST /bookings/{id}/evidence", user(h.Bookings.AddEvidence, middleware.ScopeEvidenceUpload))
	handle("POST /bookings/{id}/mark-done", user(h.Bookings.MarkDone))
	handle("POST /bookings/{id}/complete", user(h.Bookings.Complete))
	handle("POST /bookings/{id}/dispute", user(h.Bookings.OpenDispute))
	handle("POST /bookings/{id}/no-show", user(h.Bookings.ReportNoShow))
	handle("POST /bookings/{id}/amendments", user(h.Bookings.RequestAmendment))
	handle("PATCH /bookings/{id}/amendments/{aid}", user(h.Bookings.RespondAmendment, middleware.ScopeEscrowLock))

	handle("GET /wallet", user(h.Wallet.GetWallet))
	handle("POST /wallet/deposit", user(h.Wallet.Deposit, middleware.ScopeDeposit))
	handle("POST /wallet/deposit/confirm", http.HandlerFunc(h.Wallet.ConfirmDeposit))
	handle("POST /wallet/withdraw", user(h.Wallet.Withdraw))

	handle("POST /admin/bookings/{id}/resolve", middleware.ArbiterKey(g.ArbiterKey)(http.HandlerFunc(h.Bookings.Resolve)))

	return mux
}
