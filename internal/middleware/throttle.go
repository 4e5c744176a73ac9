package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/httputil"
)

// Limiter hands out one token bucket per key.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	max      int
}

// NewLimiter allows perMinute events per key with the given burst.
func NewLimiter(perMinute float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perMinute / 60),
		burst:    burst,
		max:      10000,
	}
}

func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= l.max {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Scopes throttled per user when rate limiting is enabled.
const (
	ScopeJobCreation    = "job_creation"
	ScopeJobApplication = "job_application"
	ScopeEscrowLock     = "escrow_lock"
	ScopeDeposit        = "deposit"
	ScopeEvidenceUpload = "evidence_upload"
)

// ScopeLimits are the default per-minute budgets for each scope.
var ScopeLimits = map[string]struct {
	PerMinute float64
	Burst     int
}{
	ScopeJobCreation:    {PerMinute: 2, Burst: 5},
	ScopeJobApplication: {PerMinute: 10, Burst: 20},
	ScopeEscrowLock:     {PerMinute: 5, Burst: 5},
	ScopeDeposit:        {PerMinute: 3, Burst: 5},
	ScopeEvidenceUpload: {PerMinute: 20, Burst: 20},
}

// Throttles holds one Limiter per scope. A nil *Throttles lets everything through.
type Throttles struct {
	scopes map[string]*Limiter
}

func NewThrottles() *Throttles {
	t := &Throttles{scopes: make(map[string]*Limiter, len(ScopeLimits))}
	for scope, lim := range ScopeLimits {
		t.scopes[scope] = NewLimiter(lim.PerMinute, lim.Burst)
	}
	return t
}

// Scope limits the wrapped handler per authenticated actor. It must run after Authenticate.
func (t *Throttles) Scope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if t == nil {
			return next
		}
		lim, ok := t.scopes[scope]
		if !ok {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if a := ActorFromCtx(r.Context()); a != nil {
				key = a.ID.String()
			}
			if !lim.Allow(key) {
				w.Header().Set("Retry-After", retryAfter(lim))
				httputil.WriteError(w, nil, apperr.Throttled("too many %s requests", scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(l *Limiter) string {
	if l.rate <= 0 {
		return "60"
	}
	secs := int(math.Ceil(1 / float64(l.rate)))
	return strconv.Itoa(max(secs, 1))
}
