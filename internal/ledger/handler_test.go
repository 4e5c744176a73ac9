package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/memstore"
	"github.com/haulhub/backend/internal/middleware"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/money"
	"github.com/haulhub/backend/internal/validator"
)

const webhookSecret = "whsec_test"

type userDir map[uuid.UUID]*models.User

func (d userDir) Get(_ context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := d[id]; ok {
		return u, nil
	}
	return nil, apperr.NotFound("user")
}

type handlerEnv struct {
	h     *Handler
	svc   Service
	st    *memstore.Store
	users userDir
	clock *clock
}

func newHandlerEnv(t *testing.T, policy Policy) *handlerEnv {
	t.Helper()
	st, svc, c := newTestLedger(t, Options{})
	v, err := validator.New()
	require.NoError(t, err)
	users := userDir{}
	h := NewHandler(svc, NewCheckout("https://pay.example/checkout", "s3cret", webhookSecret, time.Hour), users, policy, v, nil)
	h.now = c.now
	return &handlerEnv{h: h, svc: svc, st: st, users: users, clock: c}
}

func newTestHandler(t *testing.T) (*Handler, Service) {
	e := newHandlerEnv(t, DefaultPolicy())
	return e.h, e.svc
}

// user registers a wallet owner at the given verification tier.
func (e *handlerEnv) user(tier string) uuid.UUID {
	id := uuid.New()
	e.users[id] = &models.User{ID: id, VerificationTier: tier}
	return id
}

func asUser(r *http.Request, id uuid.UUID) *http.Request {
	return r.WithContext(middleware.WithActor(r.Context(), &middleware.Actor{ID: id, Role: models.RoleClient}))
}

// startDeposit runs Deposit and returns the callback body carrying the checkout handle.
func startDeposit(t *testing.T, h *Handler, user uuid.UUID, amount string) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Deposit(rec, asUser(httptest.NewRequest(http.MethodPost, "/wallet/deposit", strings.NewReader(`{"amount":"`+amount+`"}`)), user))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var session Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	u, err := url.Parse(session.CheckoutURL)
	require.NoError(t, err)
	return `{"token":"` + u.Query().Get("token") + `"}`
}

func confirmRequest(body, signature string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/wallet/deposit/confirm", strings.NewReader(body))
	if signature != "" {
		r.Header.Set(SignatureHeader, signature)
	}
	return r
}

func TestDepositConfirmFundsOnce(t *testing.T) {
	h, svc := newTestHandler(t)
	user := uuid.New()
	body := startDeposit(t, h, user, "200.00")

	for i, wantReplay := range []bool{false, true} {
		rec := httptest.NewRecorder()
		h.ConfirmDeposit(rec, confirmRequest(body, h.checkout.Sign([]byte(body), time.Now())))
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d: %s", i, rec.Body.String())
		var resp ConfirmDepositResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, wantReplay, resp.AlreadyFunded)
	}

	wallet, err := svc.Wallet(context.Background(), user, 10)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("200.00"), wallet.Account.Available)
	assert.Len(t, wallet.Transactions, 1)
}

func TestDepositConfirmRequiresCollaboratorSignature(t *testing.T) {
	h, svc := newTestHandler(t)
	user := uuid.New()
	body := startDeposit(t, h, user, "200.00")
	forged := NewCheckout("https://pay.example/checkout", "s3cret", "guessed", time.Hour)

	cases := map[string]string{
		"handle alone":     "",
		"garbage header":   "not-a-signature",
		"wrong secret":     forged.Sign([]byte(body), time.Now()),
		"stale timestamp":  h.checkout.Sign([]byte(body), time.Now().Add(-10*time.Minute)),
		"other body":       h.checkout.Sign([]byte(`{"token":"x"}`), time.Now()),
		"missing v1 value": "t=" + strconv.FormatInt(time.Now().Unix(), 10),
	}
	for name, sig := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ConfirmDeposit(rec, confirmRequest(body, sig))
			assert.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
		})
	}

	wallet, err := svc.Wallet(context.Background(), user, 10)
	require.NoError(t, err)
	assert.Zero(t, wallet.Account.Available)
	assert.Empty(t, wallet.Transactions)
}

func TestDepositConfirmRejectedWithoutWebhookSecret(t *testing.T) {
	_, svc, _ := newTestLedger(t, Options{})
	v, err := validator.New()
	require.NoError(t, err)
	unconfigured := NewCheckout("https://pay.example/checkout", "s3cret", "", time.Hour)
	h := NewHandler(svc, unconfigured, userDir{}, DefaultPolicy(), v, nil)
	user := uuid.New()
	body := startDeposit(t, h, user, "50.00")

	rec := httptest.NewRecorder()
	h.ConfirmDeposit(rec, confirmRequest(body, unconfigured.Sign([]byte(body), time.Now())))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	wallet, err := svc.Wallet(context.Background(), user, 10)
	require.NoError(t, err)
	assert.Zero(t, wallet.Account.Available)
}

func TestDepositBelowMinimum(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.Deposit(rec, asUser(httptest.NewRequest(http.MethodPost, "/wallet/deposit", strings.NewReader(`{"amount":"0.50"}`)), uuid.New()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func withdraw(h *Handler, user uuid.UUID, amount string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Withdraw(rec, asUser(httptest.NewRequest(http.MethodPost, "/wallet/withdraw", strings.NewReader(`{"amount":"`+amount+`"}`)), user))
	return rec
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	e := newHandlerEnv(t, DefaultPolicy())
	rec := withdraw(e.h, e.user(models.TierUnverified), "5.00")
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestWithdrawBelowMinimum(t *testing.T) {
	e := newHandlerEnv(t, DefaultPolicy())
	user := e.user(models.TierIDVerified)
	e.st.Ledger().Seed(models.Account{UserID: user, Available: money.MustParse("50.00")})

	rec := withdraw(e.h, user, "0.50")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "minimum withdrawal is 1.00")
	assert.Equal(t, money.MustParse("50.00"), account(t, e.st, user).Available)
}

func TestWithdrawRequiresKYCWhenEnabled(t *testing.T) {
	policy := DefaultPolicy()
	policy.RequireKYCForPayout = true
	e := newHandlerEnv(t, policy)

	phone := e.user(models.TierPhoneVerified)
	e.st.Ledger().Seed(models.Account{UserID: phone, Available: money.MustParse("50.00")})
	rec := withdraw(e.h, phone, "20.00")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "kyc_required")
	assert.Equal(t, money.MustParse("50.00"), account(t, e.st, phone).Available)

	verified := e.user(models.TierIDVerified)
	e.st.Ledger().Seed(models.Account{UserID: verified, Available: money.MustParse("50.00")})
	rec = withdraw(e.h, verified, "20.00")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, money.MustParse("30.00"), account(t, e.st, verified).Available)
}

func TestDepositVelocityLimits(t *testing.T) {
	policy := DefaultPolicy()
	policy.DepositVelocity = true
	e := newHandlerEnv(t, policy)
	user := e.user(models.TierUnverified)

	deposit := func(amount string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		e.h.Deposit(rec, asUser(httptest.NewRequest(http.MethodPost, "/wallet/deposit", strings.NewReader(`{"amount":"`+amount+`"}`)), user))
		return rec
	}

	_, _, err := e.svc.Fund(context.Background(), user, money.MustParse("150.00"), "checkout:earlier")
	require.NoError(t, err)

	rec := deposit("60.00")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "daily deposit limit")
	assert.Equal(t, http.StatusCreated, deposit("50.00").Code)

	e.clock.advance(25 * time.Hour)
	assert.Equal(t, http.StatusCreated, deposit("200.00").Code)
}

func TestDepositBalanceCap(t *testing.T) {
	policy := DefaultPolicy()
	policy.DepositVelocity = true
	e := newHandlerEnv(t, policy)

	capped := e.user(models.TierUnverified)
	e.st.Ledger().Seed(models.Account{UserID: capped, Available: money.MustParse("350.00"), Escrow: money.MustParse("100.00")})
	rec := httptest.NewRecorder()
	e.h.Deposit(rec, asUser(httptest.NewRequest(http.MethodPost, "/wallet/deposit", strings.NewReader(`{"amount":"60.00"}`)), capped))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "balance cap")

	uncapped := e.user(models.TierIDVerified)
	e.st.Ledger().Seed(models.Account{UserID: uncapped, Available: money.MustParse("90000.00")})
	rec = httptest.NewRecorder()
	e.h.Deposit(rec, asUser(httptest.NewRequest(http.MethodPost, "/wallet/deposit", strings.NewReader(`{"amount":"5000.00"}`)), uncapped))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestGetWalletEmpty(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.GetWallet(rec, asUser(httptest.NewRequest(http.MethodGet, "/wallet", nil), uuid.New()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"0.00"`, extract(t, rec.Body.Bytes(), "total"))
}

func extract(t *testing.T, raw []byte, key string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	return string(m[key])
}
