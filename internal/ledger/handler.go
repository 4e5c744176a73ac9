package ledger

import (
	"context"
	"io"
	"log/slog"
	"net/http"
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
	historyLimit    = 50
	maxCallbackBody = 64 << 10
	velocityWindow  = 24 * time.Hour
)

// Users resolves the wallet owner for the tier and KYC checks.
type Users interface {
	Get(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type AmountRequest struct {
	Amount money.Amount `json:"amount"`
}

type ConfirmDepositRequest struct {
	Token string `json:"token"`
}

type ConfirmDepositResponse struct {
	TransactionID string       `json:"transaction_id"`
	Amount        money.Amount `json:"amount"`
	AlreadyFunded bool         `json:"already_funded"`
}

type Handler struct {
	svc       Service
	checkout  *Checkout
	users     Users
	policy    Policy
	validator *validator.Validator
	now       func() time.Time
	log       *slog.Logger
}

func NewHandler(svc Service, checkout *Checkout, users Users, policy Policy, v *validator.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, checkout: checkout, users: users, policy: policy, validator: v, now: time.Now, log: log}
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	wallet, err := h.svc.Wallet(r.Context(), actor.ID, historyLimit)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wallet)
}

// Deposit starts a hosted checkout and returns its redirect handle. Funds arrive on ConfirmDeposit.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	var req AmountRequest
	if err := h.validator.Decode(r, validator.WalletAmount, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	if err := h.checkDeposit(r.Context(), actor.ID, req.Amount); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	session, err := h.checkout.Start(actor.ID, req.Amount)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	h.log.Info("checkout started", "user_id", actor.ID, "handle_id", session.HandleID, "amount", req.Amount.String())
	httputil.WriteJSON(w, http.StatusCreated, session)
}

// ConfirmDeposit is the capture callback of the payment collaborator. The body must carry a valid
// SignatureHeader; the handle inside it only identifies the deposit. Replaying a handle returns the original
// transaction.
func (h *Handler) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		httputil.WriteError(w, h.log, apperr.Validation("read body: %v", err))
		return
	}
	if err := h.checkout.VerifySignature(body, r.Header.Get(SignatureHeader)); err != nil {
		h.log.Warn("rejected checkout callback", "remote_addr", r.RemoteAddr, "error", err)
		httputil.Unauthorized(w, err.Error())
		return
	}
	var req ConfirmDepositRequest
	if err := h.validator.Unmarshal(validator.DepositConfirm, body, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	capture, err := h.checkout.Verify(req.Token)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	t, applied, err := h.svc.Fund(r.Context(), capture.UserID, capture.Amount, capture.ExternalRef())
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ConfirmDepositResponse{
		TransactionID: t.ID.String(),
		Amount:        t.Amount,
		AlreadyFunded: !applied,
	})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	var req AmountRequest
	if err := h.validator.Decode(r, validator.WalletAmount, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	u, err := h.users.Get(r.Context(), actor.ID)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	if err := h.policy.CheckWithdrawal(u, req.Amount); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	t, err := h.svc.Withdraw(r.Context(), actor.ID, req.Amount)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) checkDeposit(ctx context.Context, userID uuid.UUID, amount money.Amount) error {
	if !h.policy.DepositVelocity {
		return h.policy.CheckDeposit(nil, nil, 0, amount)
	}
	u, err := h.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	wallet, err := h.svc.Wallet(ctx, userID, 1)
	if err != nil {
		return err
	}
	today, err := h.svc.DepositedSince(ctx, userID, h.now().Add(-velocityWindow))
	if err != nil {
		return err
	}
	return h.policy.CheckDeposit(u, wallet.Account, today, amount)
}
