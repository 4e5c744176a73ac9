package ledger

import (
	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/money"
)

// Policy holds the wallet rules enforced before money crosses the external boundary.
type Policy struct {
	MinDeposit          money.Amount
	MinWithdrawal       money.Amount
	RequireKYCForPayout bool
	// DepositVelocity turns on the per-tier rolling daily deposit limit and wallet balance cap.
	DepositVelocity bool
	DailyLimits     map[string]money.Amount
	// BalanceCaps has no entry for tiers without a cap.
	BalanceCaps map[string]money.Amount
}

// DefaultPolicy returns the stock limits with every optional gate switched off.
func DefaultPolicy() Policy {
	return Policy{
		MinDeposit:    money.MustParse("1.00"),
		MinWithdrawal: money.MustParse("1.00"),
		DailyLimits: map[string]money.Amount{
			models.TierUnverified:    money.MustParse("200.00"),
			models.TierPhoneVerified: money.MustParse("2000.00"),
			models.TierIDVerified:    money.MustParse("10000.00"),
		},
		BalanceCaps: map[string]money.Amount{
			models.TierUnverified:    money.MustParse("500.00"),
			models.TierPhoneVerified: money.MustParse("10000.00"),
		},
	}
}

// CheckDeposit validates a new deposit of amount. depositedToday is what the user deposited in the last 24
// hours; acc is the user's current account.
func (p Policy) CheckDeposit(u *models.User, acc *models.Account, depositedToday, amount money.Amount) error {
	if amount < p.MinDeposit {
		return apperr.Validation("minimum deposit is %s", p.MinDeposit)
	}
	if !p.DepositVelocity {
		return nil
	}
	tier := knownTier(u.VerificationTier)
	if limit := p.DailyLimits[tier]; depositedToday+amount > limit {
		return apperr.Validation("daily deposit limit of %s reached for verification tier %s", limit, tier)
	}
	if limit, capped := p.BalanceCaps[tier]; capped && acc.Total()+amount > limit {
		return apperr.Validation("wallet balance cap of %s reached for verification tier %s", limit, tier)
	}
	return nil
}

// CheckWithdrawal validates a payout of amount.
func (p Policy) CheckWithdrawal(u *models.User, amount money.Amount) error {
	if amount < p.MinWithdrawal {
		return apperr.Validation("minimum withdrawal is %s", p.MinWithdrawal)
	}
	if p.RequireKYCForPayout && u.VerificationTier != models.TierIDVerified {
		return apperr.KYCRequired("identity verification required before withdrawing funds")
	}
	return nil
}

// knownTier maps anything unrecognised onto the most restricted tier.
func knownTier(t string) string {
	switch t {
	case models.TierPhoneVerified, models.TierIDVerified:
		return t
	}
	return models.TierUnverified
}
