package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulhub/backend/internal/apperr"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/money"
)

func TestPolicyCheckDeposit(t *testing.T) {
	p := DefaultPolicy()
	p.DepositVelocity = true
	empty := &models.Account{}

	cases := []struct {
		name    string
		tier    string
		acc     *models.Account
		today   string
		amount  string
		wantErr string
	}{
		{"below minimum", models.TierIDVerified, empty, "0", "0.99", "minimum deposit"},
		{"unverified at daily limit", models.TierUnverified, empty, "150.00", "50.00", ""},
		{"unverified over daily limit", models.TierUnverified, empty, "150.00", "50.01", "daily deposit limit"},
		{"unknown tier treated as unverified", "gold", empty, "0", "200.01", "daily deposit limit"},
		{"phone verified daily limit", models.TierPhoneVerified, empty, "1500.00", "600.00", "daily deposit limit"},
		{"unverified balance cap counts escrow", models.TierUnverified, &models.Account{Available: money.MustParse("300.00"), Escrow: money.MustParse("150.00")}, "0", "60.00", "balance cap"},
		{"phone verified under cap", models.TierPhoneVerified, &models.Account{Available: money.MustParse("8000.00")}, "0", "2000.00", ""},
		{"id verified has no cap", models.TierIDVerified, &models.Account{Available: money.MustParse("500000.00")}, "0", "10000.00", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := p.CheckDeposit(&models.User{VerificationTier: tc.tier}, tc.acc, money.MustParse(tc.today), money.MustParse(tc.amount))
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestPolicyVelocityOffOnlyChecksMinimum(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.CheckDeposit(nil, nil, 0, money.MustParse("5000.00")))
	require.Error(t, p.CheckDeposit(nil, nil, 0, money.MustParse("0.50")))
}

func TestPolicyCheckWithdrawal(t *testing.T) {
	p := DefaultPolicy()
	phone := &models.User{VerificationTier: models.TierPhoneVerified}

	err := p.CheckWithdrawal(phone, money.MustParse("0.99"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	require.NoError(t, p.CheckWithdrawal(phone, money.MustParse("1.00")))

	p.RequireKYCForPayout = true
	err = p.CheckWithdrawal(phone, money.MustParse("10.00"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrKYCRequired)
	require.NoError(t, p.CheckWithdrawal(&models.User{VerificationTier: models.TierIDVerified}, money.MustParse("10.00")))
}
