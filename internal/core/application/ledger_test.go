package application_test

import (
	"context"
	"testing"

	"github.com/rentgrid/rentd/internal/core/domain"
	"github.com/rentgrid/rentd/internal/core/ports"
	"github.com/rentgrid/rentd/pkg/errors"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireCode[MT any](t *testing.T, err error, code errors.Code[MT]) {
	t.Helper()
	require.Error(t, err)
	typed, ok := err.(errors.Error)
	require.True(t, ok, "error %v does not carry a code", err)
	require.Equal(t, code.Name, typed.CodeName())
}

func TestSetTokenPayment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	t.Run("refuses non administrator", func(t *testing.T) {
		err := env.ledger.SetTokenPayment(ctx, aliceAddr, tokenX, 1000, true)
		requireCode(t, err, errors.UNAUTHORIZED)
	})

	t.Run("refuses percentage above precision", func(t *testing.T) {
		err := env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, domain.FeePrecision+1, true)
		requireCode(t, err, errors.INVALID_ARGUMENT)
	})

	t.Run("registers and enumerates in insertion order", func(t *testing.T) {
		require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, 1000, true))
		require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenY, 500, true))
		require.NoError(
			t, env.ledger.SetTokenPayment(ctx, adminAddr, domain.NativeInstrument, 0, true),
		)

		total, err := env.ledger.TotalTokenPayments(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(3), total)

		first, err := env.ledger.TokenPaymentAt(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, tokenX, first)
		third, err := env.ledger.TokenPaymentAt(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, domain.NativeInstrument, third)

		_, err = env.ledger.TokenPaymentAt(ctx, 3)
		requireCode(t, err, errors.INDEX_OUT_OF_RANGE)
	})

	t.Run("update keeps enumeration position", func(t *testing.T) {
		require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, 2000, false))

		first, err := env.ledger.TokenPaymentAt(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, tokenX, first)

		supported, err := env.ledger.SupportsTokenPayment(ctx, tokenX)
		require.NoError(t, err)
		assert.False(t, supported)

		pct, err := env.ledger.FeePercentageFor(ctx, tokenX)
		require.NoError(t, err)
		assert.Equal(t, uint64(2000), pct)
	})
}

func TestSetFee(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	err := env.ledger.SetFee(ctx, adminAddr, tokenX, 1000)
	requireCode(t, err, errors.UNKNOWN_INSTRUMENT)

	require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, 1000, true))
	require.NoError(t, env.ledger.SetFee(ctx, adminAddr, tokenX, 2500))

	pct, err := env.ledger.FeePercentageFor(ctx, tokenX)
	require.NoError(t, err)
	require.Equal(t, uint64(2500), pct)

	// acceptance untouched
	supported, err := env.ledger.SupportsTokenPayment(ctx, tokenX)
	require.NoError(t, err)
	require.True(t, supported)

	err = env.ledger.SetFee(ctx, aliceAddr, tokenX, 100)
	requireCode(t, err, errors.UNAUTHORIZED)
}

func TestAccrue(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, 1000, true))
	require.NoError(t, env.registry.Mint(ctx, adminAddr, aliceAddr, 7))

	t.Run("splits gross into owner and protocol shares", func(t *testing.T) {
		require.NoError(t, env.ledger.Accrue(ctx, 7, tokenX, 1000))

		rent, err := env.ledger.AssetRentFeesFor(ctx, 7, tokenX)
		require.NoError(t, err)
		assert.Equal(t, uint64(900), rent)

		protocol, err := env.ledger.ProtocolFeeFor(ctx, tokenX)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), protocol)
	})

	t.Run("accruals accumulate", func(t *testing.T) {
		require.NoError(t, env.ledger.Accrue(ctx, 7, tokenX, 500))

		rent, err := env.ledger.AssetRentFeesFor(ctx, 7, tokenX)
		require.NoError(t, err)
		assert.Equal(t, uint64(1350), rent)

		protocol, err := env.ledger.ProtocolFeeFor(ctx, tokenX)
		require.NoError(t, err)
		assert.Equal(t, uint64(150), protocol)
	})

	t.Run("unregistered instrument accrues nothing", func(t *testing.T) {
		err := env.ledger.Accrue(ctx, 7, tokenY, 1000)
		requireCode(t, err, errors.INSTRUMENT_NOT_ACCEPTED)

		rent, err := env.ledger.AssetRentFeesFor(ctx, 7, tokenY)
		require.NoError(t, err)
		assert.Zero(t, rent)
	})

	t.Run("deregistered instrument accrues nothing", func(t *testing.T) {
		require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, 1000, false))
		err := env.ledger.Accrue(ctx, 7, tokenX, 1000)
		requireCode(t, err, errors.INSTRUMENT_NOT_ACCEPTED)

		// historical balance untouched
		rent, err := env.ledger.AssetRentFeesFor(ctx, 7, tokenX)
		require.NoError(t, err)
		assert.Equal(t, uint64(1350), rent)
	})

	t.Run("unknown asset accrues nothing", func(t *testing.T) {
		require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, 1000, true))
		err := env.ledger.Accrue(ctx, 99, tokenX, 1000)
		requireCode(t, err, errors.UNKNOWN_ASSET)
	})
}

func TestAccrueBoundaryPercentages(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	require.NoError(t, env.registry.Mint(ctx, adminAddr, aliceAddr, 1))

	t.Run("full skim leaves no owner share", func(t *testing.T) {
		require.NoError(
			t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, domain.FeePrecision, true),
		)
		require.NoError(t, env.ledger.Accrue(ctx, 1, tokenX, 1000))

		rent, err := env.ledger.AssetRentFeesFor(ctx, 1, tokenX)
		require.NoError(t, err)
		assert.Zero(t, rent)
		protocol, err := env.ledger.ProtocolFeeFor(ctx, tokenX)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), protocol)
	})

	t.Run("zero percentage leaves no protocol share", func(t *testing.T) {
		require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenY, 0, true))
		require.NoError(t, env.ledger.Accrue(ctx, 1, tokenY, 1000))

		rent, err := env.ledger.AssetRentFeesFor(ctx, 1, tokenY)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), rent)
		protocol, err := env.ledger.ProtocolFeeFor(ctx, tokenY)
		require.NoError(t, err)
		assert.Zero(t, protocol)
	})
}

func TestClaimRentFee(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, 1000, true))
	require.NoError(t, env.registry.Mint(ctx, adminAddr, aliceAddr, 7))
	require.NoError(t, env.ledger.Accrue(ctx, 7, tokenX, 1000))

	t.Run("pays the current owner and zeroes the balance", func(t *testing.T) {
		payouts, err := env.ledger.ClaimRentFee(ctx, 7)
		require.NoError(t, err)
		require.Len(t, payouts, 1)
		assert.Equal(t, aliceAddr, payouts[0].Recipient)
		assert.Equal(t, uint64(900), payouts[0].Amount)
		assert.Equal(t, tokenX, payouts[0].Instrument)

		rent, err := env.ledger.AssetRentFeesFor(ctx, 7, tokenX)
		require.NoError(t, err)
		assert.Zero(t, rent)

		require.Len(t, env.payments.payments, 1)
		assert.Equal(t, uint64(900), env.payments.payments[0].amount)
	})

	t.Run("second claim is a no-op", func(t *testing.T) {
		eventsBefore := env.repo.events.countByType(domain.EventClaimRentFee)

		payouts, err := env.ledger.ClaimRentFee(ctx, 7)
		require.NoError(t, err)
		require.Empty(t, payouts)
		require.Len(t, env.payments.payments, 1)
		require.Equal(t, eventsBefore, env.repo.events.countByType(domain.EventClaimRentFee))
	})

	t.Run("claim works for deregistered instrument", func(t *testing.T) {
		require.NoError(t, env.ledger.Accrue(ctx, 7, tokenX, 1000))
		require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, 1000, false))

		payouts, err := env.ledger.ClaimRentFee(ctx, 7)
		require.NoError(t, err)
		require.Len(t, payouts, 1)
		assert.Equal(t, uint64(900), payouts[0].Amount)
	})

	t.Run("unknown asset fails", func(t *testing.T) {
		_, err := env.ledger.ClaimRentFee(ctx, 99)
		requireCode(t, err, errors.UNKNOWN_ASSET)
	})
}

func TestClaimRentFeePaymentFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, 1000, true))
	require.NoError(t, env.registry.Mint(ctx, adminAddr, aliceAddr, 7))
	require.NoError(t, env.ledger.Accrue(ctx, 7, tokenX, 1000))

	env.payments.failOn = &recordedPayment{recipient: aliceAddr, instrument: tokenX}

	_, err := env.ledger.ClaimRentFee(ctx, 7)
	requireCode(t, err, errors.PAYMENT_TRANSFER_FAILED)

	// failed claim leaves the balance claimable
	rent, err := env.ledger.AssetRentFeesFor(ctx, 7, tokenX)
	require.NoError(t, err)
	require.Equal(t, uint64(900), rent)
	require.Empty(t, env.payments.payments)
	require.Zero(t, env.repo.events.countByType(domain.EventClaimRentFee))
}

func TestClaimRentFeeReentrancy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, 1000, true))
	require.NoError(t, env.registry.Mint(ctx, adminAddr, aliceAddr, 7))
	require.NoError(t, env.ledger.Accrue(ctx, 7, tokenX, 1000))

	// the recipient re-enters the claim path while being paid; it must
	// observe a zero balance and obtain no second payout
	var reentrantPayouts []string
	env.payments.onTransfer = func(ctx context.Context) {
		payouts, err := env.ledger.ClaimRentFee(ctx, 7)
		require.NoError(t, err)
		for range payouts {
			reentrantPayouts = append(reentrantPayouts, "payout")
		}
	}

	payouts, err := env.ledger.ClaimRentFee(ctx, 7)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	require.Empty(t, reentrantPayouts)
	require.Len(t, env.payments.payments, 1)
}

func TestClaimMultipleRentFees(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, 1000, true))
	require.NoError(t, env.registry.Mint(ctx, adminAddr, aliceAddr, 1))
	require.NoError(t, env.registry.Mint(ctx, adminAddr, bobAddr, 2))
	require.NoError(t, env.ledger.Accrue(ctx, 1, tokenX, 1000))
	require.NoError(t, env.ledger.Accrue(ctx, 2, tokenX, 2000))

	t.Run("pays every owner", func(t *testing.T) {
		payouts, err := env.ledger.ClaimMultipleRentFees(ctx, []uint64{1, 2})
		require.NoError(t, err)
		require.Len(t, payouts, 2)
		assert.Equal(t, aliceAddr, payouts[0].Recipient)
		assert.Equal(t, uint64(900), payouts[0].Amount)
		assert.Equal(t, bobAddr, payouts[1].Recipient)
		assert.Equal(t, uint64(1800), payouts[1].Amount)
	})

	t.Run("batch is all or nothing", func(t *testing.T) {
		require.NoError(t, env.ledger.Accrue(ctx, 1, tokenX, 1000))
		require.NoError(t, env.ledger.Accrue(ctx, 2, tokenX, 1000))

		env.payments.failOn = &recordedPayment{recipient: bobAddr, instrument: tokenX}
		paid := len(env.payments.payments)
		hook := logtest.NewGlobal()
		defer hook.Reset()

		_, err := env.ledger.ClaimMultipleRentFees(ctx, []uint64{1, 2})
		requireCode(t, err, errors.PAYMENT_TRANSFER_FAILED)

		// both balances restored, including the one whose payment succeeded
		rent1, err := env.ledger.AssetRentFeesFor(ctx, 1, tokenX)
		require.NoError(t, err)
		require.Equal(t, uint64(900), rent1)
		rent2, err := env.ledger.AssetRentFeesFor(ctx, 2, tokenX)
		require.NoError(t, err)
		require.Equal(t, uint64(900), rent2)
		// alice's payment went out before the batch aborted
		require.Equal(t, paid+1, len(env.payments.payments))

		// the executed payout is logged so the host can reconcile it
		var reconciled bool
		for _, entry := range hook.AllEntries() {
			if entry.Message == "payout executed before aborted claim batch" {
				reconciled = true
				assert.Equal(t, aliceAddr, entry.Data["recipient"])
				assert.Equal(t, tokenX, entry.Data["instrument"])
				assert.Equal(t, uint64(900), entry.Data["amount"])
			}
		}
		require.True(t, reconciled)
	})
}

func TestClaimProtocolFee(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, 1000, true))
	require.NoError(t, env.registry.Mint(ctx, adminAddr, aliceAddr, 7))
	require.NoError(t, env.ledger.Accrue(ctx, 7, tokenX, 1000))

	t.Run("refuses non administrator", func(t *testing.T) {
		_, err := env.ledger.ClaimProtocolFee(ctx, aliceAddr, tokenX)
		requireCode(t, err, errors.UNAUTHORIZED)
	})

	t.Run("unknown instrument fails", func(t *testing.T) {
		_, err := env.ledger.ClaimProtocolFee(ctx, adminAddr, tokenY)
		requireCode(t, err, errors.UNKNOWN_INSTRUMENT)
	})

	t.Run("pays the administrator and zeroes the balance", func(t *testing.T) {
		payout, err := env.ledger.ClaimProtocolFee(ctx, adminAddr, tokenX)
		require.NoError(t, err)
		require.NotNil(t, payout)
		assert.Equal(t, adminAddr, payout.Recipient)
		assert.Equal(t, uint64(100), payout.Amount)

		protocol, err := env.ledger.ProtocolFeeFor(ctx, tokenX)
		require.NoError(t, err)
		assert.Zero(t, protocol)
	})

	t.Run("zero balance claim is a no-op", func(t *testing.T) {
		payout, err := env.ledger.ClaimProtocolFee(ctx, adminAddr, tokenX)
		require.NoError(t, err)
		require.Nil(t, payout)
	})
}

func TestClaimProtocolFeesBatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, 1000, true))
	require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenY, 5000, true))
	require.NoError(t, env.registry.Mint(ctx, adminAddr, aliceAddr, 7))
	require.NoError(t, env.ledger.Accrue(ctx, 7, tokenX, 1000))
	require.NoError(t, env.ledger.Accrue(ctx, 7, tokenY, 1000))

	env.payments.failOn = &recordedPayment{recipient: adminAddr, instrument: tokenY}

	_, err := env.ledger.ClaimProtocolFees(ctx, adminAddr, []domain.Address{tokenX, tokenY})
	requireCode(t, err, errors.PAYMENT_TRANSFER_FAILED)

	protocolX, err := env.ledger.ProtocolFeeFor(ctx, tokenX)
	require.NoError(t, err)
	require.Equal(t, uint64(100), protocolX)
	protocolY, err := env.ledger.ProtocolFeeFor(ctx, tokenY)
	require.NoError(t, err)
	require.Equal(t, uint64(500), protocolY)

	env.payments.failOn = nil
	payouts, err := env.ledger.ClaimProtocolFees(ctx, adminAddr, []domain.Address{tokenX, tokenY})
	require.NoError(t, err)
	require.Len(t, payouts, 2)
}

func TestRentFollowsAssetAcrossTransfer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, 1000, true))
	require.NoError(t, env.registry.Mint(ctx, adminAddr, aliceAddr, 7))
	require.NoError(t, env.ledger.Accrue(ctx, 7, tokenX, 1000))

	require.NoError(t, env.registry.Transfer(ctx, aliceAddr, aliceAddr, bobAddr, 7))
	require.NoError(t, env.ledger.Accrue(ctx, 7, tokenX, 500))

	rent, err := env.ledger.AssetRentFeesFor(ctx, 7, tokenX)
	require.NoError(t, err)
	require.Equal(t, uint64(1350), rent)

	// the whole balance goes to the owner at claim time
	payouts, err := env.ledger.ClaimRentFee(ctx, 7)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	require.Equal(t, bobAddr, payouts[0].Recipient)
	require.Equal(t, uint64(1350), payouts[0].Amount)
}

func TestSettleAssetDrainsRentalSource(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.ledger.SetTokenPayment(ctx, adminAddr, tokenX, 1000, true))
	require.NoError(t, env.registry.Mint(ctx, adminAddr, aliceAddr, 7))

	env.rental.pending[7] = []ports.PendingRent{{Instrument: tokenX, Gross: 1000}}

	require.NoError(t, env.ledger.SettleAsset(ctx, 7))

	rent, err := env.ledger.AssetRentFeesFor(ctx, 7, tokenX)
	require.NoError(t, err)
	require.Equal(t, uint64(900), rent)
	require.Equal(t, []uint64{7}, env.rental.settled)

	// a second settle has nothing left to post
	require.NoError(t, env.ledger.SettleAsset(ctx, 7))
	rent, err = env.ledger.AssetRentFeesFor(ctx, 7, tokenX)
	require.NoError(t, err)
	require.Equal(t, uint64(900), rent)
}
