package ledger_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/example/fintrack/internal/ledger"
	"github.com/example/fintrack/internal/storage/memory"
)

func newTestCoordinator(t *testing.T) (*memory.Store, *ledger.AccountLedger, *ledger.TransferCoordinator) {
	t.Helper()
	store := memory.NewStore()
	l := ledger.NewAccountLedger(store, slog.Default())
	return store, l, ledger.NewTransferCoordinator(store, l, slog.Default())
}

func TestTransferMovesMoneyAtomically(t *testing.T) {
	ctx := context.Background()
	store, l, tc := newTestCoordinator(t)
	a := seedAccount(t, store, ledger.KindChecking, "150.00")
	b := seedAccount(t, store, ledger.KindChecking, "0.00")

	out, in, err := tc.Transfer(ctx, testOwner, a.ID, b.ID, dec("100.00"), time.Now())
	require.NoError(t, err)

	balA, err := l.Balance(ctx, testOwner, a.ID)
	require.NoError(t, err)
	balB, err := l.Balance(ctx, testOwner, b.ID)
	require.NoError(t, err)
	assert.True(t, balA.Equal(dec("50.00")))
	assert.True(t, balB.Equal(dec("100.00")))

	// The two legs are linked: same timestamp and amount, peer account
	// ids cross-referencing each other, no category.
	assert.Equal(t, ledger.PostingTransfer, out.Kind)
	assert.Equal(t, ledger.PostingTransfer, in.Kind)
	assert.Equal(t, b.ID, out.PeerAccountID)
	assert.Equal(t, a.ID, in.PeerAccountID)
	assert.True(t, out.Amount.Equal(in.Amount))
	assert.True(t, out.Timestamp.Equal(in.Timestamp))
	assert.Empty(t, out.CategoryID)
	assert.Empty(t, in.CategoryID)
}

func TestTransferValidation(t *testing.T) {
	ctx := context.Background()
	store, _, tc := newTestCoordinator(t)
	a := seedAccount(t, store, ledger.KindChecking, "150.00")

	var verr *ledger.ValidationError

	_, _, err := tc.Transfer(ctx, testOwner, a.ID, a.ID, dec("10.00"), time.Now())
	require.ErrorAs(t, err, &verr, "same-account transfer must be rejected")

	_, _, err = tc.Transfer(ctx, testOwner, a.ID, "other", dec("0"), time.Now())
	require.ErrorAs(t, err, &verr, "non-positive amount must be rejected")
}

func TestTransferCurrencyMismatch(t *testing.T) {
	ctx := context.Background()
	store, _, tc := newTestCoordinator(t)
	a := seedAccount(t, store, ledger.KindChecking, "150.00")

	b := seedAccount(t, store, ledger.KindChecking, "0.00")
	b.Currency = "EUR"
	require.NoError(t, store.CreateAccount(ctx, b))

	var verr *ledger.ValidationError
	_, _, err := tc.Transfer(ctx, testOwner, a.ID, b.ID, dec("10.00"), time.Now())
	require.ErrorAs(t, err, &verr)
}

func TestTransferInsufficientFundsLeavesBothUntouched(t *testing.T) {
	ctx := context.Background()
	store, l, tc := newTestCoordinator(t)
	a := seedAccount(t, store, ledger.KindSavings, "30.00")
	b := seedAccount(t, store, ledger.KindChecking, "10.00")

	_, _, err := tc.Transfer(ctx, testOwner, a.ID, b.ID, dec("30.01"), time.Now())
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	balA, err := l.Balance(ctx, testOwner, a.ID)
	require.NoError(t, err)
	balB, err := l.Balance(ctx, testOwner, b.ID)
	require.NoError(t, err)
	assert.True(t, balA.Equal(dec("30.00")))
	assert.True(t, balB.Equal(dec("10.00")))

	postings, err := l.Postings(ctx, testOwner, a.ID)
	require.NoError(t, err)
	assert.Empty(t, postings, "aborted transfer must append nothing")
}

func TestTransferFromCreditCardMayOverdraw(t *testing.T) {
	ctx := context.Background()
	store, l, tc := newTestCoordinator(t)
	a := seedAccount(t, store, ledger.KindCreditCard, "0.00")
	b := seedAccount(t, store, ledger.KindChecking, "0.00")

	_, _, err := tc.Transfer(ctx, testOwner, a.ID, b.ID, dec("250.00"), time.Now())
	require.NoError(t, err)

	balA, err := l.Balance(ctx, testOwner, a.ID)
	require.NoError(t, err)
	assert.True(t, balA.Equal(dec("-250.00")))
}

func TestOpposingTransfersDoNotDeadlock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, l, tc := newTestCoordinator(t)
	a := seedAccount(t, store, ledger.KindChecking, "500.00")
	b := seedAccount(t, store, ledger.KindChecking, "500.00")

	const rounds = 100
	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			if _, _, err := tc.Transfer(ctx, testOwner, a.ID, b.ID, dec("1.00"), time.Now()); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			if _, _, err := tc.Transfer(ctx, testOwner, b.ID, a.ID, dec("1.00"), time.Now()); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())

	balA, err := l.Balance(ctx, testOwner, a.ID)
	require.NoError(t, err)
	balB, err := l.Balance(ctx, testOwner, b.ID)
	require.NoError(t, err)

	// Money is conserved across any interleaving.
	assert.True(t, balA.Add(balB).Equal(dec("1000.00")), "a=%s b=%s", balA, balB)
	assert.True(t, balA.Equal(dec("500.00")))
	assert.True(t, balB.Equal(dec("500.00")))
}

func TestDisjointPairsTransferInParallel(t *testing.T) {
	ctx := context.Background()
	store, l, tc := newTestCoordinator(t)

	a := seedAccount(t, store, ledger.KindChecking, "100.00")
	b := seedAccount(t, store, ledger.KindChecking, "100.00")
	c := seedAccount(t, store, ledger.KindChecking, "100.00")
	d := seedAccount(t, store, ledger.KindChecking, "100.00")

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, _, err := tc.Transfer(ctx, testOwner, a.ID, b.ID, dec("1.00"), time.Now())
			return err
		})
		g.Go(func() error {
			_, _, err := tc.Transfer(ctx, testOwner, c.ID, d.ID, dec("1.00"), time.Now())
			return err
		})
	}
	require.NoError(t, g.Wait())

	total := decimal.Zero
	for _, id := range []string{a.ID, b.ID, c.ID, d.ID} {
		bal, err := l.Balance(ctx, testOwner, id)
		require.NoError(t, err)
		total = total.Add(bal)
	}
	assert.True(t, total.Equal(dec("400.00")))
}
