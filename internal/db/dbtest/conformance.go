// Package dbtest provides conformance tests for database backends.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/outcome-amm/internal/amm"
	"github.com/leafsii/outcome-amm/internal/apperr"
	"github.com/leafsii/outcome-amm/internal/markets"
	"github.com/leafsii/outcome-amm/internal/resolution"
	"github.com/leafsii/outcome-amm/internal/settlement"
)

// Store is what every backend implements.
type Store interface {
	markets.Store
	settlement.Outbox
	settlement.Ledger
	Close() error
}

// StoreFactory creates a fresh, empty Store for one test.
type StoreFactory func(t *testing.T) Store

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// RunConformanceTests runs all conformance tests against a backend.
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, store Store)
	}{
		{"CreateLoad", testCreateLoad},
		{"LoadReturnsCopy", testLoadReturnsCopy},
		{"CommitWithTransfers", testCommitWithTransfers},
		{"CommitUnknownMarket", testCommitUnknownMarket},
		{"ListCount", testListCount},
		{"OutboxLifecycle", testOutboxLifecycle},
		{"CreditIdempotent", testCreditIdempotent},
		{"CommitDebitsEscrow", testCommitDebitsEscrow},
		{"CreateDebitsBond", testCreateDebitsBond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tt.test(t, store)
		})
	}
}

// NewMarket builds an unsaved binary market with an empty pool.
func NewMarket(t *testing.T, creator string) *markets.Market {
	t.Helper()
	pool, err := amm.NewPool(2, decimal.New(1, 6), decimal.NewFromInt(200))
	require.NoError(t, err)
	return &markets.Market{
		Creator:         creator,
		Description:     "Will it rain in Lisbon on March 1st?",
		Categories:      []string{"weather"},
		CollateralToken: "usdc",
		EndTime:         epoch.Add(24 * time.Hour),
		ResolutionTime:  epoch.Add(48 * time.Hour),
		Pool:            pool,
		OutcomeTags:     resolution.Tags{resolution.CategoricalTag{Label: "YES"}, resolution.CategoricalTag{Label: "NO"}},
		Payout:          resolution.Unresolved(),
		PendingPayout:   resolution.Unresolved(),
		Enabled:         true,
		ChallengePeriod: time.Hour,
		ValidityBond:    decimal.NewFromInt(10),
		CreatedAt:       epoch,
	}
}

func transfer(t *testing.T, m *markets.Market, account string, amount int64, kind settlement.Kind, at time.Time) settlement.Transfer {
	t.Helper()
	m.Nonce++
	tr, err := settlement.NewTransfer(m.ID, m.Nonce, account, m.CollateralToken, decimal.NewFromInt(amount), kind, at)
	require.NoError(t, err)
	return tr
}

func testCreateLoad(t *testing.T, store Store) {
	ctx := context.Background()

	first := NewMarket(t, "alice")
	id, err := store.Create(ctx, first, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)

	second := NewMarket(t, "bob")
	id, err = store.Create(ctx, second, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, uint64(1), second.ID)

	got, err := store.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Creator)
	assert.Equal(t, "Will it rain in Lisbon on March 1st?", got.Description)
	assert.True(t, got.EndTime.Equal(second.EndTime))
	assert.Equal(t, 2, got.Pool.Outcomes())
	assert.Equal(t, "NO", got.OutcomeTags[1].String())
	assert.Equal(t, resolution.PayoutUnresolved, got.Payout.State())
	assert.Equal(t, time.Hour, got.ChallengePeriod)
	assert.True(t, got.ValidityBond.Equal(decimal.NewFromInt(10)))

	_, err = store.Load(ctx, 99)
	assert.ErrorIs(t, err, markets.ErrMarketNotFound)
}

func testLoadReturnsCopy(t *testing.T, store Store) {
	ctx := context.Background()
	id, err := store.Create(ctx, NewMarket(t, "alice"), nil)
	require.NoError(t, err)

	m, err := store.Load(ctx, id)
	require.NoError(t, err)
	_, err = m.Pool.AddLiquidity("alice", decimal.NewFromInt(1000), []decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(1)})
	require.NoError(t, err)

	again, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.True(t, again.Pool.LPSupply().IsZero(), "uncommitted changes must not leak")
}

func testCommitWithTransfers(t *testing.T, store Store) {
	ctx := context.Background()
	id, err := store.Create(ctx, NewMarket(t, "alice"), nil)
	require.NoError(t, err)

	m, err := store.Load(ctx, id)
	require.NoError(t, err)
	_, err = m.Pool.AddLiquidity("alice", decimal.NewFromInt(1000), []decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(1)})
	require.NoError(t, err)
	m.Finalized = true
	m.Payout = resolution.Invalid()

	transfers := []settlement.Transfer{
		transfer(t, m, "alice", 40, settlement.KindClaim, epoch),
		transfer(t, m, "treasury", 10, settlement.KindValidityBond, epoch),
	}
	require.NoError(t, store.Commit(ctx, m, nil, transfers))
	// replaying the same transfers is a no-op
	require.NoError(t, store.Commit(ctx, m, nil, transfers))

	got, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Pool.LPSupply().Equal(decimal.NewFromInt(1000)))
	assert.True(t, got.Finalized)
	assert.Equal(t, resolution.PayoutInvalid, got.Payout.State())
	assert.Equal(t, uint64(2), got.Nonce)

	listed, err := store.ListTransfers(ctx, id)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, transfers[0].ID, listed[0].ID)
	assert.Equal(t, settlement.KindValidityBond, listed[1].Kind)
	assert.True(t, listed[0].Amount.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, settlement.StatusPending, listed[0].Status)
}

func testCommitUnknownMarket(t *testing.T, store Store) {
	m := NewMarket(t, "alice")
	m.ID = 42
	err := store.Commit(context.Background(), m, nil, nil)
	assert.ErrorIs(t, err, markets.ErrMarketNotFound)
}

func testListCount(t *testing.T, store Store) {
	ctx := context.Background()
	for _, creator := range []string{"alice", "bob", "carol"} {
		_, err := store.Create(ctx, NewMarket(t, creator), nil)
		require.NoError(t, err)
	}

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	all, err := store.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "carol", all[2].Creator)

	page, err := store.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, uint64(1), page[0].ID)

	empty, err := store.List(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testOutboxLifecycle(t *testing.T, store Store) {
	ctx := context.Background()
	id, err := store.Create(ctx, NewMarket(t, "alice"), nil)
	require.NoError(t, err)
	m, err := store.Load(ctx, id)
	require.NoError(t, err)

	first := transfer(t, m, "alice", 5, settlement.KindSell, epoch)
	second := transfer(t, m, "bob", 7, settlement.KindRedeem, epoch.Add(time.Second))
	require.NoError(t, store.Commit(ctx, m, nil, []settlement.Transfer{first, second}))

	due, err := store.Due(ctx, epoch, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, first.ID, due[0].ID)

	due, err = store.Due(ctx, epoch.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, first.ID, due[0].ID, "oldest first")

	due, err = store.Due(ctx, epoch.Add(time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	// retry later
	retryAt := epoch.Add(time.Hour)
	require.NoError(t, store.MarkFailed(ctx, first.ID, 1, "ledger down", retryAt))
	got, err := store.GetTransfer(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "ledger down", got.LastError)
	assert.True(t, got.NextAttemptAt.Equal(retryAt))

	due, err = store.Due(ctx, epoch.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, second.ID, due[0].ID)

	require.NoError(t, store.MarkDelivered(ctx, second.ID, epoch.Add(2*time.Minute)))
	got, err = store.GetTransfer(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusDelivered, got.Status)
	assert.Equal(t, 1, got.Attempts)

	// give up
	require.NoError(t, store.MarkFailed(ctx, first.ID, 5, "ledger down", time.Time{}))
	got, err = store.GetTransfer(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusDead, got.Status)

	due, err = store.Due(ctx, epoch.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	_, err = store.GetTransfer(ctx, "missing")
	assert.ErrorIs(t, err, settlement.ErrNotFound)
	assert.ErrorIs(t, store.MarkDelivered(ctx, "missing", epoch), settlement.ErrNotFound)
}

func deposit(t *testing.T, store Store, id, account string, amount int64) {
	t.Helper()
	d, err := settlement.NewDeposit(id, account, "usdc", decimal.NewFromInt(amount), epoch)
	require.NoError(t, err)
	credited, err := store.Credit(context.Background(), d)
	require.NoError(t, err)
	require.True(t, credited)
}

func testCreditIdempotent(t *testing.T, store Store) {
	ctx := context.Background()
	deposit(t, store, "rcpt-1", "alice", 500)
	deposit(t, store, "rcpt-2", "alice", 250)

	d, err := settlement.NewDeposit("rcpt-1", "alice", "usdc", decimal.NewFromInt(500), epoch)
	require.NoError(t, err)
	credited, err := store.Credit(ctx, d)
	require.NoError(t, err)
	assert.False(t, credited, "a receipt is credited once")

	bal, err := store.Balance(ctx, "alice", "usdc")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(750)), "got %s", bal)

	none, err := store.Balance(ctx, "bob", "usdc")
	require.NoError(t, err)
	assert.True(t, none.IsZero())

	all, err := store.Balances(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "usdc", all[0].Token)
	assert.True(t, all[0].Amount.Equal(decimal.NewFromInt(750)))
}

func testCommitDebitsEscrow(t *testing.T, store Store) {
	ctx := context.Background()
	id, err := store.Create(ctx, NewMarket(t, "alice"), nil)
	require.NoError(t, err)
	deposit(t, store, "rcpt-1", "bob", 1000)

	m, err := store.Load(ctx, id)
	require.NoError(t, err)
	_, err = m.Pool.AddLiquidity("bob", decimal.NewFromInt(600), []decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(1)})
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, m, []settlement.Debit{{Account: "bob", Token: "usdc", Amount: decimal.NewFromInt(600)}}, nil))

	bal, err := store.Balance(ctx, "bob", "usdc")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(400)), "got %s", bal)

	tests := []struct {
		name   string
		debits []settlement.Debit
	}{
		{"over balance", []settlement.Debit{{Account: "bob", Token: "usdc", Amount: decimal.NewFromInt(401)}}},
		{"split over balance", []settlement.Debit{
			{Account: "bob", Token: "usdc", Amount: decimal.NewFromInt(300)},
			{Account: "bob", Token: "usdc", Amount: decimal.NewFromInt(300)},
		}},
		{"other token", []settlement.Debit{{Account: "bob", Token: "dai", Amount: decimal.NewFromInt(1)}}},
		{"unfunded account", []settlement.Debit{{Account: "mallory", Token: "usdc", Amount: decimal.NewFromInt(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := store.Load(ctx, id)
			require.NoError(t, err)
			_, err = m.Pool.AddLiquidity("bob", decimal.NewFromInt(100), nil)
			require.NoError(t, err)
			tr := transfer(t, m, "bob", 1, settlement.KindExitFees, epoch)

			err = store.Commit(ctx, m, tt.debits, []settlement.Transfer{tr})
			assert.ErrorIs(t, err, settlement.ErrInsufficientFunds)
			assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)

			got, err := store.Load(ctx, id)
			require.NoError(t, err)
			assert.True(t, got.Pool.LPSupply().Equal(decimal.NewFromInt(600)), "market unchanged")
			_, err = store.GetTransfer(ctx, tr.ID)
			assert.ErrorIs(t, err, settlement.ErrNotFound, "transfers unchanged")
			bal, err := store.Balance(ctx, "bob", "usdc")
			require.NoError(t, err)
			assert.True(t, bal.Equal(decimal.NewFromInt(400)), "balance unchanged, got %s", bal)
		})
	}
}

func testCreateDebitsBond(t *testing.T, store Store) {
	ctx := context.Background()
	bond := []settlement.Debit{{Account: "alice", Token: "usdc", Amount: decimal.NewFromInt(10)}}

	_, err := store.Create(ctx, NewMarket(t, "alice"), bond)
	assert.ErrorIs(t, err, settlement.ErrInsufficientFunds)
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	deposit(t, store, "rcpt-1", "alice", 15)
	id, err := store.Create(ctx, NewMarket(t, "alice"), bond)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)

	bal, err := store.Balance(ctx, "alice", "usdc")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(5)), "got %s", bal)
}
