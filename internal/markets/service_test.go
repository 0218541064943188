package markets_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leafsii/outcome-amm/internal/apperr"
	"github.com/leafsii/outcome-amm/internal/db/backends/memory"
	"github.com/leafsii/outcome-amm/internal/markets"
	"github.com/leafsii/outcome-amm/internal/resolution"
	"github.com/leafsii/outcome-amm/internal/settlement"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]*markets.Event
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[channel] = append(p.events[channel], message.(*markets.Event))
	return nil
}

func (p *recordingPublisher) types(channel string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events[channel] {
		out = append(out, e.Type)
	}
	return out
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify() { c.n++ }

type mapCache struct {
	mu            sync.Mutex
	views         map[uint64][]byte
	invalidations int
}

func (c *mapCache) GetMarketView(_ context.Context, id uint64, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.views[id]
	if !ok {
		return errors.New("miss")
	}
	return json.Unmarshal(data, dest)
}

func (c *mapCache) SetMarketView(_ context.Context, id uint64, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[id] = data
	return nil
}

func (c *mapCache) InvalidateMarket(_ context.Context, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, id)
	c.invalidations++
	return nil
}

type harness struct {
	svc       *markets.Service
	db        *memory.Database
	now       time.Time
	publisher *recordingPublisher
	notifier  *countingNotifier
	cache     *mapCache
	receipts  int
}

// funded accounts start with this much usdc in escrow
var funded = []string{"creator", "alice", "carol", "dave", "trader"}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		db:        memory.NewDatabase(),
		now:       epoch,
		publisher: &recordingPublisher{events: make(map[string][]*markets.Event)},
		notifier:  &countingNotifier{},
		cache:     &mapCache{views: make(map[uint64][]byte)},
	}
	cfg := markets.Config{
		Roles:                  markets.Roles{Governance: "gov", Oracle: "oracle", Treasury: "treasury", Custodian: "custodian"},
		Collateral:             map[string]int32{"usdc": 6},
		ValidityBond:           decimal.NewFromInt(10),
		DefaultChallengePeriod: time.Hour,
	}
	h.svc = markets.NewService(h.db, cfg, zap.NewNop().Sugar(),
		markets.WithClock(func() time.Time { return h.now }),
		markets.WithPublisher(h.publisher),
		markets.WithNotifier(h.notifier),
		markets.WithViewCache(h.cache),
		markets.WithLedger(h.db),
	)
	for _, account := range funded {
		h.fund(t, account, 1_000_000)
	}
	return h
}

func (h *harness) fund(t *testing.T, account string, amount int64) {
	t.Helper()
	h.receipts++
	res, err := h.svc.Deposit(context.Background(), "custodian", markets.DepositRequest{
		ReceiptID: fmt.Sprintf("rcpt-%d", h.receipts),
		Account:   account,
		Token:     "usdc",
		Amount:    dec(amount),
	})
	require.NoError(t, err)
	require.True(t, res.Credited)
}

func (h *harness) balance(t *testing.T, account string) decimal.Decimal {
	t.Helper()
	bal, err := h.db.Balance(context.Background(), account, "usdc")
	require.NoError(t, err)
	return bal
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func binaryRequest() markets.CreateMarketRequest {
	return markets.CreateMarketRequest{
		Description:     "Will it rain in Lisbon on March 2nd?",
		Outcomes:        2,
		OutcomeTags:     []resolution.OutcomeTag{resolution.CategoricalTag{Label: "YES"}, resolution.CategoricalTag{Label: "NO"}},
		CollateralToken: "usdc",
		SwapFee:         dec(200),
		EndTime:         epoch.Add(24 * time.Hour),
		ResolutionTime:  epoch.Add(48 * time.Hour),
		ValidityBond:    dec(10),
	}
}

func scalarRequest() markets.CreateMarketRequest {
	req := binaryRequest()
	req.Description = "Lisbon rainfall on March 2nd in mm"
	req.IsScalar = true
	req.ScalarMultiplier = dec(1)
	req.OutcomeTags = []resolution.OutcomeTag{
		resolution.NumericTag{Number: resolution.Number{Value: dec(0)}},
		resolution.NumericTag{Number: resolution.Number{Value: dec(100)}},
	}
	return req
}

func (h *harness) fundedMarket(t *testing.T, req markets.CreateMarketRequest) uint64 {
	t.Helper()
	ctx := context.Background()
	m, err := h.svc.CreateMarket(ctx, "creator", req)
	require.NoError(t, err)
	_, err = h.svc.AddLiquidity(ctx, "carol", m.ID, dec(1000), []decimal.Decimal{dec(1), dec(1)})
	require.NoError(t, err)
	return m.ID
}

func TestCreateMarketValidation(t *testing.T) {
	tests := []struct {
		name    string
		creator string
		mutate  func(r *markets.CreateMarketRequest)
		wantErr error
	}{
		{"unknown collateral", "creator", func(r *markets.CreateMarketRequest) { r.CollateralToken = "doge" }, markets.ErrUnknownCollateral},
		{"tag count", "creator", func(r *markets.CreateMarketRequest) { r.Outcomes = 3 }, markets.ErrTagCount},
		{"end in past", "creator", func(r *markets.CreateMarketRequest) { r.EndTime = epoch.Add(-time.Minute) }, markets.ErrEndTimeInPast},
		{"resolution before end", "creator", func(r *markets.CreateMarketRequest) { r.ResolutionTime = r.EndTime.Add(-time.Second) }, markets.ErrResolutionBeforeEnd},
		{"negative challenge period", "creator", func(r *markets.CreateMarketRequest) { r.ChallengePeriod = -time.Second }, markets.ErrChallengePeriod},
		{"fee too high", "creator", func(r *markets.CreateMarketRequest) { r.SwapFee = dec(10000) }, apperr.ErrValidation},
		{"bond too small", "creator", func(r *markets.CreateMarketRequest) { r.ValidityBond = dec(9) }, markets.ErrValidityBond},
		{"markup only description", "creator", func(r *markets.CreateMarketRequest) { r.Description = "<b> </b>" }, markets.ErrEmptyDescription},
		{"missing creator", "", func(r *markets.CreateMarketRequest) {}, markets.ErrMissingCaller},
		{"duplicate labels", "creator", func(r *markets.CreateMarketRequest) {
			r.OutcomeTags[1] = resolution.CategoricalTag{Label: "YES"}
		}, markets.ErrDuplicateTag},
		{"empty label", "creator", func(r *markets.CreateMarketRequest) {
			r.OutcomeTags[0] = resolution.CategoricalTag{Label: "  "}
		}, markets.ErrEmptyTag},
		{"markup label", "creator", func(r *markets.CreateMarketRequest) {
			r.OutcomeTags[0] = resolution.CategoricalTag{Label: "<b>YES</b>"}
		}, markets.ErrTagMarkup},
		{"script label", "creator", func(r *markets.CreateMarketRequest) {
			r.OutcomeTags[1] = resolution.CategoricalTag{Label: "NO<script>x</script>"}
		}, markets.ErrTagMarkup},
		{"scalar without multiplier", "creator", func(r *markets.CreateMarketRequest) {
			*r = scalarRequest()
			r.ScalarMultiplier = decimal.Zero
		}, markets.ErrScalarMultiplier},
		{"scalar with three tags", "creator", func(r *markets.CreateMarketRequest) {
			*r = scalarRequest()
			r.Outcomes = 3
			r.OutcomeTags = append(r.OutcomeTags, resolution.NumericTag{Number: resolution.Number{Value: dec(200)}})
		}, markets.ErrScalarTags},
		{"scalar with categorical tag", "creator", func(r *markets.CreateMarketRequest) {
			*r = scalarRequest()
			r.OutcomeTags[0] = resolution.CategoricalTag{Label: "low"}
		}, markets.ErrScalarTags},
		{"scalar positive over negative", "creator", func(r *markets.CreateMarketRequest) {
			*r = scalarRequest()
			r.OutcomeTags[1] = resolution.NumericTag{Number: resolution.Number{Value: dec(5), Negative: true}}
		}, apperr.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			req := binaryRequest()
			tt.mutate(&req)
			_, err := h.svc.CreateMarket(context.Background(), tt.creator, req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

			n, err := h.db.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestCreateMarket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := binaryRequest()
	req.Description = "<script>alert(1)</script>Will it <b>rain</b>?"
	req.Categories = []string{"weather", "<i></i>"}
	m, err := h.svc.CreateMarket(ctx, "creator", req)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), m.ID)
	assert.Equal(t, "Will it rain?", m.Description)
	assert.Equal(t, []string{"weather"}, m.Categories)
	assert.Equal(t, time.Hour, m.ChallengePeriod)
	assert.True(t, m.Pool.CollateralDenomination().Equal(dec(1_000_000)))
	assert.Equal(t, markets.StateOpen, m.State(h.now))

	second, err := h.svc.CreateMarket(ctx, "creator", scalarRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.ID)
	// bounds written without a multiplier inherit the market's
	upper := second.OutcomeTags[1].(resolution.NumericTag)
	assert.True(t, upper.Multiplier.Equal(dec(1)))

	assert.Equal(t, []string{markets.EventMarketCreated, markets.EventMarketCreated}, h.publisher.types(markets.ChannelMarkets))
	assert.Equal(t, []string{markets.EventMarketCreated}, h.publisher.types(markets.MarketChannel(1)))
}

func TestTradingAndGovernanceResolution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.fundedMarket(t, binaryRequest())

	trade, err := h.svc.Buy(ctx, "alice", id, markets.BuyRequest{Outcome: 0, CollateralIn: dec(100), MinSharesOut: dec(180)})
	require.NoError(t, err)
	assert.True(t, trade.Shares.Equal(dec(187)), trade.Shares.String())
	assert.True(t, trade.Fee.Equal(dec(2)))
	assert.Zero(t, h.notifier.n, "buys emit no transfers")

	sold, err := h.svc.Sell(ctx, "alice", id, markets.SellRequest{Outcome: 0, CollateralOut: dec(50), MaxSharesIn: dec(100)})
	require.NoError(t, err)
	assert.True(t, sold.Trade.Shares.Equal(dec(94)))
	assert.True(t, sold.Payable.Equal(dec(49)))
	assert.NotEmpty(t, sold.TransferID)
	assert.Equal(t, 1, h.notifier.n)

	pos, err := h.svc.Position(ctx, id, "alice")
	require.NoError(t, err)
	assert.True(t, pos.Shares[0].Equal(dec(93)))

	// trading stops at end time
	h.now = epoch.Add(24 * time.Hour)
	_, err = h.svc.Buy(ctx, "alice", id, markets.BuyRequest{Outcome: 1, CollateralIn: dec(10)})
	assert.ErrorIs(t, err, markets.ErrMarketClosed)
	_, err = h.svc.ClaimEarnings(ctx, "alice", id)
	assert.ErrorIs(t, err, markets.ErrNotFinalized)

	_, err = h.svc.ResolveMarket(ctx, "mallory", id, resolution.Valid([]decimal.Decimal{dec(1_000_000), dec(0)}))
	assert.ErrorIs(t, err, markets.ErrNotGovernance)
	_, err = h.svc.ResolveMarket(ctx, "gov", id, resolution.Valid([]decimal.Decimal{dec(1), dec(0)}))
	assert.ErrorIs(t, err, apperr.ErrPayoutSumMismatch)

	m, err := h.svc.ResolveMarket(ctx, "gov", id, resolution.Valid([]decimal.Decimal{dec(1_000_000), dec(0)}))
	require.NoError(t, err)
	assert.Equal(t, markets.StateFinalized, m.State(h.now))
	_, err = h.svc.ResolveMarket(ctx, "gov", id, resolution.Invalid())
	assert.ErrorIs(t, err, markets.ErrAlreadyFinalized)

	claim, err := h.svc.ClaimEarnings(ctx, "alice", id)
	require.NoError(t, err)
	assert.True(t, claim.Total.Equal(dec(93)))
	_, err = h.svc.ClaimEarnings(ctx, "alice", id)
	assert.ErrorIs(t, err, markets.ErrNoPayout)

	// the liquidity provider is exited automatically and paid fees
	lp, err := h.svc.ClaimEarnings(ctx, "carol", id)
	require.NoError(t, err)
	assert.True(t, lp.Payout.Equal(dec(955)), lp.Payout.String())
	assert.True(t, lp.Fees.Equal(dec(3)), lp.Fees.String())

	// everything deposited has been paid out
	transfers, err := h.db.ListTransfers(ctx, id)
	require.NoError(t, err)
	kinds := make([]settlement.Kind, 0, len(transfers))
	paid := decimal.Zero
	for _, tr := range transfers {
		kinds = append(kinds, tr.Kind)
		if tr.Kind != settlement.KindValidityBond {
			paid = paid.Add(tr.Amount)
		}
	}
	assert.Equal(t, []settlement.Kind{settlement.KindSell, settlement.KindValidityBond, settlement.KindClaim, settlement.KindClaim}, kinds)
	assert.True(t, paid.Equal(dec(1100)), paid.String())
	assert.Equal(t, "creator", transfers[1].Account)
}

func TestOracleResolution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.fundedMarket(t, scalarRequest())

	answer := resolution.NumericAnswer{Number: resolution.Number{Value: dec(25), Multiplier: dec(1)}}

	_, err := h.svc.SubmitOracleAnswer(ctx, "alice", id, answer)
	assert.ErrorIs(t, err, markets.ErrNotOracle)

	h.now = epoch.Add(30 * time.Hour)
	_, err = h.svc.SubmitOracleAnswer(ctx, "oracle", id, answer)
	assert.ErrorIs(t, err, markets.ErrNotEnded)
	_, err = h.svc.FinalizeMarket(ctx, "anyone", id)
	assert.ErrorIs(t, err, markets.ErrDataRequestNotFinalized)

	h.now = epoch.Add(48 * time.Hour)
	m, err := h.svc.SubmitOracleAnswer(ctx, "oracle", id, resolution.NumericAnswer{Number: resolution.Number{Value: dec(60), Multiplier: dec(1)}})
	require.NoError(t, err)
	assert.True(t, m.DataRequestFinalized)
	assert.False(t, m.Finalized)

	_, err = h.svc.FinalizeMarket(ctx, "anyone", id)
	assert.ErrorIs(t, err, markets.ErrChallengeWindowOpen)

	// corrected inside the window
	h.now = h.now.Add(30 * time.Minute)
	_, err = h.svc.SubmitOracleAnswer(ctx, "oracle", id, answer)
	require.NoError(t, err)

	h.now = h.now.Add(time.Hour)
	m, err = h.svc.FinalizeMarket(ctx, "anyone", id)
	require.NoError(t, err)
	require.Equal(t, resolution.PayoutValid, m.Payout.State())
	num := m.Payout.Numerator()
	assert.True(t, num[0].Equal(dec(750_000)), num[0].String())
	assert.True(t, num[1].Equal(dec(250_000)))

	_, err = h.svc.FinalizeMarket(ctx, "anyone", id)
	assert.ErrorIs(t, err, markets.ErrAlreadyFinalized)
	_, err = h.svc.SubmitOracleAnswer(ctx, "oracle", id, answer)
	assert.ErrorIs(t, err, markets.ErrAlreadyFinalized)

	claim, err := h.svc.ClaimEarnings(ctx, "carol", id)
	require.NoError(t, err)
	assert.True(t, claim.Total.Equal(dec(1000)), claim.Total.String())
	assert.Contains(t, h.publisher.types(markets.MarketChannel(id)), markets.EventOracleAnswer)
}

func TestInvalidResolutionAfterDisable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.fundedMarket(t, binaryRequest())

	_, err := h.svc.ResolveMarket(ctx, "gov", id, resolution.Invalid())
	assert.ErrorIs(t, err, apperr.ErrState, "open markets must be disabled first")

	_, err = h.svc.SetMarketEnabled(ctx, "alice", id, false)
	assert.ErrorIs(t, err, markets.ErrNotGovernance)
	m, err := h.svc.SetMarketEnabled(ctx, "gov", id, false)
	require.NoError(t, err)
	assert.Equal(t, markets.StateDisabled, m.State(h.now))

	_, err = h.svc.Buy(ctx, "alice", id, markets.BuyRequest{Outcome: 0, CollateralIn: dec(10)})
	assert.ErrorIs(t, err, markets.ErrMarketClosed)
	_, err = h.svc.BurnOutcomeTokensRedeemCollateral(ctx, "carol", id, dec(1))
	assert.ErrorIs(t, err, markets.ErrMarketClosed)

	_, err = h.svc.ResolveMarket(ctx, "gov", id, resolution.Invalid())
	require.NoError(t, err)

	claim, err := h.svc.ClaimEarnings(ctx, "carol", id)
	require.NoError(t, err)
	assert.True(t, claim.Total.Equal(dec(1000)))

	transfers, err := h.db.ListTransfers(ctx, id)
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, settlement.KindValidityBond, transfers[0].Kind)
	assert.Equal(t, "treasury", transfers[0].Account)
}

func TestFailedOperationLeavesMarketUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.fundedMarket(t, binaryRequest())

	before, err := h.db.Load(ctx, id)
	require.NoError(t, err)
	published := len(h.publisher.types(markets.MarketChannel(id)))

	_, err = h.svc.Buy(ctx, "alice", id, markets.BuyRequest{Outcome: 0, CollateralIn: dec(100), MinSharesOut: dec(188)})
	assert.ErrorIs(t, err, apperr.ErrSlippageExceeded)
	_, err = h.svc.Sell(ctx, "alice", id, markets.SellRequest{Outcome: 0, CollateralOut: dec(10), MaxSharesIn: dec(100)})
	assert.Equal(t, apperr.KindInsufficientBalance, apperr.KindOf(err))
	_, err = h.svc.Buy(ctx, "alice", 77, markets.BuyRequest{Outcome: 0, CollateralIn: dec(100)})
	assert.ErrorIs(t, err, markets.ErrMarketNotFound)
	_, err = h.svc.Buy(ctx, "mallory", id, markets.BuyRequest{Outcome: 0, CollateralIn: dec(100)})
	assert.ErrorIs(t, err, settlement.ErrInsufficientFunds)

	after, err := h.db.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Pool.Reserves(), after.Pool.Reserves())
	assert.Equal(t, before.Nonce, after.Nonce)
	assert.Len(t, h.publisher.types(markets.MarketChannel(id)), published)
}

func TestLiquidityAndRedeem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.fundedMarket(t, binaryRequest())

	_, err := h.svc.AddLiquidity(ctx, "dave", id, dec(500), []decimal.Decimal{dec(1), dec(2)})
	assert.ErrorIs(t, err, apperr.ErrValidation, "weights only on the first deposit")
	added, err := h.svc.AddLiquidity(ctx, "dave", id, dec(500), nil)
	require.NoError(t, err)
	assert.True(t, added.Change.PoolTokens.Equal(dec(500)))

	redeemed, err := h.svc.ExitPool(ctx, "dave", id, dec(500))
	require.NoError(t, err)
	assert.Empty(t, redeemed.TransferID, "no fees accrued")

	out, err := h.svc.BurnOutcomeTokensRedeemCollateral(ctx, "dave", id, dec(500))
	require.NoError(t, err)
	assert.True(t, out.Collateral.Equal(dec(500)))
	assert.NotEmpty(t, out.TransferID)

	tr, err := h.db.GetTransfer(ctx, out.TransferID)
	require.NoError(t, err)
	assert.Equal(t, settlement.KindRedeem, tr.Kind)
	assert.Equal(t, "dave", tr.Account)
}

func TestGetMarketCachesViews(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.fundedMarket(t, binaryRequest())

	v, err := h.svc.GetMarket(ctx, id)
	require.NoError(t, err)
	require.Len(t, v.SpotPrices, 2)
	assert.True(t, v.SpotPrices[0].Equal(v.SpotPrices[1]))
	assert.Contains(t, h.cache.views, id)

	cached, err := h.svc.GetMarket(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, v.Reserves, cached.Reserves)
	assert.Equal(t, "YES", cached.OutcomeTags[0].String())

	_, err = h.svc.Buy(ctx, "alice", id, markets.BuyRequest{Outcome: 0, CollateralIn: dec(100)})
	require.NoError(t, err)
	assert.NotContains(t, h.cache.views, id)

	views, total, err := h.svc.ListMarkets(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
	require.Len(t, views, 1)
	assert.True(t, views[0].SpotPrices[0].GreaterThan(views[0].SpotPrices[1]))

	_, err = h.svc.GetMarket(ctx, 5)
	assert.True(t, markets.IsNotFound(err))
}

func TestConcurrentTradesSerializePerMarket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.fundedMarket(t, binaryRequest())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.Buy(ctx, "trader", id, markets.BuyRequest{Outcome: i % 2, CollateralIn: dec(10)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	m, err := h.db.Load(ctx, id)
	require.NoError(t, err)
	// a 10 unit buy at 2% pays no fee, so every outcome is backed by 1000 + 20*10
	held := m.Pool.ShareBalances("trader")
	for i, r := range m.Pool.Reserves() {
		assert.True(t, r.Add(held[i]).Equal(dec(1200)), "outcome %d backing", i)
	}
}

func TestCollateralComesFromEscrow(t *testing.T) {
	weights := []decimal.Decimal{dec(1), dec(1)}
	tests := []struct {
		name string
		run  func(h *harness, id uint64) error
	}{
		{"buy", func(h *harness, id uint64) error {
			_, err := h.svc.Buy(context.Background(), "mallory", id, markets.BuyRequest{Outcome: 0, CollateralIn: dec(100)})
			return err
		}},
		{"add liquidity", func(h *harness, id uint64) error {
			_, err := h.svc.AddLiquidity(context.Background(), "mallory", id, dec(1_000_000), nil)
			return err
		}},
		{"create market with bond", func(h *harness, _ uint64) error {
			_, err := h.svc.CreateMarket(context.Background(), "mallory", binaryRequest())
			return err
		}},
		{"seed a fresh market", func(h *harness, _ uint64) error {
			m, err := h.svc.CreateMarket(context.Background(), "creator", binaryRequest())
			if err != nil {
				return err
			}
			_, err = h.svc.AddLiquidity(context.Background(), "mallory", m.ID, dec(1_000_000), weights)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			id := h.fundedMarket(t, binaryRequest())
			before, err := h.db.Load(ctx, id)
			require.NoError(t, err)

			err = tt.run(h, id)
			require.Error(t, err)
			assert.ErrorIs(t, err, settlement.ErrInsufficientFunds)
			assert.Equal(t, apperr.KindInsufficientBalance, apperr.KindOf(err))

			after, err := h.db.Load(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, before.Pool.Reserves(), after.Pool.Reserves())
			assert.True(t, after.Pool.LPBalance("mallory").IsZero())

			// nothing to withdraw without having paid in
			_, err = h.svc.ExitPool(ctx, "mallory", id, dec(1_000_000))
			assert.Error(t, err)
			_, err = h.svc.BurnOutcomeTokensRedeemCollateral(ctx, "mallory", id, dec(1_000_000))
			assert.Error(t, err)
			due, err := h.db.Due(ctx, h.now.Add(time.Hour), 0)
			require.NoError(t, err)
			for _, tr := range due {
				assert.NotEqual(t, "mallory", tr.Account)
			}
		})
	}
}

func TestEscrowBalanceFollowsTrades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.fundedMarket(t, binaryRequest())
	h.fund(t, "erin", 150)

	_, err := h.svc.Buy(ctx, "erin", id, markets.BuyRequest{Outcome: 0, CollateralIn: dec(100)})
	require.NoError(t, err)
	assert.True(t, h.balance(t, "erin").Equal(dec(50)))

	pos, err := h.svc.Position(ctx, id, "erin")
	require.NoError(t, err)
	_, err = h.svc.Buy(ctx, "erin", id, markets.BuyRequest{Outcome: 1, CollateralIn: dec(60)})
	assert.ErrorIs(t, err, settlement.ErrInsufficientFunds)
	assert.True(t, h.balance(t, "erin").Equal(dec(50)), "failed trade spends nothing")
	again, err := h.svc.Position(ctx, id, "erin")
	require.NoError(t, err)
	assert.Equal(t, pos.Shares, again.Shares)

	// creation takes the bond and liquidity takes the full deposit
	assert.True(t, h.balance(t, "creator").Equal(dec(1_000_000-10)))
	assert.True(t, h.balance(t, "carol").Equal(dec(1_000_000-1000)))

	// selling pays out through the outbox, not back into escrow
	sold, err := h.svc.Sell(ctx, "erin", id, markets.SellRequest{Outcome: 0, CollateralOut: dec(10), MaxSharesIn: dec(100)})
	require.NoError(t, err)
	assert.NotEmpty(t, sold.TransferID)
	assert.True(t, h.balance(t, "erin").Equal(dec(50)))
}

func TestDeposit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		caller  string
		req     markets.DepositRequest
		wantErr error
	}{
		{"not custodian", "alice", markets.DepositRequest{ReceiptID: "r", Account: "alice", Token: "usdc", Amount: dec(5)}, markets.ErrNotCustodian},
		{"unknown token", "custodian", markets.DepositRequest{ReceiptID: "r", Account: "alice", Token: "doge", Amount: dec(5)}, markets.ErrUnknownCollateral},
		{"missing receipt", "custodian", markets.DepositRequest{Account: "alice", Token: "usdc", Amount: dec(5)}, apperr.ErrValidation},
		{"zero amount", "custodian", markets.DepositRequest{ReceiptID: "r", Account: "alice", Token: "usdc", Amount: dec(0)}, apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Deposit(ctx, tt.caller, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	req := markets.DepositRequest{ReceiptID: "bank-77", Account: "frank", Token: "usdc", Amount: dec(40)}
	res, err := h.svc.Deposit(ctx, "custodian", req)
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.True(t, res.Balance.Equal(dec(40)))

	res, err = h.svc.Deposit(ctx, "custodian", req)
	require.NoError(t, err)
	assert.False(t, res.Credited, "receipts are applied once")
	assert.True(t, res.Balance.Equal(dec(40)))

	balances, err := h.svc.Balances(ctx, "frank")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.True(t, balances[0].Amount.Equal(dec(40)))

	bare := markets.NewService(memory.NewDatabase(), markets.Config{}, nil)
	_, err = bare.Deposit(ctx, "custodian", req)
	assert.ErrorIs(t, err, markets.ErrNoLedger)
}

func TestCategoricalLabelsResolveVerbatim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := binaryRequest()
	req.OutcomeTags = []resolution.OutcomeTag{resolution.CategoricalTag{Label: "A&B"}, resolution.CategoricalTag{Label: "  Yes > No "}}
	id := h.fundedMarket(t, req)

	m, err := h.db.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "A&B", m.OutcomeTags[0].String())
	assert.Equal(t, "Yes > No", m.OutcomeTags[1].String())

	h.now = req.ResolutionTime
	_, err = h.svc.SubmitOracleAnswer(ctx, "oracle", id, resolution.CategoricalAnswer{Label: "A&B"})
	require.NoError(t, err)
	h.now = h.now.Add(time.Hour)
	m, err = h.svc.FinalizeMarket(ctx, "anyone", id)
	require.NoError(t, err)
	require.Equal(t, resolution.PayoutValid, m.Payout.State())
	num := m.Payout.Numerator()
	assert.True(t, num[0].Equal(dec(1_000_000)), num[0].String())
	assert.True(t, num[1].IsZero())
}

func TestGetMarketStateFollowsClock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.fundedMarket(t, binaryRequest())

	v, err := h.svc.GetMarket(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, markets.StateOpen, v.State)
	require.Contains(t, h.cache.views, id)

	// no commit happens at end time, so the cached view outlives it
	h.now = epoch.Add(24 * time.Hour)
	v, err = h.svc.GetMarket(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, h.cache.views, id)
	assert.Equal(t, markets.StateAwaitingResolution, v.State)

	_, err = h.svc.ResolveMarket(ctx, "gov", id, resolution.Invalid())
	require.NoError(t, err)
	v, err = h.svc.GetMarket(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, markets.StateFinalized, v.State)
	v, err = h.svc.GetMarket(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, markets.StateFinalized, v.State, "cached finalized view stays finalized")
}
