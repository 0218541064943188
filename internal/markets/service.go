package markets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/leafsii/outcome-amm/internal/amm"
	"github.com/leafsii/outcome-amm/internal/settlement"
)

// Roles names the privileged accounts.
type Roles struct {
	Governance string
	Oracle     string
	// Treasury receives validity bonds of markets resolved invalid.
	Treasury string
	// Custodian reports collateral received from outside as deposits.
	Custodian string
}

type Config struct {
	Roles Roles
	// Collateral maps whitelisted token IDs to their decimals.
	Collateral             map[string]int32
	ValidityBond           decimal.Decimal
	DefaultChallengePeriod time.Duration
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithViewCache(c ViewCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLedger enables deposits and balance lookups. Escrow debits are
// enforced by the Store either way.
func WithLedger(l settlement.Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithPoolOptions applies pool options to every market the service loads.
func WithPoolOptions(opts ...amm.Option) Option {
	return func(s *Service) { s.poolOpts = append(s.poolOpts, opts...) }
}

// Service runs every market operation. Each mutation loads a private copy
// of the market under a per-market lock, applies the change and commits it
// with its settlement transfers in one store call.
type Service struct {
	store  Store
	cfg    Config
	logger *zap.SugaredLogger

	now       func() time.Time
	cache     ViewCache
	publisher Publisher
	notifier  Notifier
	recorder  Recorder
	ledger    settlement.Ledger
	poolOpts  []amm.Option

	locks     *keyedMutex
	sf        singleflight.Group
	sanitizer *bluemonday.Policy
}

func NewService(store Store, cfg Config, logger *zap.SugaredLogger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.ValidityBond.IsNegative() {
		cfg.ValidityBond = decimal.Zero
	}
	s := &Service{
		store:     store,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     newKeyedMutex(),
		sanitizer: bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// effects collects what a mutation commits alongside the market: escrow
// it spends and transfers it pays out.
type effects struct {
	debits    []settlement.Debit
	transfers []settlement.Transfer
}

// debit spends amount of m's collateral from account's escrow.
func (fx *effects) debit(m *Market, account string, amount decimal.Decimal) {
	fx.debits = append(fx.debits, settlement.Debit{Account: account, Token: m.CollateralToken, Amount: amount})
}

// mutation is applied to a loaded market and returns the event to publish
// once its effects are committed.
type mutation func(m *Market, fx *effects, now time.Time) (*Event, error)

func (s *Service) mutate(ctx context.Context, op string, id uint64, fn mutation) (*Market, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	m, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Pool.Apply(s.poolOpts...)

	now := s.now()
	var fx effects
	event, err := fn(m, &fx, now)
	if err != nil {
		s.record(ctx, op, false)
		return nil, err
	}
	if err := s.store.Commit(ctx, m, fx.debits, fx.transfers); err != nil {
		s.record(ctx, op, false)
		if errors.Is(err, settlement.ErrInsufficientFunds) {
			return nil, err
		}
		s.logger.Errorw("Failed to commit market", "market", id, "op", op, "error", err)
		return nil, fmt.Errorf("commit market %d: %w", id, err)
	}
	s.record(ctx, op, true)

	if len(fx.transfers) > 0 && s.notifier != nil {
		s.notifier.Notify()
	}
	s.afterCommit(ctx, id, event, now)
	return m, nil
}

func (s *Service) afterCommit(ctx context.Context, id uint64, event *Event, now time.Time) {
	if s.cache != nil {
		if err := s.cache.InvalidateMarket(ctx, id); err != nil {
			s.logger.Warnw("Failed to invalidate market view", "market", id, "error", err)
		}
	}
	if event == nil || s.publisher == nil {
		return
	}
	event.MarketID = id
	event.At = now
	for _, channel := range []string{ChannelMarkets, MarketChannel(id)} {
		if err := s.publisher.Publish(ctx, channel, event); err != nil {
			s.logger.Warnw("Failed to publish market event", "market", id, "type", event.Type, "error", err)
		}
	}
}

func (s *Service) record(ctx context.Context, op string, success bool) {
	if s.recorder != nil {
		s.recorder.RecordMarketOperation(ctx, op, success)
	}
}

// pay queues the next outbox entry for m.
func (s *Service) pay(m *Market, fx *effects, account string, amount decimal.Decimal, kind settlement.Kind, now time.Time) (settlement.Transfer, error) {
	tr, err := settlement.NewTransfer(m.ID, m.nextNonce(), account, m.CollateralToken, amount, kind, now)
	if err != nil {
		return settlement.Transfer{}, err
	}
	fx.transfers = append(fx.transfers, tr)
	return tr, nil
}

func requireOpen(m *Market, now time.Time) error {
	if state := m.State(now); state != StateOpen {
		return fmt.Errorf("%w: market %d is %s", ErrMarketClosed, m.ID, state)
	}
	return nil
}

// CreateMarket validates the request, takes the validity bond from the
// creator's escrow and stores a new market with an empty pool.
func (s *Service) CreateMarket(ctx context.Context, creator string, req CreateMarketRequest) (*Market, error) {
	now := s.now()
	m, err := s.newMarket(creator, req, now)
	if err != nil {
		s.record(ctx, "create_market", false)
		return nil, err
	}
	var bond []settlement.Debit
	if m.ValidityBond.IsPositive() {
		bond = append(bond, settlement.Debit{Account: creator, Token: m.CollateralToken, Amount: m.ValidityBond})
	}
	id, err := s.store.Create(ctx, m, bond)
	if err != nil {
		s.record(ctx, "create_market", false)
		if errors.Is(err, settlement.ErrInsufficientFunds) {
			return nil, err
		}
		return nil, fmt.Errorf("create market: %w", err)
	}
	m.ID = id
	s.record(ctx, "create_market", true)
	s.logger.Infow("Market created", "market", id, "creator", creator, "outcomes", req.Outcomes, "collateral", req.CollateralToken, "scalar", req.IsScalar, "bond", m.ValidityBond)

	s.afterCommit(ctx, id, &Event{Type: EventMarketCreated, Account: creator, Data: m.View(now)}, now)
	return m, nil
}

type BuyRequest struct {
	Outcome      int
	CollateralIn decimal.Decimal
	MinSharesOut decimal.Decimal
}

// Buy trades escrowed collateral for outcome shares.
func (s *Service) Buy(ctx context.Context, caller string, id uint64, req BuyRequest) (amm.Trade, error) {
	var trade amm.Trade
	_, err := s.mutate(ctx, "buy", id, func(m *Market, fx *effects, now time.Time) (*Event, error) {
		if err := requireOpen(m, now); err != nil {
			return nil, err
		}
		fx.debit(m, caller, req.CollateralIn)
		t, err := m.Pool.Buy(caller, req.CollateralIn, req.Outcome, req.MinSharesOut)
		if err != nil {
			return nil, err
		}
		trade = t
		s.logger.Infow("Shares bought", "market", id, "account", caller, "outcome", t.Outcome, "collateral", t.Collateral, "shares", t.Shares, "fee", t.Fee)
		return &Event{Type: EventTrade, Account: caller, Data: tradeEvent("buy", t)}, nil
	})
	return trade, err
}

type SellRequest struct {
	Outcome       int
	CollateralOut decimal.Decimal
	MaxSharesIn   decimal.Decimal
}

type SellResult struct {
	Trade amm.Trade
	// Payable is the collateral owed to the seller after the fee.
	Payable    decimal.Decimal
	TransferID string
}

func (s *Service) Sell(ctx context.Context, caller string, id uint64, req SellRequest) (SellResult, error) {
	var res SellResult
	_, err := s.mutate(ctx, "sell", id, func(m *Market, fx *effects, now time.Time) (*Event, error) {
		if err := requireOpen(m, now); err != nil {
			return nil, err
		}
		t, err := m.Pool.Sell(caller, req.CollateralOut, req.Outcome, req.MaxSharesIn)
		if err != nil {
			return nil, err
		}
		res = SellResult{Trade: t, Payable: t.Collateral.Sub(t.Fee)}
		if res.Payable.IsPositive() {
			tr, err := s.pay(m, fx, caller, res.Payable, settlement.KindSell, now)
			if err != nil {
				return nil, err
			}
			res.TransferID = tr.ID
		}
		s.logger.Infow("Shares sold", "market", id, "account", caller, "outcome", t.Outcome, "collateral", t.Collateral, "shares", t.Shares, "fee", t.Fee)
		return &Event{Type: EventTrade, Account: caller, Data: tradeEvent("sell", t)}, nil
	})
	return res, err
}

type LiquidityResult struct {
	Change     amm.LiquidityChange
	TransferID string
}

// AddLiquidity funds the pool from the caller's escrow. Weights are
// required for the first deposit and rejected afterwards.
func (s *Service) AddLiquidity(ctx context.Context, caller string, id uint64, totalIn decimal.Decimal, weights []decimal.Decimal) (LiquidityResult, error) {
	var res LiquidityResult
	_, err := s.mutate(ctx, "add_liquidity", id, func(m *Market, fx *effects, now time.Time) (*Event, error) {
		if err := requireOpen(m, now); err != nil {
			return nil, err
		}
		fx.debit(m, caller, totalIn)
		change, err := m.Pool.AddLiquidity(caller, totalIn, weights)
		if err != nil {
			return nil, err
		}
		res.Change = change
		s.logger.Infow("Liquidity added", "market", id, "account", caller, "collateral", totalIn, "poolTokens", change.PoolTokens)
		return &Event{Type: EventLiquidity, Account: caller, Data: liquidityEvent("add", totalIn, change)}, nil
	})
	return res, err
}

// ExitPool burns pool tokens for their share of every reserve and pays out
// accrued fees. After the market closes, ClaimEarnings exits instead.
func (s *Service) ExitPool(ctx context.Context, caller string, id uint64, lpIn decimal.Decimal) (LiquidityResult, error) {
	var res LiquidityResult
	_, err := s.mutate(ctx, "exit_pool", id, func(m *Market, fx *effects, now time.Time) (*Event, error) {
		if err := requireOpen(m, now); err != nil {
			return nil, err
		}
		change, err := m.Pool.ExitPool(caller, lpIn)
		if err != nil {
			return nil, err
		}
		res.Change = change
		if change.FeesEarned.IsPositive() {
			tr, err := s.pay(m, fx, caller, change.FeesEarned, settlement.KindExitFees, now)
			if err != nil {
				return nil, err
			}
			res.TransferID = tr.ID
		}
		s.logger.Infow("Liquidity removed", "market", id, "account", caller, "poolTokens", lpIn, "fees", change.FeesEarned)
		return &Event{Type: EventLiquidity, Account: caller, Data: liquidityEvent("exit", decimal.Zero, change)}, nil
	})
	return res, err
}

type RedeemResult struct {
	Collateral decimal.Decimal
	TransferID string
}

// BurnOutcomeTokensRedeemCollateral turns complete sets back into
// collateral while the market is open.
func (s *Service) BurnOutcomeTokensRedeemCollateral(ctx context.Context, caller string, id uint64, toBurn decimal.Decimal) (RedeemResult, error) {
	var res RedeemResult
	_, err := s.mutate(ctx, "redeem", id, func(m *Market, fx *effects, now time.Time) (*Event, error) {
		if err := requireOpen(m, now); err != nil {
			return nil, err
		}
		out, err := m.Pool.BurnOutcomeTokensRedeemCollateral(caller, toBurn)
		if err != nil {
			return nil, err
		}
		tr, err := s.pay(m, fx, caller, out, settlement.KindRedeem, now)
		if err != nil {
			return nil, err
		}
		res = RedeemResult{Collateral: out, TransferID: tr.ID}
		s.logger.Infow("Complete sets redeemed", "market", id, "account", caller, "amount", out)
		return &Event{Type: EventRedeem, Account: caller, Data: map[string]string{"amount": out.String()}}, nil
	})
	return res, err
}

type ClaimResult struct {
	Payout     decimal.Decimal
	Fees       decimal.Decimal
	Total      decimal.Decimal
	TransferID string
}

// ClaimEarnings pays out a finalized market. Any pool tokens the caller
// still holds are exited first so liquidity providers are never locked in.
func (s *Service) ClaimEarnings(ctx context.Context, caller string, id uint64) (ClaimResult, error) {
	var res ClaimResult
	_, err := s.mutate(ctx, "claim", id, func(m *Market, fx *effects, now time.Time) (*Event, error) {
		if !m.Finalized {
			return nil, ErrNotFinalized
		}
		res.Fees = decimal.Zero
		if lp := m.Pool.LPBalance(caller); lp.IsPositive() {
			change, err := m.Pool.ExitPool(caller, lp)
			if err != nil {
				return nil, err
			}
			res.Fees = change.FeesEarned
		}
		payout, err := m.Pool.Payout(caller, m.Payout)
		if err != nil {
			return nil, err
		}
		res.Payout = payout
		res.Total = payout.Add(res.Fees)
		if !res.Total.IsPositive() {
			return nil, ErrNoPayout
		}
		tr, err := s.pay(m, fx, caller, res.Total, settlement.KindClaim, now)
		if err != nil {
			return nil, err
		}
		res.TransferID = tr.ID
		s.logger.Infow("Earnings claimed", "market", id, "account", caller, "payout", payout, "fees", res.Fees)
		return &Event{Type: EventClaim, Account: caller, Data: map[string]string{"payout": payout.String(), "fees": res.Fees.String()}}, nil
	})
	return res, err
}

// SetMarketEnabled pauses or resumes trading. Governance only.
func (s *Service) SetMarketEnabled(ctx context.Context, caller string, id uint64, enabled bool) (*Market, error) {
	if caller != s.cfg.Roles.Governance {
		return nil, ErrNotGovernance
	}
	return s.mutate(ctx, "set_enabled", id, func(m *Market, _ *effects, now time.Time) (*Event, error) {
		if m.Finalized {
			return nil, ErrAlreadyFinalized
		}
		m.Enabled = enabled
		s.logger.Infow("Market status changed", "market", id, "enabled", enabled)
		return &Event{Type: EventStatus, Account: caller, Data: map[string]bool{"enabled": enabled}}, nil
	})
}

func (s *Service) GetMarket(ctx context.Context, id uint64) (View, error) {
	if s.cache != nil {
		var v View
		if err := s.cache.GetMarketView(ctx, id, &v); err == nil {
			return v.At(s.now()), nil
		}
	}
	result, err, _ := s.sf.Do(strconv.FormatUint(id, 10), func() (interface{}, error) {
		m, err := s.store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		v := m.View(s.now())
		if s.cache != nil {
			if err := s.cache.SetMarketView(ctx, id, v); err != nil {
				s.logger.Warnw("Failed to cache market view", "market", id, "error", err)
			}
		}
		return v, nil
	})
	if err != nil {
		return View{}, err
	}
	// a shared flight may have started before now
	return result.(View).At(s.now()), nil
}

func (s *Service) ListMarkets(ctx context.Context, offset, limit int) ([]View, uint64, error) {
	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	ms, err := s.store.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	views := make([]View, 0, len(ms))
	for _, m := range ms {
		views = append(views, m.View(now))
	}
	return views, total, nil
}

func (s *Service) Position(ctx context.Context, id uint64, account string) (Position, error) {
	m, err := s.store.Load(ctx, id)
	if err != nil {
		return Position{}, err
	}
	return Position{
		MarketID:         id,
		Account:          account,
		Shares:           m.Pool.ShareBalances(account),
		PoolTokens:       m.Pool.LPBalance(account),
		FeesWithdrawable: m.Pool.FeesWithdrawable(account),
	}, nil
}

// QuoteBuy returns the shares collateralIn would buy right now.
func (s *Service) QuoteBuy(ctx context.Context, id uint64, outcome int, collateralIn decimal.Decimal) (decimal.Decimal, error) {
	m, err := s.store.Load(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return m.Pool.CalcBuyAmount(collateralIn, outcome)
}

// QuoteSell returns the shares needed to withdraw collateralOut right now.
func (s *Service) QuoteSell(ctx context.Context, id uint64, outcome int, collateralOut decimal.Decimal) (decimal.Decimal, error) {
	m, err := s.store.Load(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return m.Pool.CalcSellCollateralOut(collateralOut, outcome)
}

// Roles reports the configured privileged accounts.
func (s *Service) Roles() Roles { return s.cfg.Roles }

// IsNotFound reports whether err means the market does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrMarketNotFound) }

func tradeEvent(side string, t amm.Trade) map[string]interface{} {
	return map[string]interface{}{
		"side":       side,
		"outcome":    t.Outcome,
		"collateral": t.Collateral.String(),
		"shares":     t.Shares.String(),
		"fee":        t.Fee.String(),
	}
}

func liquidityEvent(side string, collateral decimal.Decimal, c amm.LiquidityChange) map[string]interface{} {
	return map[string]interface{}{
		"side":       side,
		"collateral": collateral.String(),
		"poolTokens": c.PoolTokens.String(),
		"fees":       c.FeesEarned.String(),
	}
}
