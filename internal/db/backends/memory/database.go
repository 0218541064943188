// Package memory is a map-backed market store and settlement outbox for
// development and tests. Markets are kept encoded so every Load hands out
// an independent copy.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/markets"
	"github.com/leafsii/outcome-amm/internal/settlement"
)

type Database struct {
	mu        sync.RWMutex
	markets   [][]byte
	transfers map[string]settlement.Transfer
	balances  map[settlement.BalanceKey]decimal.Decimal
	deposits  map[string]settlement.Deposit
}

func NewDatabase() *Database {
	return &Database{
		transfers: make(map[string]settlement.Transfer),
		balances:  make(map[settlement.BalanceKey]decimal.Decimal),
		deposits:  make(map[string]settlement.Deposit),
	}
}

func (d *Database) Ping(context.Context) error { return nil }

func (d *Database) Close() error { return nil }

func (d *Database) Create(_ context.Context, m *markets.Market, debits []settlement.Debit) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next, err := d.debited(debits)
	if err != nil {
		return 0, err
	}
	m.ID = uint64(len(d.markets))
	data, err := markets.EncodeMarket(m)
	if err != nil {
		return 0, err
	}
	d.markets = append(d.markets, data)
	for k, v := range next {
		d.balances[k] = v
	}
	return m.ID, nil
}

func (d *Database) Load(_ context.Context, id uint64) (*markets.Market, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if id >= uint64(len(d.markets)) {
		return nil, markets.ErrMarketNotFound
	}
	return markets.DecodeMarket(d.markets[id])
}

func (d *Database) Commit(_ context.Context, m *markets.Market, debits []settlement.Debit, transfers []settlement.Transfer) error {
	data, err := markets.EncodeMarket(m)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if m.ID >= uint64(len(d.markets)) {
		return markets.ErrMarketNotFound
	}
	next, err := d.debited(debits)
	if err != nil {
		return err
	}
	d.markets[m.ID] = data
	for k, v := range next {
		d.balances[k] = v
	}
	for _, t := range transfers {
		if _, exists := d.transfers[t.ID]; exists {
			continue
		}
		d.transfers[t.ID] = t
	}
	return nil
}

// debited returns the balances left after debits, or the shortfall. The
// caller holds the write lock and applies the result.
func (d *Database) debited(debits []settlement.Debit) (map[settlement.BalanceKey]decimal.Decimal, error) {
	merged, err := settlement.MergeDebits(debits)
	if err != nil {
		return nil, err
	}
	next := make(map[settlement.BalanceKey]decimal.Decimal, len(merged))
	for _, db := range merged {
		have := d.balances[db.Key()]
		if have.LessThan(db.Amount) {
			return nil, settlement.Shortfall(db, have)
		}
		next[db.Key()] = have.Sub(db.Amount)
	}
	return next, nil
}

func (d *Database) Credit(_ context.Context, dep settlement.Deposit) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, seen := d.deposits[dep.ID]; seen {
		return false, nil
	}
	d.deposits[dep.ID] = dep
	k := settlement.BalanceKey{Account: dep.Account, Token: dep.Token}
	d.balances[k] = d.balances[k].Add(dep.Amount)
	return true, nil
}

func (d *Database) Balance(_ context.Context, account, token string) (decimal.Decimal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.balances[settlement.BalanceKey{Account: account, Token: token}], nil
}

func (d *Database) Balances(_ context.Context, account string) ([]settlement.Balance, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []settlement.Balance
	for k, v := range d.balances {
		if k.Account == account {
			out = append(out, settlement.Balance{Account: k.Account, Token: k.Token, Amount: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (d *Database) List(_ context.Context, offset, limit int) ([]*markets.Market, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(d.markets) {
		return nil, nil
	}
	end := len(d.markets)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*markets.Market, 0, end-offset)
	for _, data := range d.markets[offset:end] {
		m, err := markets.DecodeMarket(data)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (d *Database) Count(context.Context) (uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return uint64(len(d.markets)), nil
}

func (d *Database) Due(_ context.Context, now time.Time, limit int) ([]settlement.Transfer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []settlement.Transfer
	for _, t := range d.transfers {
		if t.Status == settlement.StatusPending && !t.NextAttemptAt.After(now) {
			out = append(out, t)
		}
	}
	sortTransfers(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *Database) MarkDelivered(_ context.Context, id string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.transfers[id]
	if !ok {
		return settlement.ErrNotFound
	}
	t.Status = settlement.StatusDelivered
	t.Attempts++
	t.LastError = ""
	t.UpdatedAt = at
	d.transfers[id] = t
	return nil
}

func (d *Database) MarkFailed(_ context.Context, id string, attempts int, lastErr string, next time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.transfers[id]
	if !ok {
		return settlement.ErrNotFound
	}
	t.Attempts = attempts
	t.LastError = lastErr
	if next.IsZero() {
		t.Status = settlement.StatusDead
	} else {
		t.NextAttemptAt = next
	}
	d.transfers[id] = t
	return nil
}

func (d *Database) GetTransfer(_ context.Context, id string) (settlement.Transfer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.transfers[id]
	if !ok {
		return settlement.Transfer{}, settlement.ErrNotFound
	}
	return t, nil
}

func (d *Database) ListTransfers(_ context.Context, marketID uint64) ([]settlement.Transfer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []settlement.Transfer
	for _, t := range d.transfers {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nonce < out[j].Nonce })
	return out, nil
}

func sortTransfers(ts []settlement.Transfer) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}
