package settlement

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/apperr"
)

// ErrInsufficientFunds is returned by a commit whose debits exceed the
// account's escrowed collateral. Nothing in the commit is applied.
var ErrInsufficientFunds = fmt.Errorf("%w: escrowed collateral does not cover the debit", apperr.ErrInsufficientBalance)

// Deposit is a receipt for collateral the custodian received on an
// account's behalf. ID is the custodian's receipt id; crediting the same
// receipt twice is a no-op.
type Deposit struct {
	ID        string          `json:"id"`
	Account   string          `json:"account"`
	Token     string          `json:"token"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"createdAt"`
}

func NewDeposit(id, account, token string, amount decimal.Decimal, now time.Time) (Deposit, error) {
	id = strings.TrimSpace(id)
	switch {
	case id == "":
		return Deposit{}, fmt.Errorf("%w: deposit needs a receipt id", ErrInvalidRequest)
	case account == "":
		return Deposit{}, fmt.Errorf("%w: deposit needs an account", ErrInvalidRequest)
	case token == "":
		return Deposit{}, fmt.Errorf("%w: deposit needs a token", ErrInvalidRequest)
	case !amount.IsPositive() || !amount.IsInteger():
		return Deposit{}, fmt.Errorf("%w: deposit amount %s must be a positive integer", ErrInvalidRequest, amount)
	}
	return Deposit{ID: id, Account: account, Token: token, Amount: amount, CreatedAt: now.UTC()}, nil
}

// Debit spends escrowed collateral. Debits are applied by the market store
// in the same commit as the market change that consumes them.
type Debit struct {
	Account string
	Token   string
	Amount  decimal.Decimal
}

type Balance struct {
	Account string          `json:"account"`
	Token   string          `json:"token"`
	Amount  decimal.Decimal `json:"amount"`
}

// Ledger holds collateral escrowed per account and token. It is the inbound
// side of settlement: deposits credit it and market commits debit it.
type Ledger interface {
	// Credit applies a deposit receipt. It reports false when the receipt
	// was already credited.
	Credit(ctx context.Context, d Deposit) (bool, error)
	Balance(ctx context.Context, account, token string) (decimal.Decimal, error)
	Balances(ctx context.Context, account string) ([]Balance, error)
}

// BalanceKey identifies one escrow balance.
type BalanceKey struct {
	Account string
	Token   string
}

// MergeDebits folds debits into one per balance, ordered by account and
// token so backends lock rows in a stable order. Zero debits are dropped;
// negative ones are rejected.
func MergeDebits(debits []Debit) ([]Debit, error) {
	sums := make(map[BalanceKey]decimal.Decimal, len(debits))
	for _, d := range debits {
		if d.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: negative debit %s for %s", ErrInvalidRequest, d.Amount, d.Account)
		}
		if d.Amount.IsZero() {
			continue
		}
		k := BalanceKey{Account: d.Account, Token: d.Token}
		sums[k] = sums[k].Add(d.Amount)
	}
	out := make([]Debit, 0, len(sums))
	for k, v := range sums {
		out = append(out, Debit{Account: k.Account, Token: k.Token, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Token < out[j].Token
	})
	return out, nil
}

func (d Debit) Key() BalanceKey { return BalanceKey{Account: d.Account, Token: d.Token} }

// Shortfall reports the error for a balance that cannot cover d.
func Shortfall(d Debit, have decimal.Decimal) error {
	return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientFunds, d.Account, have, d.Token, d.Amount)
}
