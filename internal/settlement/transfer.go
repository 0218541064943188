// Package settlement records the collateral transfers produced by market
// operations and delivers them after the market state has been committed.
package settlement

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/fardream/go-bcs/bcs"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrNotFound       = errors.New("transfer not found")
	ErrInvalidRequest = errors.New("invalid transfer")
)

// Kind names the market operation a transfer settles.
type Kind string

const (
	KindSell         Kind = "sell"
	KindRedeem       Kind = "redeem"
	KindExitFees     Kind = "exit_fees"
	KindClaim        Kind = "claim"
	KindValidityBond Kind = "validity_bond"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusDead      Status = "dead"
)

// Transfer is one outbound collateral payment. ID is derived from
// (market, account, kind, nonce) so re-recording the same operation is a
// no-op and receivers can deduplicate deliveries.
type Transfer struct {
	ID            string          `json:"id"`
	MarketID      uint64          `json:"marketId"`
	Account       string          `json:"account"`
	Token         string          `json:"token"`
	Amount        decimal.Decimal `json:"amount"`
	Kind          Kind            `json:"kind"`
	Nonce         uint64          `json:"nonce"`
	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"lastError,omitempty"`
	NextAttemptAt time.Time       `json:"nextAttemptAt"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type keyFields struct {
	MarketID uint64
	Account  string
	Kind     string
	Nonce    uint64
}

// IdempotencyKey is the hex blake2b-256 digest of the BCS encoding of the
// identifying fields.
func IdempotencyKey(marketID uint64, account string, kind Kind, nonce uint64) (string, error) {
	encoded, err := bcs.Marshal(keyFields{MarketID: marketID, Account: account, Kind: string(kind), Nonce: nonce})
	if err != nil {
		return "", fmt.Errorf("encode transfer key: %w", err)
	}
	sum := blake2b.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// NewTransfer builds a pending transfer ready to be committed.
func NewTransfer(marketID uint64, nonce uint64, account, token string, amount decimal.Decimal, kind Kind, now time.Time) (Transfer, error) {
	if account == "" || token == "" || !amount.IsPositive() {
		return Transfer{}, ErrInvalidRequest
	}
	id, err := IdempotencyKey(marketID, account, kind, nonce)
	if err != nil {
		return Transfer{}, err
	}
	return Transfer{
		ID:            id,
		MarketID:      marketID,
		Account:       account,
		Token:         token,
		Amount:        amount,
		Kind:          kind,
		Nonce:         nonce,
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
