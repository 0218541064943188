package markets

import (
	"context"

	"github.com/leafsii/outcome-amm/internal/settlement"
)

// Store is the durable market arena. Implementations return a private
// copy from Load so a failed operation never leaks partial mutations.
// Create and Commit apply their escrow debits in the same transaction as
// the market write and fail with settlement.ErrInsufficientFunds, writing
// nothing, when a balance cannot cover them.
type Store interface {
	// Create assigns the next ID to m and persists it.
	Create(ctx context.Context, m *Market, debits []settlement.Debit) (uint64, error)
	// Load returns ErrMarketNotFound for an unknown ID.
	Load(ctx context.Context, id uint64) (*Market, error)
	Commit(ctx context.Context, m *Market, debits []settlement.Debit, transfers []settlement.Transfer) error
	List(ctx context.Context, offset, limit int) ([]*Market, error)
	Count(ctx context.Context) (uint64, error)
}
