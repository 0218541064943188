package markets

import (
	"context"
	"fmt"
	"time"
)

// Event types published after a successful commit.
const (
	EventMarketCreated = "market_created"
	EventTrade         = "trade"
	EventLiquidity     = "liquidity"
	EventRedeem        = "redeem"
	EventOracleAnswer  = "oracle_answer"
	EventResolved      = "resolved"
	EventStatus        = "status"
	EventClaim         = "claim"
)

// ChannelMarkets carries every event; MarketChannel carries one market's.
const ChannelMarkets = "amm:markets"

func MarketChannel(id uint64) string {
	return fmt.Sprintf("amm:market:%d", id)
}

type Event struct {
	Type     string    `json:"type"`
	MarketID uint64    `json:"marketId"`
	Account  string    `json:"account,omitempty"`
	Data     any       `json:"data,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher fans events out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// ViewCache holds rendered market views between reads.
type ViewCache interface {
	GetMarketView(ctx context.Context, id uint64, dest interface{}) error
	SetMarketView(ctx context.Context, id uint64, value interface{}) error
	InvalidateMarket(ctx context.Context, id uint64) error
}

// Notifier is told when new settlement transfers have been committed.
type Notifier interface {
	Notify()
}

// Recorder receives operation metrics.
type Recorder interface {
	RecordMarketOperation(ctx context.Context, op string, success bool)
	RecordResolution(ctx context.Context, path string, state string)
}
