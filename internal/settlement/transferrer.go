package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Transferrer moves collateral to an account. Implementations must treat
// Transfer.ID as an idempotency key: delivering the same ID twice pays once.
type Transferrer interface {
	Transfer(ctx context.Context, t Transfer) error
}

// LogTransferrer only logs transfers. Used in development where no
// collateral ledger is attached.
type LogTransferrer struct {
	Logger *zap.SugaredLogger
}

func (l *LogTransferrer) Transfer(_ context.Context, t Transfer) error {
	l.Logger.Infow("Collateral transfer",
		"transferId", t.ID,
		"marketId", t.MarketID,
		"account", t.Account,
		"token", t.Token,
		"amount", t.Amount.String(),
		"kind", t.Kind,
	)
	return nil
}

// HTTPTransferrer posts transfers to a collateral ledger service.
type HTTPTransferrer struct {
	Endpoint string
	Client   *http.Client
}

type transferRequest struct {
	Receiver string `json:"receiver"`
	Token    string `json:"token"`
	Amount   string `json:"amount"`
	Memo     string `json:"memo"`
}

func (h *HTTPTransferrer) Transfer(ctx context.Context, t Transfer) error {
	if h == nil || h.Endpoint == "" {
		return fmt.Errorf("transfer endpoint not configured")
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	u, err := url.Parse(h.Endpoint)
	if err != nil {
		return fmt.Errorf("parse transfer endpoint: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/transfers"
	}

	body, err := json.Marshal(transferRequest{
		Receiver: t.Account,
		Token:    t.Token,
		Amount:   t.Amount.String(),
		Memo:     fmt.Sprintf("market %d %s", t.MarketID, t.Kind),
	})
	if err != nil {
		return fmt.Errorf("marshal transfer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", t.ID)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("transfer post: %w", err)
	}
	defer resp.Body.Close()

	// 409 means the ledger already executed this key
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("transfer post status %d", resp.StatusCode)
	}
	return nil
}
