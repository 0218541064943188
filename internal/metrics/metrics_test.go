package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersExport(t *testing.T) {
	m, handler, err := NewWithRegistry("amm-test", promclient.NewRegistry())
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordMarketOperation(ctx, "buy", true)
	m.RecordMarketOperation(ctx, "sell", false)
	m.RecordResolution(ctx, "oracle", "valid")
	m.RecordSettlement(ctx, "claim", true)
	m.RecordHTTPRequest(ctx, "GET", "/v1/markets", 200, 15*time.Millisecond)
	m.IncrementConnections(ctx)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	for _, name := range []string{
		"amm_market_operations_total",
		"amm_market_resolutions_total",
		"amm_settlement_attempts_total",
		"amm_http_requests_total",
		"amm_websocket_connections",
	} {
		assert.Contains(t, string(body), name)
	}
	assert.Contains(t, string(body), `op="buy"`)
}
