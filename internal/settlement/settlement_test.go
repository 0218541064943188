package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOutbox struct {
	mu        sync.Mutex
	transfers map[string]Transfer
}

func newFakeOutbox(ts ...Transfer) *fakeOutbox {
	o := &fakeOutbox{transfers: make(map[string]Transfer)}
	for _, t := range ts {
		o.transfers[t.ID] = t
	}
	return o
}

func (o *fakeOutbox) Due(_ context.Context, now time.Time, limit int) ([]Transfer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Transfer
	for _, t := range o.transfers {
		if t.Status == StatusPending && !t.NextAttemptAt.After(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (o *fakeOutbox) MarkDelivered(_ context.Context, id string, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.transfers[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = StatusDelivered
	t.Attempts++
	t.UpdatedAt = at
	o.transfers[id] = t
	return nil
}

func (o *fakeOutbox) MarkFailed(_ context.Context, id string, attempts int, lastErr string, next time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.transfers[id]
	if !ok {
		return ErrNotFound
	}
	t.Attempts = attempts
	t.LastError = lastErr
	if next.IsZero() {
		t.Status = StatusDead
	} else {
		t.NextAttemptAt = next
	}
	o.transfers[id] = t
	return nil
}

func (o *fakeOutbox) GetTransfer(_ context.Context, id string) (Transfer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.transfers[id]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	return t, nil
}

func (o *fakeOutbox) ListTransfers(_ context.Context, marketID uint64) ([]Transfer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Transfer
	for _, t := range o.transfers {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

type mockTransferrer struct {
	mock.Mock
}

func (m *mockTransferrer) Transfer(ctx context.Context, t Transfer) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func mustTransfer(t *testing.T, nonce uint64, now time.Time) Transfer {
	t.Helper()
	tr, err := NewTransfer(7, nonce, "alice", "usdc", decimal.NewFromInt(100), KindSell, now)
	require.NoError(t, err)
	return tr
}

func TestIdempotencyKey(t *testing.T) {
	a, err := IdempotencyKey(1, "alice", KindSell, 3)
	require.NoError(t, err)
	b, err := IdempotencyKey(1, "alice", KindSell, 3)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	for _, other := range []struct {
		market  uint64
		account string
		kind    Kind
		nonce   uint64
	}{
		{2, "alice", KindSell, 3},
		{1, "bob", KindSell, 3},
		{1, "alice", KindClaim, 3},
		{1, "alice", KindSell, 4},
	} {
		k, err := IdempotencyKey(other.market, other.account, other.kind, other.nonce)
		require.NoError(t, err)
		assert.NotEqual(t, a, k)
	}
}

func TestNewTransferValidation(t *testing.T) {
	now := time.Now()
	_, err := NewTransfer(1, 1, "", "usdc", decimal.NewFromInt(1), KindSell, now)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = NewTransfer(1, 1, "alice", "usdc", decimal.Zero, KindSell, now)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	tr := mustTransfer(t, 1, now)
	assert.Equal(t, StatusPending, tr.Status)
	assert.Equal(t, now, tr.NextAttemptAt)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(1, time.Second, time.Minute))
	assert.Equal(t, 4*time.Second, Backoff(3, time.Second, time.Minute))
	assert.Equal(t, time.Minute, Backoff(20, time.Second, time.Minute))
	assert.Equal(t, time.Second, Backoff(0, time.Second, time.Minute))
}

func TestDispatcherDelivers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := mustTransfer(t, 1, now)
	outbox := newFakeOutbox(tr)

	transferrer := &mockTransferrer{}
	transferrer.On("Transfer", mock.Anything, mock.MatchedBy(func(x Transfer) bool { return x.ID == tr.ID })).Return(nil).Once()

	d := NewDispatcher(outbox, transferrer, zap.NewNop().Sugar(), WithClock(func() time.Time { return now }))
	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := outbox.GetTransfer(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)

	// nothing left to deliver
	n, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	transferrer.AssertExpectations(t)

	delivered, failed := d.Stats()
	assert.Equal(t, uint64(1), delivered)
	assert.Equal(t, uint64(0), failed)
}

func TestDispatcherRetriesThenGivesUp(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := mustTransfer(t, 1, now)
	outbox := newFakeOutbox(tr)

	transferrer := &mockTransferrer{}
	transferrer.On("Transfer", mock.Anything, mock.Anything).Return(errors.New("ledger down"))

	clock := now
	d := NewDispatcher(outbox, transferrer, zap.NewNop().Sugar(),
		WithClock(func() time.Time { return clock }),
		WithMaxAttempts(3),
		WithBackoff(time.Second, time.Minute),
	)

	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	got, _ := outbox.GetTransfer(context.Background(), tr.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, now.Add(time.Second), got.NextAttemptAt)
	assert.Equal(t, "ledger down", got.LastError)

	// not due yet
	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	transferrer.AssertNumberOfCalls(t, "Transfer", 1)

	clock = now.Add(time.Hour)
	_, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	clock = clock.Add(time.Hour)
	_, err = d.RunOnce(context.Background())
	require.NoError(t, err)

	got, _ = outbox.GetTransfer(context.Background(), tr.ID)
	assert.Equal(t, StatusDead, got.Status)
	assert.Equal(t, 3, got.Attempts)
}

type countingRecorder struct {
	mu   sync.Mutex
	seen map[bool]int
}

func (r *countingRecorder) RecordSettlement(_ context.Context, _ string, delivered bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[delivered]++
}

func TestDispatcherStartAndNotify(t *testing.T) {
	now := time.Now()
	tr := mustTransfer(t, 9, now.Add(-time.Second))
	outbox := newFakeOutbox(tr)

	transferrer := &mockTransferrer{}
	transferrer.On("Transfer", mock.Anything, mock.Anything).Return(nil)
	recorder := &countingRecorder{seen: make(map[bool]int)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDispatcher(outbox, transferrer, zap.NewNop().Sugar(), WithPollInterval(time.Hour), WithRecorder(recorder))
	d.Start(ctx)
	d.Notify()

	require.Eventually(t, func() bool {
		got, _ := outbox.GetTransfer(context.Background(), tr.ID)
		return got.Status == StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)

	recorder.mu.Lock()
	assert.Equal(t, 1, recorder.seen[true])
	recorder.mu.Unlock()
}

func TestHTTPTransferrer(t *testing.T) {
	var gotKey string
	var gotBody transferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tr := mustTransfer(t, 1, time.Now())
	h := &HTTPTransferrer{Endpoint: srv.URL}
	require.NoError(t, h.Transfer(context.Background(), tr))
	assert.Equal(t, tr.ID, gotKey)
	assert.Equal(t, "alice", gotBody.Receiver)
	assert.Equal(t, "100", gotBody.Amount)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	assert.Error(t, (&HTTPTransferrer{Endpoint: failing.URL}).Transfer(context.Background(), tr))

	duplicate := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer duplicate.Close()
	assert.NoError(t, (&HTTPTransferrer{Endpoint: duplicate.URL}).Transfer(context.Background(), tr))

	assert.Error(t, (&HTTPTransferrer{}).Transfer(context.Background(), tr))
}
