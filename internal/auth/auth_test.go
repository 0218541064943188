package auth

import (
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/outcome-amm/internal/apperr"
)

func TestAuthenticate(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	other, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	verifier, err := NewVerifier(map[string]string{
		"gov.near": hex.EncodeToString(key.PubKey().SerializeCompressed()),
	}, "gov.near", "oracle.near")
	require.NoError(t, err)

	const path = "/v1/markets/0/resolve"
	const body = `{"payout":{"valid":true,"numerators":["1000000","0"]}}`

	tests := []struct {
		name    string
		account string
		sig     string
		want    string
		wantErr error
	}{
		{name: "anonymous", want: ""},
		{name: "unregistered account", account: "alice.near", want: "alice.near"},
		{name: "valid signature", account: "gov.near", sig: Sign(key, http.MethodPost, path, []byte(body)), want: "gov.near"},
		{name: "missing signature", account: "gov.near", wantErr: ErrMissingSignature},
		{name: "wrong key", account: "gov.near", sig: Sign(other, http.MethodPost, path, []byte(body)), wantErr: ErrBadSignature},
		{name: "signed different body", account: "gov.near", sig: Sign(key, http.MethodPost, path, []byte("{}")), wantErr: ErrBadSignature},
		{name: "garbage signature", account: "gov.near", sig: "zz", wantErr: ErrBadSignature},
		{name: "privileged without key", account: "oracle.near", wantErr: ErrUnregisteredKey},
		{name: "privileged without key ignores signature", account: "oracle.near", sig: Sign(other, http.MethodPost, path, []byte(body)), wantErr: ErrUnregisteredKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
			if tt.account != "" {
				req.Header.Set(HeaderAccount, tt.account)
			}
			if tt.sig != "" {
				req.Header.Set(HeaderSignature, tt.sig)
			}

			got, err := verifier.Authenticate(req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			rest, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.Equal(t, body, string(rest), "body is still readable downstream")
		})
	}
}

func TestNewVerifierRejectsBadKeys(t *testing.T) {
	_, err := NewVerifier(map[string]string{"gov.near": "not-hex"})
	assert.Error(t, err)

	_, err = NewVerifier(map[string]string{"gov.near": "02ff"})
	assert.Error(t, err)
}

func TestVerifierUnkeyed(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	pub := hex.EncodeToString(key.PubKey().SerializeCompressed())

	tests := []struct {
		name       string
		keys       map[string]string
		privileged []string
		want       []string
	}{
		{"all keyed", map[string]string{"gov.near": pub}, []string{"gov.near"}, nil},
		{"oracle missing", map[string]string{"gov.near": pub}, []string{"gov.near", "oracle.near"}, []string{"oracle.near"}},
		{"empty role ignored", nil, []string{"", "custody.near"}, []string{"custody.near"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewVerifier(tt.keys, tt.privileged...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Unkeyed())
		})
	}
}

func TestAccountContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := AccountFromContext(req.Context())
	assert.False(t, ok)

	ctx := WithAccount(req.Context(), "alice.near")
	account, ok := AccountFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "alice.near", account)
}
