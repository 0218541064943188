// Package auth identifies the caller of a request. Accounts with a
// registered key must sign. Other accounts are trusted by header unless
// they are privileged, in which case they are refused outright.
package auth

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/blake2b"

	"github.com/leafsii/outcome-amm/internal/apperr"
)

const (
	HeaderAccount   = "X-Account-ID"
	HeaderSignature = "X-Signature"
)

// MaxSignedBody caps how much of a signed request body is read.
const MaxSignedBody = 1 << 20

var (
	ErrMissingSignature = fmt.Errorf("%w: signature required for account", apperr.ErrUnauthorized)
	ErrBadSignature     = fmt.Errorf("%w: signature does not verify", apperr.ErrUnauthorized)
	ErrUnregisteredKey  = fmt.Errorf("%w: privileged account has no registered key", apperr.ErrUnauthorized)
)

type contextKey struct{}

// WithAccount returns ctx carrying the authenticated account.
func WithAccount(ctx context.Context, account string) context.Context {
	return context.WithValue(ctx, contextKey{}, account)
}

// AccountFromContext returns the authenticated account, if any.
func AccountFromContext(ctx context.Context) (string, bool) {
	account, ok := ctx.Value(contextKey{}).(string)
	return account, ok && account != ""
}

// Digest is the message an account signs: blake2b-256 over method, path and
// body separated by newlines.
func Digest(method, path string, body []byte) [32]byte {
	var buf bytes.Buffer
	buf.WriteString(method)
	buf.WriteByte('\n')
	buf.WriteString(path)
	buf.WriteByte('\n')
	buf.Write(body)
	return blake2b.Sum256(buf.Bytes())
}

// Sign produces the hex DER signature header value for a request.
func Sign(key *secp256k1.PrivateKey, method, path string, body []byte) string {
	digest := Digest(method, path, body)
	return hex.EncodeToString(ecdsa.Sign(key, digest[:]).Serialize())
}

type Verifier struct {
	keys       map[string]*secp256k1.PublicKey
	privileged map[string]struct{}
}

// NewVerifier parses account -> hex-encoded compressed or uncompressed
// secp256k1 public keys. Privileged accounts must always sign.
func NewVerifier(keys map[string]string, privileged ...string) (*Verifier, error) {
	v := &Verifier{
		keys:       make(map[string]*secp256k1.PublicKey, len(keys)),
		privileged: make(map[string]struct{}, len(privileged)),
	}
	for _, account := range privileged {
		if account != "" {
			v.privileged[account] = struct{}{}
		}
	}
	for account, encoded := range keys {
		raw, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("public key for %s: %w", account, err)
		}
		pub, err := secp256k1.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("public key for %s: %w", account, err)
		}
		v.keys[account] = pub
	}
	return v, nil
}

// Unkeyed lists the privileged accounts that have no registered key.
func (v *Verifier) Unkeyed() []string {
	var out []string
	for account := range v.privileged {
		if _, ok := v.keys[account]; !ok {
			out = append(out, account)
		}
	}
	sort.Strings(out)
	return out
}

// Authenticate returns the caller named by the account header, or "" when
// the header is absent. The body is restored for downstream handlers.
func (v *Verifier) Authenticate(r *http.Request) (string, error) {
	account := r.Header.Get(HeaderAccount)
	if account == "" {
		return "", nil
	}
	pub, ok := v.keys[account]
	if !ok {
		if _, priv := v.privileged[account]; priv {
			return "", ErrUnregisteredKey
		}
		return account, nil
	}

	encoded := r.Header.Get(HeaderSignature)
	if encoded == "" {
		return "", ErrMissingSignature
	}
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return "", ErrBadSignature
	}
	sig, err := ecdsa.ParseDERSignature(raw)
	if err != nil {
		return "", ErrBadSignature
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, MaxSignedBody))
		if err != nil {
			return "", fmt.Errorf("read request body: %w", err)
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	digest := Digest(r.Method, r.URL.Path, body)
	if !sig.Verify(digest[:], pub) {
		return "", ErrBadSignature
	}
	return account, nil
}
