package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/clock"
	"github.com/lucra/lucra-backend/internal/protoerr"
	memkv "github.com/lucra/lucra-backend/pkg/kv/memory"
)

const now int64 = 1_700_000_000

func testVerifier(t *testing.T) *Verifier {
	t.Helper()
	store := memkv.New(0)
	t.Cleanup(func() { store.Close() })
	clk := clock.NewManual(clock.Clock{Slot: 1, UnixTimestamp: now})
	return NewVerifier(true, WithNonceStore(store), WithClock(clk))
}

func request(method string, nonce uint64) Request {
	return Request{Method: method, Nonce: nonce, ExpiresAt: now + 60, Payload: []byte(`{}`)}
}

func requireCondition(t *testing.T, err error, condition string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, protoerr.AccountNotSigner), "got %v", err)
	var pe *protoerr.Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, condition, pe.Condition)
}

func TestSignRecover(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	signer := address.FromPublicKey(key.PubKey())

	r := Request{Method: "lcr_originate", Nonce: 7, ExpiresAt: now, Payload: []byte(`{"loan":"abc","lamports":10}`)}
	sig := Sign(key, r)

	got, err := Recover(r, sig)
	require.NoError(t, err)
	assert.Equal(t, signer, got)

	// Any change to the signed fields recovers a different key.
	for name, changed := range map[string]Request{
		"method":  {Method: "lcr_close", Nonce: r.Nonce, ExpiresAt: r.ExpiresAt, Payload: r.Payload},
		"nonce":   {Method: r.Method, Nonce: 8, ExpiresAt: r.ExpiresAt, Payload: r.Payload},
		"expiry":  {Method: r.Method, Nonce: r.Nonce, ExpiresAt: r.ExpiresAt + 1, Payload: r.Payload},
		"payload": {Method: r.Method, Nonce: r.Nonce, ExpiresAt: r.ExpiresAt, Payload: []byte(`{}`)},
	} {
		other, err := Recover(changed, sig)
		require.NoError(t, err, name)
		assert.NotEqual(t, signer, other, name)
	}
}

func TestVerifier(t *testing.T) {
	ctx := context.Background()
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	signer := address.FromPublicKey(key.PubKey())

	v := testVerifier(t)
	r := request("lcr_close", 1)
	sig := Sign(key, r)
	assert.NoError(t, v.Verify(ctx, r, signer, sig))

	next := request("lcr_close", 2)
	assert.NoError(t, v.Verify(ctx, next, signer, "0x"+Sign(key, next)))

	cases := map[string]struct {
		signer    address.Address
		sig       string
		condition string
	}{
		"missing":  {signer, "", "signature_missing"},
		"garbage":  {signer, "zz", "signature_invalid"},
		"short":    {signer, "abcd", "signature_invalid"},
		"mismatch": {address.FromSeed("mallory"), Sign(key, request("lcr_close", 3)), "signer_mismatch"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			err := v.Verify(ctx, request("lcr_close", 3), c.signer, c.sig)
			requireCondition(t, err, c.condition)
		})
	}

	assert.NoError(t, NewVerifier(false).Verify(ctx, Request{}, signer, ""))
}

func TestVerifierRejectsReplay(t *testing.T) {
	ctx := context.Background()
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	signer := address.FromPublicKey(key.PubKey())
	v := testVerifier(t)

	r := request("lcr_addCollateral", 5)
	sig := Sign(key, r)
	require.NoError(t, v.Verify(ctx, r, signer, sig))
	requireCondition(t, v.Verify(ctx, r, signer, sig), "nonce_reused")

	// Lower nonces stay dead once a higher one is accepted.
	older := request("lcr_addCollateral", 4)
	requireCondition(t, v.Verify(ctx, older, signer, Sign(key, older)), "nonce_reused")

	last, err := v.LastNonce(ctx, signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), last)

	// Nonces are per signer.
	otherKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	assert.NoError(t, v.Verify(ctx, r, address.FromPublicKey(otherKey.PubKey()), Sign(otherKey, r)))
}

func TestVerifierConcurrentReplay(t *testing.T) {
	ctx := context.Background()
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	signer := address.FromPublicKey(key.PubKey())
	v := testVerifier(t)

	r := request("lcr_determinePenalty", 1)
	sig := Sign(key, r)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v.Verify(ctx, r, signer, sig) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
}

func TestVerifierExpiry(t *testing.T) {
	ctx := context.Background()
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	signer := address.FromPublicKey(key.PubKey())
	v := testVerifier(t)

	expired := Request{Method: "lcr_close", Nonce: 1, ExpiresAt: now - 1, Payload: []byte(`{}`)}
	requireCondition(t, v.Verify(ctx, expired, signer, Sign(key, expired)), "signature_expired")

	far := Request{Method: "lcr_close", Nonce: 1, ExpiresAt: now + int64(time.Hour/time.Second), Payload: []byte(`{}`)}
	requireCondition(t, v.Verify(ctx, far, signer, Sign(key, far)), "expiry_too_far")

	// Rejected requests do not consume their nonce.
	ok := Request{Method: "lcr_close", Nonce: 1, ExpiresAt: now, Payload: []byte(`{}`)}
	assert.NoError(t, v.Verify(ctx, ok, signer, Sign(key, ok)))
}
