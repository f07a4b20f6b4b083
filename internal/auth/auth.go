// Package auth verifies that a mutating request was signed by the account
// it acts for, and that the signed request is used at most once.
package auth

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/clock"
	"github.com/lucra/lucra-backend/internal/protoerr"
	"github.com/lucra/lucra-backend/pkg/kv"
	memkv "github.com/lucra/lucra-backend/pkg/kv/memory"
)

const component = "auth"

// SignatureSize is the length of a recoverable compact signature.
const SignatureSize = 65

// DefaultMaxTTL bounds how far in the future a request may expire.
const DefaultMaxTTL = 5 * time.Minute

const nonceKeyPrefix = "lcr:auth:nonce:"

// Request is the signed part of a mutating call. Nonce must exceed the
// signer's last accepted nonce; ExpiresAt is unix seconds.
type Request struct {
	Method    string
	Nonce     uint64
	ExpiresAt int64
	Payload   []byte
}

// Digest is sha3-256(method || 0x00 || be64(nonce) || be64(expiresAt) || payload).
func (r Request) Digest() []byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], r.Nonce)
	binary.BigEndian.PutUint64(buf[8:], uint64(r.ExpiresAt))

	h := sha3.New256()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write(buf[:])
	h.Write(r.Payload)
	return h.Sum(nil)
}

// Sign produces the hex signature a client attaches to a request.
func Sign(key *secp256k1.PrivateKey, r Request) string {
	return hex.EncodeToString(ecdsa.SignCompact(key, r.Digest(), true))
}

// Recover returns the address whose key produced signature over r.
func Recover(r Request, signature string) (address.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return address.Zero, fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != SignatureSize {
		return address.Zero, fmt.Errorf("invalid signature length: expected %d, got %d", SignatureSize, len(raw))
	}
	pub, _, err := ecdsa.RecoverCompact(raw, r.Digest())
	if err != nil {
		return address.Zero, fmt.Errorf("recover public key: %w", err)
	}
	return address.FromPublicKey(pub), nil
}

// Verifier checks request signatures and consumes nonces. A disabled
// verifier trusts the claimed signer.
type Verifier struct {
	enabled bool
	nonces  kv.Store
	clock   clock.Source
	maxTTL  time.Duration
}

type Option func(*Verifier)

// WithNonceStore keeps the last accepted nonce per signer in store. Share it
// between API replicas.
func WithNonceStore(store kv.Store) Option {
	return func(v *Verifier) { v.nonces = store }
}

// WithClock sets the clock expiry is checked against.
func WithClock(c clock.Source) Option {
	return func(v *Verifier) { v.clock = c }
}

func WithMaxTTL(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.maxTTL = d
		}
	}
}

func NewVerifier(enabled bool, opts ...Option) *Verifier {
	v := &Verifier{enabled: enabled, maxTTL: DefaultMaxTTL}
	for _, opt := range opts {
		opt(v)
	}
	if v.nonces == nil {
		v.nonces = memkv.New(0)
	}
	if v.clock == nil {
		v.clock = clock.NewWall(time.Unix(0, 0), 0)
	}
	return v
}

func (v *Verifier) Enabled() bool {
	return v != nil && v.enabled
}

// Verify fails AccountNotSigner unless signature recovers to signer, the
// request has not expired and its nonce is fresh. A verified request's nonce
// is consumed even if the call it authorizes later fails.
func (v *Verifier) Verify(ctx context.Context, r Request, signer address.Address, signature string) error {
	if !v.Enabled() {
		return nil
	}
	if signature == "" {
		return protoerr.New(protoerr.AccountNotSigner, component, "signature_missing")
	}
	recovered, err := Recover(r, signature)
	if err != nil {
		return protoerr.New(protoerr.AccountNotSigner, component, "signature_invalid")
	}
	if recovered != signer {
		return protoerr.New(protoerr.AccountNotSigner, component, "signer_mismatch")
	}

	now := v.clock.Now().UnixTimestamp
	if r.ExpiresAt < now {
		return protoerr.New(protoerr.AccountNotSigner, component, "signature_expired")
	}
	if time.Duration(r.ExpiresAt-now)*time.Second > v.maxTTL {
		return protoerr.New(protoerr.AccountNotSigner, component, "expiry_too_far")
	}
	return v.consume(ctx, signer, r.Nonce)
}

// LastNonce returns the highest nonce accepted for signer, 0 if none.
func (v *Verifier) LastNonce(ctx context.Context, signer address.Address) (uint64, error) {
	n, _, err := v.lastNonce(ctx, signer)
	return n, err
}

func (v *Verifier) lastNonce(ctx context.Context, signer address.Address) (uint64, []byte, error) {
	raw, err := v.nonces.Get(ctx, nonceKeyPrefix+signer.String())
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("read nonce: %w", err)
	}
	n, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("decode nonce: %w", err)
	}
	return n, raw, nil
}

// consume advances signer's nonce to nonce with a guarded write, so two
// submissions of one request cannot both pass.
func (v *Verifier) consume(ctx context.Context, signer address.Address, nonce uint64) error {
	last, raw, err := v.lastNonce(ctx, signer)
	if err != nil {
		return err
	}
	if nonce <= last {
		return protoerr.New(protoerr.AccountNotSigner, component, "nonce_reused")
	}

	key := nonceKeyPrefix + signer.String()
	b := &kv.Batch{}
	b.Expect(key, raw)
	b.Set(key, []byte(strconv.FormatUint(nonce, 10)))
	if err := v.nonces.Apply(ctx, b); err != nil {
		if errors.Is(err, kv.ErrConflict) {
			return protoerr.New(protoerr.AccountNotSigner, component, "nonce_reused")
		}
		return fmt.Errorf("store nonce: %w", err)
	}
	return nil
}
