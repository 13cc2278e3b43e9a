package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNonceExpired is the sentinel the Signer's caller matches against to
// trigger the retry-once policy of spec.md §4.3/§7.
var ErrNonceExpired = errors.New("chain: nonce expired")

// NonceSource reads the chain's view of the next nonce for an account.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Signer owns the account's signing key and its nonce counter. It assigns a
// monotonically increasing nonce to every outbound call so that bursts of
// sequential sends (approve, swap, mint, stake) never race the RPC's view of
// the chain (spec.md §4.3, §5). It is the only writable shared resource in
// the engine; cmd/rebalancer builds one and hands it to the Chain Client,
// through which every write draws its nonce.
type Signer struct {
	mu         sync.Mutex
	privateKey *ecdsa.PrivateKey
	address    common.Address
	source     NonceSource
	nonce      uint64
	primed     bool
}

// NewSigner derives the account address from privateKey and builds a Signer
// with an unprimed nonce counter; the first NextNonce call fetches it from
// chain truth.
func NewSigner(privateKey *ecdsa.PrivateKey, source NonceSource) *Signer {
	publicKey := privateKey.Public().(*ecdsa.PublicKey)
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		source:     source,
	}
}

// Address returns the account's 20-byte address.
func (s *Signer) Address() common.Address { return s.address }

// PrivateKey returns the signing key for use by the contract-call layer.
// Never logged, never serialized.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey { return s.privateKey }

// NextNonce returns the next nonce to use and advances the counter. On first
// use it primes the counter from the chain's pending-nonce view.
func (s *Signer) NextNonce(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed {
		n, err := s.source.PendingNonceAt(ctx, s.address)
		if err != nil {
			return 0, fmt.Errorf("chain: prime nonce: %w", err)
		}
		s.nonce = n
		s.primed = true
	}

	n := s.nonce
	s.nonce++
	return n, nil
}

// Reset re-derives the nonce counter from the chain's current view, per
// spec.md §4.3's NONCE_EXPIRED recovery: called once after a send or receipt
// wait reports a nonce-expired error, before the caller's single retry.
func (s *Signer) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.source.PendingNonceAt(ctx, s.address)
	if err != nil {
		return fmt.Errorf("chain: reset nonce: %w", err)
	}
	s.nonce = n
	s.primed = true
	return nil
}

// IsNonceExpired reports whether err represents a NONCE_EXPIRED (or
// equivalent "nonce too low", "nonce has already been used" or "invalid
// nonce") condition from the RPC. A "replacement transaction underpriced"
// error is not treated as nonce-expired.
func IsNonceExpired(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNonceExpired) {
		return true
	}
	msg := err.Error()
	return containsAny(msg, []string{
		"nonce too low",
		"NONCE_EXPIRED",
		"nonce has already been used",
		"invalid nonce",
	})
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

// indexOf is a tiny case-sensitive substring search so this file doesn't need
// the "strings" import solely for one helper.
func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

// WithRetryOnNonceExpired runs fn once; if it fails with a nonce-expired
// error, it resets the signer and runs fn exactly one more time, matching
// spec.md §4.3's "retry at most once per operation" contract.
func WithRetryOnNonceExpired(ctx context.Context, s *Signer, fn func() error) error {
	err := fn()
	if err == nil || !IsNonceExpired(err) {
		return err
	}
	if resetErr := s.Reset(ctx); resetErr != nil {
		return fmt.Errorf("chain: nonce-expired recovery failed: %w (original: %v)", resetErr, err)
	}
	return fn()
}
