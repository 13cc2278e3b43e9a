package rebalance

import "fmt"

// ErrorKind classifies a StageError into the taxonomy spec.md §7 enumerates,
// letting a caller decide whether a cycle's failure is worth surfacing
// differently (e.g. NonceExpired is routine; MintReverted deserves a louder
// report).
type ErrorKind string

const (
	KindConfigError     ErrorKind = "config_error"
	KindRpcTransient    ErrorKind = "rpc_transient"
	KindNonceExpired    ErrorKind = "nonce_expired"
	KindUntrustedRouter ErrorKind = "untrusted_router"
	KindRouteReverted   ErrorKind = "route_reverted"
	KindMintReverted    ErrorKind = "mint_reverted"
	KindPoolNotFound    ErrorKind = "pool_not_found"
	KindDustSwap        ErrorKind = "dust_swap"
	KindCancelled       ErrorKind = "cancelled"
)

// StageError names the Stage a rebalance cycle failed in, alongside the
// underlying error and its classified Kind. The Descriptor is destroyed once
// one of these escapes the Machine (spec.md §4.5, §9): recovery on the next
// cycle is best-effort, re-derived from on-chain truth, never resumed from
// this error's Stage.
type StageError struct {
	Stage Stage
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("rebalance: %s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
