// Package privval implements the consensus-safety guard: the single
// authority that may approve a new signature for a chain.
//
// # Double-Sign Prevention
//
// A SignState tracks the last coordinate (height, round, step) signed for
// one chain, together with a fingerprint of the canonical sign bytes and
// the signature it produced. Before any message is signed the guard checks:
//
//	1. Never sign at a coordinate below the last signed one
//	2. At the same coordinate, sign only the exact same bytes again
//	3. Persist the new state BEFORE the signature is released
//
// Rule 2 is what makes retries safe: a validator that never saw the
// response may re-ask, and the guard answers with the cached signature
// instead of invoking the signing key a second time.
//
// # Persistence
//
// The state lives in <chain_id>_priv_validator_state.json, rewritten via
// write-to-temporary-then-rename so a crash mid-write can never leave a
// torn record. Every approved sign is additionally appended to the chain's
// sign log (package wal); if the state file is lost between runs, startup
// recovers the coordinate from the log instead of resetting to zero.
//
// A persistence failure fails the sign: a signature whose safety record did
// not durably land is never handed out, even if the provider already
// produced it.
//
// # Concurrency
//
// Each chain has its own guard with its own lock; the whole
// check-sign-persist sequence is one critical section per chain, so two
// concurrent requests can never both read the old coordinate and both be
// approved. Unrelated chains never contend.
package privval
