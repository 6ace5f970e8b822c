// Package types defines the consensus data types a remote signer operates on.
//
// The signer never assembles blocks or tracks validator sets; it only sees
// the signable surface of consensus: votes, proposals, and the block
// references they point at. The load-bearing part of this package is the
// canonical sign-bytes encoding (canonical.go), the exact byte sequence
// submitted to the signing key. That encoding is a cross-implementation
// compatibility surface and must stay bit-for-bit stable per protocol
// version.
//
// # Coordinates
//
// Every vote or proposal occupies a coordinate (height, round, step) in the
// consensus protocol for one chain. Steps are ordered:
//
//	Proposal (0) < Prevote (1) < Precommit (2)
//
// The privval package enforces that signed coordinates never regress.
//
// # Protocol versions
//
// Two wire/canonical layouts are supported: VersionLegacy (the historical
// encoding) and VersionCurrent. The version is fixed per validator link by
// configuration; there is no in-band negotiation.
package types
