package types

import "google.golang.org/protobuf/encoding/protowire"

// Canonical sign-bytes construction.
//
// The canonical encoding differs from the wire encoding of the same message:
// heights and rounds are fixed64 so the signed payload has a stable width,
// every field is emitted even when zero, and the chain id is the final
// field. The two protocol versions differ in the canonical block id layout:
// the legacy encoding places the parts header before the hash, the current
// encoding places the hash first. None of this is negotiable at runtime:
// a validator signing with one layout cannot be verified under the other.

func canonicalPartSetHeader(p PartSetHeader) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(p.Total))
	buf = protowire.AppendTag(buf, 2, protowire.BytesType)
	buf = protowire.AppendBytes(buf, p.Hash)
	return buf
}

func canonicalBlockID(version ProtocolVersion, b *BlockID) []byte {
	if b.IsZero() {
		return nil
	}
	var buf []byte
	if version == VersionLegacy {
		buf = protowire.AppendTag(buf, 1, protowire.BytesType)
		buf = protowire.AppendBytes(buf, canonicalPartSetHeader(b.PartsHeader))
		buf = protowire.AppendTag(buf, 2, protowire.BytesType)
		buf = protowire.AppendBytes(buf, b.Hash)
		return buf
	}
	buf = protowire.AppendTag(buf, 1, protowire.BytesType)
	buf = protowire.AppendBytes(buf, b.Hash)
	buf = protowire.AppendTag(buf, 2, protowire.BytesType)
	buf = protowire.AppendBytes(buf, canonicalPartSetHeader(b.PartsHeader))
	return buf
}

func canonicalTimestamp(t Timestamp) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(t.Seconds))
	buf = protowire.AppendTag(buf, 2, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(t.Nanos))
	return buf
}

func canonicalVoteBytes(chainID ChainID, version ProtocolVersion, v *Vote) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(v.Type))
	buf = protowire.AppendTag(buf, 2, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, uint64(v.Height))
	buf = protowire.AppendTag(buf, 3, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, uint64(uint32(v.Round)))
	buf = protowire.AppendTag(buf, 4, protowire.BytesType)
	buf = protowire.AppendBytes(buf, canonicalBlockID(version, v.BlockID))
	buf = protowire.AppendTag(buf, 5, protowire.BytesType)
	buf = protowire.AppendBytes(buf, canonicalTimestamp(v.Timestamp))
	buf = protowire.AppendTag(buf, 6, protowire.BytesType)
	buf = protowire.AppendBytes(buf, []byte(chainID))
	return buf
}

func canonicalProposalBytes(chainID ChainID, version ProtocolVersion, p *Proposal) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(SignedMsgTypeProposal))
	buf = protowire.AppendTag(buf, 2, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, uint64(p.Height))
	buf = protowire.AppendTag(buf, 3, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, uint64(uint32(p.Round)))
	buf = protowire.AppendTag(buf, 4, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, uint64(int64(p.PolRound)))
	buf = protowire.AppendTag(buf, 5, protowire.BytesType)
	buf = protowire.AppendBytes(buf, canonicalBlockID(version, p.BlockID))
	buf = protowire.AppendTag(buf, 6, protowire.BytesType)
	buf = protowire.AppendBytes(buf, canonicalTimestamp(p.Timestamp))
	buf = protowire.AppendTag(buf, 7, protowire.BytesType)
	buf = protowire.AppendBytes(buf, []byte(chainID))
	return buf
}
