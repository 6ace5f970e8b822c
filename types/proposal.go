package types

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidProposal is returned for structurally invalid proposals.
var ErrInvalidProposal = errors.New("invalid proposal")

// Proposal proposes one block at one coordinate. PolRound is -1 unless the
// proposal carries a proof-of-lock from an earlier round.
type Proposal struct {
	Height    int64
	Round     int32
	PolRound  int32
	BlockID   *BlockID
	Timestamp Timestamp
	Signature Signature
}

// Validate checks the structural invariants of an incoming proposal before
// it is considered for signing.
func (p *Proposal) Validate() error {
	if p == nil {
		return ErrInvalidProposal
	}
	if p.Height < 0 {
		return fmt.Errorf("%w: negative height %d", ErrInvalidProposal, p.Height)
	}
	if p.Round < 0 {
		return fmt.Errorf("%w: negative round %d", ErrInvalidProposal, p.Round)
	}
	if p.PolRound < -1 {
		return fmt.Errorf("%w: pol round %d", ErrInvalidProposal, p.PolRound)
	}
	return nil
}

// ProposalSignBytes returns the canonical bytes to sign for a proposal.
func ProposalSignBytes(chainID ChainID, version ProtocolVersion, p *Proposal) []byte {
	return canonicalProposalBytes(chainID, version, p)
}

// VerifyProposalSignature verifies the signature on a proposal against the
// canonical sign bytes for the given chain and protocol version.
func VerifyProposalSignature(chainID ChainID, version ProtocolVersion, p *Proposal, pubKey PublicKey) error {
	if p == nil {
		return ErrInvalidProposal
	}
	if len(p.Signature) != SignatureSize {
		return errors.New("proposal has no signature")
	}
	if len(pubKey) != PublicKeySize {
		return errors.New("invalid public key size")
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), ProposalSignBytes(chainID, version, p), p.Signature) {
		return errors.New("invalid proposal signature")
	}
	return nil
}

// MarshalBinary encodes the proposal for the wire. PolRound is zigzag
// encoded since -1 is its common value.
func (p *Proposal) MarshalBinary() ([]byte, error) {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(p.Height))
	buf = protowire.AppendTag(buf, 2, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(uint32(p.Round)))
	buf = protowire.AppendTag(buf, 3, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(p.PolRound)))
	if p.BlockID != nil {
		buf = protowire.AppendTag(buf, 4, protowire.BytesType)
		buf = protowire.AppendBytes(buf, p.BlockID.marshalTo(nil))
	}
	buf = protowire.AppendTag(buf, 5, protowire.BytesType)
	buf = appendTimestamp(buf, p.Timestamp)
	if len(p.Signature) > 0 {
		buf = protowire.AppendTag(buf, 6, protowire.BytesType)
		buf = protowire.AppendBytes(buf, p.Signature)
	}
	return buf, nil
}

// UnmarshalBinary decodes a proposal from the wire.
func (p *Proposal) UnmarshalBinary(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch num {
		case 1:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			p.Height = int64(val)
			data = data[n:]
		case 2:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			p.Round = int32(val)
			data = data[n:]
		case 3:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			p.PolRound = int32(protowire.DecodeZigZag(val))
			data = data[n:]
		case 4:
			val, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			p.BlockID = new(BlockID)
			if err := p.BlockID.unmarshal(val); err != nil {
				return fmt.Errorf("block id: %w", err)
			}
			data = data[n:]
		case 5:
			val, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			ts, err := consumeTimestamp(val)
			if err != nil {
				return fmt.Errorf("timestamp: %w", err)
			}
			p.Timestamp = ts
			data = data[n:]
		case 6:
			val, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			p.Signature = append(Signature(nil), val...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}
