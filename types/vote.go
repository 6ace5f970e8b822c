package types

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// SignedMsgType discriminates the kinds of signable consensus messages.
type SignedMsgType uint8

const (
	SignedMsgTypeUnknown   SignedMsgType = 0x00
	SignedMsgTypePrevote   SignedMsgType = 0x01
	SignedMsgTypePrecommit SignedMsgType = 0x02
	SignedMsgTypeProposal  SignedMsgType = 0x20
)

// IsVoteType returns true for the two vote kinds.
func (t SignedMsgType) IsVoteType() bool {
	return t == SignedMsgTypePrevote || t == SignedMsgTypePrecommit
}

// Timestamp is the wall-clock time carried in signable messages, split the
// same way the wire encoding carries it.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// Errors
var (
	ErrInvalidVote        = errors.New("invalid vote")
	ErrUnexpectedVoteType = errors.New("unexpected vote type")
)

// Vote is a prevote or precommit for one block (or nil) at one coordinate.
type Vote struct {
	Type             SignedMsgType
	Height           int64
	Round            int32
	BlockID          *BlockID
	Timestamp        Timestamp
	ValidatorAddress []byte
	ValidatorIndex   int32
	Signature        Signature
}

// Validate checks the structural invariants of an incoming vote before it is
// considered for signing.
func (v *Vote) Validate() error {
	if v == nil {
		return ErrInvalidVote
	}
	if !v.Type.IsVoteType() {
		return fmt.Errorf("%w: %d", ErrUnexpectedVoteType, v.Type)
	}
	if v.Height < 0 {
		return fmt.Errorf("%w: negative height %d", ErrInvalidVote, v.Height)
	}
	if v.Round < 0 {
		return fmt.Errorf("%w: negative round %d", ErrInvalidVote, v.Round)
	}
	return nil
}

// VoteSignBytes returns the canonical bytes to sign for a vote. This is the
// exact input to the signature and must match the validator's own
// construction bit-for-bit.
func VoteSignBytes(chainID ChainID, version ProtocolVersion, v *Vote) []byte {
	return canonicalVoteBytes(chainID, version, v)
}

// VerifyVoteSignature verifies the signature on a vote against the canonical
// sign bytes for the given chain and protocol version.
func VerifyVoteSignature(chainID ChainID, version ProtocolVersion, v *Vote, pubKey PublicKey) error {
	if v == nil {
		return ErrInvalidVote
	}
	if len(v.Signature) != SignatureSize {
		return errors.New("vote has no signature")
	}
	if len(pubKey) != PublicKeySize {
		return errors.New("invalid public key size")
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), VoteSignBytes(chainID, version, v), v.Signature) {
		return errors.New("invalid vote signature")
	}
	return nil
}

func appendTimestamp(buf []byte, t Timestamp) []byte {
	var inner []byte
	inner = protowire.AppendTag(inner, 1, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(t.Seconds))
	inner = protowire.AppendTag(inner, 2, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(t.Nanos))
	return protowire.AppendBytes(buf, inner)
}

func consumeTimestamp(data []byte) (Timestamp, error) {
	var t Timestamp
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return t, protowire.ParseError(n)
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return t, protowire.ParseError(n)
			}
			t.Seconds = int64(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return t, protowire.ParseError(n)
			}
			t.Nanos = int32(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return t, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return t, nil
}

// MarshalBinary encodes the vote for the wire.
func (v *Vote) MarshalBinary() ([]byte, error) {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(v.Type))
	buf = protowire.AppendTag(buf, 2, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(v.Height))
	buf = protowire.AppendTag(buf, 3, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(uint32(v.Round)))
	if v.BlockID != nil {
		buf = protowire.AppendTag(buf, 4, protowire.BytesType)
		buf = protowire.AppendBytes(buf, v.BlockID.marshalTo(nil))
	}
	buf = protowire.AppendTag(buf, 5, protowire.BytesType)
	buf = appendTimestamp(buf, v.Timestamp)
	buf = protowire.AppendTag(buf, 6, protowire.BytesType)
	buf = protowire.AppendBytes(buf, v.ValidatorAddress)
	buf = protowire.AppendTag(buf, 7, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(uint32(v.ValidatorIndex)))
	if len(v.Signature) > 0 {
		buf = protowire.AppendTag(buf, 8, protowire.BytesType)
		buf = protowire.AppendBytes(buf, v.Signature)
	}
	return buf, nil
}

// UnmarshalBinary decodes a vote from the wire.
func (v *Vote) UnmarshalBinary(data []byte) error {
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
			v.Type = SignedMsgType(val)
			data = data[n:]
		case 2:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			v.Height = int64(val)
			data = data[n:]
		case 3:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			v.Round = int32(val)
			data = data[n:]
		case 4:
			val, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			v.BlockID = new(BlockID)
			if err := v.BlockID.unmarshal(val); err != nil {
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
			v.Timestamp = ts
			data = data[n:]
		case 6:
			val, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			v.ValidatorAddress = append([]byte(nil), val...)
			data = data[n:]
		case 7:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			v.ValidatorIndex = int32(val)
			data = data[n:]
		case 8:
			val, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			v.Signature = append(Signature(nil), val...)
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
