package types

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// PartSetHeader describes how the proposed block is split into parts for
// gossip. The signer treats it as an opaque component of the block reference.
type PartSetHeader struct {
	Total uint32
	Hash  Hash
}

// BlockID is the reference a vote or proposal points at. A nil BlockID means
// a vote for nil (no block).
type BlockID struct {
	Hash        Hash
	PartsHeader PartSetHeader
}

// IsZero returns true if the block id references nothing.
func (b *BlockID) IsZero() bool {
	return b == nil || (b.Hash.IsEmpty() && b.PartsHeader.Total == 0 && b.PartsHeader.Hash.IsEmpty())
}

// Equal compares two block ids, treating nil as the zero reference.
func (b *BlockID) Equal(other *BlockID) bool {
	if b.IsZero() || other.IsZero() {
		return b.IsZero() && other.IsZero()
	}
	return b.Hash.Equal(other.Hash) &&
		b.PartsHeader.Total == other.PartsHeader.Total &&
		b.PartsHeader.Hash.Equal(other.PartsHeader.Hash)
}

func (p *PartSetHeader) marshalTo(buf []byte) []byte {
	buf = protowire.AppendTag(buf, 1, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(p.Total))
	buf = protowire.AppendTag(buf, 2, protowire.BytesType)
	buf = protowire.AppendBytes(buf, p.Hash)
	return buf
}

func (p *PartSetHeader) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			p.Total = uint32(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			p.Hash = append(Hash(nil), v...)
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

func (b *BlockID) marshalTo(buf []byte) []byte {
	buf = protowire.AppendTag(buf, 1, protowire.BytesType)
	buf = protowire.AppendBytes(buf, b.Hash)
	buf = protowire.AppendTag(buf, 2, protowire.BytesType)
	buf = protowire.AppendBytes(buf, b.PartsHeader.marshalTo(nil))
	return buf
}

func (b *BlockID) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b.Hash = append(Hash(nil), v...)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := b.PartsHeader.unmarshal(v); err != nil {
				return fmt.Errorf("parts header: %w", err)
			}
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
