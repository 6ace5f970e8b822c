package wire

import (
	"crypto/sha256"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Huginntech/tmkms/types"
)

// Codec errors
var (
	ErrUnknownMessage = errors.New("unknown remote signer message")
	ErrTruncatedBody  = errors.New("truncated message body")
)

// Registered legacy message names. The 4-byte legacy prefix is derived from
// the name by hashing and skipping zero bytes, so wire compatibility follows
// from the names alone.
const (
	namePubKeyRequest          = "tendermint/remotesigner/PubKeyRequest"
	namePubKeyResponse         = "tendermint/remotesigner/PubKeyResponse"
	nameSignVoteRequest        = "tendermint/remotesigner/SignVoteRequest"
	nameSignedVoteResponse     = "tendermint/remotesigner/SignedVoteResponse"
	nameSignProposalRequest    = "tendermint/remotesigner/SignProposalRequest"
	nameSignedProposalResponse = "tendermint/remotesigner/SignedProposalResponse"
	namePingRequest            = "tendermint/remotesigner/PingRequest"
	namePingResponse           = "tendermint/remotesigner/PingResponse"
	nameErrorResponse          = "tendermint/remotesigner/ErrorResponse"
)

// Envelope field numbers for the current codec.
const (
	fieldPubKeyRequest          = 1
	fieldPubKeyResponse         = 2
	fieldSignVoteRequest        = 3
	fieldSignedVoteResponse     = 4
	fieldSignProposalRequest    = 5
	fieldSignedProposalResponse = 6
	fieldPingRequest            = 7
	fieldPingResponse           = 8
	fieldErrorResponse          = 9
)

// namePrefix derives the legacy 4-byte prefix of a registered name: hash the
// name, skip leading zero bytes, skip the 3 disambiguation bytes, skip zero
// bytes again, take 4.
func namePrefix(name string) [4]byte {
	h := sha256.Sum256([]byte(name))
	i := 0
	for h[i] == 0 {
		i++
	}
	i += 3
	for h[i] == 0 {
		i++
	}
	var p [4]byte
	copy(p[:], h[i:i+4])
	return p
}

var legacyPrefixes = map[[4]byte]string{
	namePrefix(namePubKeyRequest):          namePubKeyRequest,
	namePrefix(namePubKeyResponse):         namePubKeyResponse,
	namePrefix(nameSignVoteRequest):        nameSignVoteRequest,
	namePrefix(nameSignedVoteResponse):     nameSignedVoteResponse,
	namePrefix(nameSignProposalRequest):    nameSignProposalRequest,
	namePrefix(nameSignedProposalResponse): nameSignedProposalResponse,
	namePrefix(namePingRequest):            namePingRequest,
	namePrefix(namePingResponse):           namePingResponse,
	namePrefix(nameErrorResponse):          nameErrorResponse,
}

// Encode serializes a message body under the given protocol version. The
// result is the frame body; framing is applied separately.
func Encode(version types.ProtocolVersion, msg Msg) ([]byte, error) {
	name, field, body, err := encodeFields(msg)
	if err != nil {
		return nil, err
	}
	if version == types.VersionLegacy {
		prefix := namePrefix(name)
		return append(prefix[:], body...), nil
	}
	var buf []byte
	buf = protowire.AppendTag(buf, protowire.Number(field), protowire.BytesType)
	buf = protowire.AppendBytes(buf, body)
	return buf, nil
}

// Decode parses a frame body into a typed message under the given protocol
// version.
func Decode(version types.ProtocolVersion, body []byte) (Msg, error) {
	if version == types.VersionLegacy {
		if len(body) < 4 {
			return nil, ErrTruncatedBody
		}
		var prefix [4]byte
		copy(prefix[:], body[:4])
		name, ok := legacyPrefixes[prefix]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownMessage, "prefix %x", prefix)
		}
		return decodeFields(name, body[4:])
	}

	num, typ, n := protowire.ConsumeTag(body)
	if n < 0 {
		return nil, errors.Wrap(protowire.ParseError(n), "envelope tag")
	}
	if typ != protowire.BytesType {
		return nil, errors.Wrapf(ErrUnknownMessage, "envelope wire type %d", typ)
	}
	inner, m := protowire.ConsumeBytes(body[n:])
	if m < 0 {
		return nil, errors.Wrap(protowire.ParseError(m), "envelope body")
	}
	name, ok := map[protowire.Number]string{
		fieldPubKeyRequest:          namePubKeyRequest,
		fieldPubKeyResponse:         namePubKeyResponse,
		fieldSignVoteRequest:        nameSignVoteRequest,
		fieldSignedVoteResponse:     nameSignedVoteResponse,
		fieldSignProposalRequest:    nameSignProposalRequest,
		fieldSignedProposalResponse: nameSignedProposalResponse,
		fieldPingRequest:            namePingRequest,
		fieldPingResponse:           namePingResponse,
		fieldErrorResponse:          nameErrorResponse,
	}[num]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMessage, "envelope field %d", num)
	}
	return decodeFields(name, inner)
}

func encodeFields(msg Msg) (name string, field int, body []byte, err error) {
	switch m := msg.(type) {
	case *PingRequest:
		return namePingRequest, fieldPingRequest, nil, nil
	case *PingResponse:
		return namePingResponse, fieldPingResponse, nil, nil
	case *PubKeyRequest:
		var buf []byte
		if m.ChainID != "" {
			buf = protowire.AppendTag(buf, 1, protowire.BytesType)
			buf = protowire.AppendBytes(buf, []byte(m.ChainID))
		}
		return namePubKeyRequest, fieldPubKeyRequest, buf, nil
	case *PubKeyResponse:
		var buf []byte
		if len(m.PubKey) > 0 {
			buf = protowire.AppendTag(buf, 1, protowire.BytesType)
			buf = protowire.AppendBytes(buf, m.PubKey)
		}
		buf = appendError(buf, 2, m.Error)
		return namePubKeyResponse, fieldPubKeyResponse, buf, nil
	case *SignVoteRequest:
		var buf []byte
		if m.Vote != nil {
			vb, err := m.Vote.MarshalBinary()
			if err != nil {
				return "", 0, nil, err
			}
			buf = protowire.AppendTag(buf, 1, protowire.BytesType)
			buf = protowire.AppendBytes(buf, vb)
		}
		if m.ChainID != "" {
			buf = protowire.AppendTag(buf, 2, protowire.BytesType)
			buf = protowire.AppendBytes(buf, []byte(m.ChainID))
		}
		return nameSignVoteRequest, fieldSignVoteRequest, buf, nil
	case *SignedVoteResponse:
		var buf []byte
		if m.Vote != nil {
			vb, err := m.Vote.MarshalBinary()
			if err != nil {
				return "", 0, nil, err
			}
			buf = protowire.AppendTag(buf, 1, protowire.BytesType)
			buf = protowire.AppendBytes(buf, vb)
		}
		buf = appendError(buf, 2, m.Error)
		return nameSignedVoteResponse, fieldSignedVoteResponse, buf, nil
	case *SignProposalRequest:
		var buf []byte
		if m.Proposal != nil {
			pb, err := m.Proposal.MarshalBinary()
			if err != nil {
				return "", 0, nil, err
			}
			buf = protowire.AppendTag(buf, 1, protowire.BytesType)
			buf = protowire.AppendBytes(buf, pb)
		}
		if m.ChainID != "" {
			buf = protowire.AppendTag(buf, 2, protowire.BytesType)
			buf = protowire.AppendBytes(buf, []byte(m.ChainID))
		}
		return nameSignProposalRequest, fieldSignProposalRequest, buf, nil
	case *SignedProposalResponse:
		var buf []byte
		if m.Proposal != nil {
			pb, err := m.Proposal.MarshalBinary()
			if err != nil {
				return "", 0, nil, err
			}
			buf = protowire.AppendTag(buf, 1, protowire.BytesType)
			buf = protowire.AppendBytes(buf, pb)
		}
		buf = appendError(buf, 2, m.Error)
		return nameSignedProposalResponse, fieldSignedProposalResponse, buf, nil
	case *ErrorResponse:
		var buf []byte
		buf = appendError(buf, 1, m.Error)
		return nameErrorResponse, fieldErrorResponse, buf, nil
	default:
		return "", 0, nil, errors.Wrapf(ErrUnknownMessage, "%T", msg)
	}
}

func decodeFields(name string, body []byte) (Msg, error) {
	switch name {
	case namePingRequest:
		return &PingRequest{}, nil
	case namePingResponse:
		return &PingResponse{}, nil
	case namePubKeyRequest:
		msg := &PubKeyRequest{}
		err := eachField(body, func(num protowire.Number, val []byte) error {
			if num == 1 {
				msg.ChainID = types.ChainID(val)
			}
			return nil
		})
		return msg, err
	case namePubKeyResponse:
		msg := &PubKeyResponse{}
		err := eachField(body, func(num protowire.Number, val []byte) error {
			switch num {
			case 1:
				msg.PubKey = append(types.PublicKey(nil), val...)
			case 2:
				e, err := consumeError(val)
				if err != nil {
					return err
				}
				msg.Error = e
			}
			return nil
		})
		return msg, err
	case nameSignVoteRequest:
		msg := &SignVoteRequest{}
		err := eachField(body, func(num protowire.Number, val []byte) error {
			switch num {
			case 1:
				msg.Vote = new(types.Vote)
				return msg.Vote.UnmarshalBinary(val)
			case 2:
				msg.ChainID = types.ChainID(val)
			}
			return nil
		})
		return msg, err
	case nameSignedVoteResponse:
		msg := &SignedVoteResponse{}
		err := eachField(body, func(num protowire.Number, val []byte) error {
			switch num {
			case 1:
				msg.Vote = new(types.Vote)
				return msg.Vote.UnmarshalBinary(val)
			case 2:
				e, err := consumeError(val)
				if err != nil {
					return err
				}
				msg.Error = e
			}
			return nil
		})
		return msg, err
	case nameSignProposalRequest:
		msg := &SignProposalRequest{}
		err := eachField(body, func(num protowire.Number, val []byte) error {
			switch num {
			case 1:
				msg.Proposal = new(types.Proposal)
				return msg.Proposal.UnmarshalBinary(val)
			case 2:
				msg.ChainID = types.ChainID(val)
			}
			return nil
		})
		return msg, err
	case nameSignedProposalResponse:
		msg := &SignedProposalResponse{}
		err := eachField(body, func(num protowire.Number, val []byte) error {
			switch num {
			case 1:
				msg.Proposal = new(types.Proposal)
				return msg.Proposal.UnmarshalBinary(val)
			case 2:
				e, err := consumeError(val)
				if err != nil {
					return err
				}
				msg.Error = e
			}
			return nil
		})
		return msg, err
	case nameErrorResponse:
		msg := &ErrorResponse{}
		err := eachField(body, func(num protowire.Number, val []byte) error {
			if num == 1 {
				e, err := consumeError(val)
				if err != nil {
					return err
				}
				msg.Error = e
			}
			return nil
		})
		return msg, err
	default:
		return nil, errors.Wrap(ErrUnknownMessage, name)
	}
}

// eachField walks the length-delimited fields of a body, handing each to fn.
// Non-bytes fields are skipped; the closed message set only uses
// length-delimited and varint fields, and varints appear only inside
// sub-messages handled by their own unmarshalers, except the error code,
// which consumeError handles.
func eachField(body []byte, fn func(num protowire.Number, val []byte) error) error {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return protowire.ParseError(n)
		}
		body = body[n:]
		if typ == protowire.BytesType {
			val, m := protowire.ConsumeBytes(body)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, val); err != nil {
				return err
			}
			body = body[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, body)
		if m < 0 {
			return protowire.ParseError(m)
		}
		body = body[m:]
	}
	return nil
}

func appendError(buf []byte, field protowire.Number, e *RemoteSignerError) []byte {
	if e == nil {
		return buf
	}
	var inner []byte
	inner = protowire.AppendTag(inner, 1, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(uint32(e.Code)))
	inner = protowire.AppendTag(inner, 2, protowire.BytesType)
	inner = protowire.AppendBytes(inner, []byte(e.Description))
	buf = protowire.AppendTag(buf, field, protowire.BytesType)
	return protowire.AppendBytes(buf, inner)
}

func consumeError(data []byte) (*RemoteSignerError, error) {
	e := &RemoteSignerError{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			e.Code = int32(v)
			data = data[m:]
		case num == 2 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			e.Description = string(v)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			data = data[m:]
		}
	}
	return e, nil
}

// sanity check at init: prefix derivation must be collision-free over the
// registered set.
var _ = func() struct{} {
	if len(legacyPrefixes) != 9 {
		panic("legacy prefix collision in registered message set")
	}
	return struct{}{}
}()
