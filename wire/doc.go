// Package wire implements the remote signer message protocol.
//
// A frame on the wire is a uvarint byte length followed by the message body.
// The body is one of a closed set of request/response variants. Two codecs
// exist:
//
//   - legacy: the body starts with a 4-byte prefix derived from the
//     message's registered name (tendermint/remotesigner/<Kind>), followed
//     by the field-tagged encoding of the message.
//   - current: the body is an envelope with a single length-delimited field
//     whose field number discriminates the variant.
//
// Both codecs are deterministic and transport-agnostic: the same bytes flow
// over an encrypted TCP connection and a plain UNIX socket. Frames above
// MaxFrameSize are rejected before allocation so a corrupted or hostile
// peer cannot force unbounded reads.
package wire
