package wire

import (
	"fmt"

	"github.com/Huginntech/tmkms/types"
)

// Msg is one of the closed set of remote signer protocol messages.
type Msg interface {
	isRemoteSignerMsg()
}

// Remote signer error codes.
const (
	CodeInternalError    int32 = 1
	CodeDecodeError      int32 = 2
	CodeChainIDMismatch  int32 = 3
	CodeExceedsMaxHeight int32 = 4
	CodeDoubleSign       int32 = 5
	CodeProviderError    int32 = 6
	CodeStateError       int32 = 7
)

// RemoteSignerError is the structured failure reason carried in responses.
// The remote validator sees the concrete cause instead of a dropped
// connection or a silent hang.
type RemoteSignerError struct {
	Code        int32
	Description string
}

func (e *RemoteSignerError) Error() string {
	return fmt.Sprintf("remote signer error (code %d): %s", e.Code, e.Description)
}

// PingRequest is a liveness probe. It touches neither the safety state nor
// the signing provider.
type PingRequest struct{}

// PingResponse acknowledges a PingRequest.
type PingResponse struct{}

// PubKeyRequest asks for the consensus public key of a chain. ChainID may be
// empty on legacy links, in which case the link's configured chain applies.
type PubKeyRequest struct {
	ChainID types.ChainID
}

// PubKeyResponse carries the consensus public key, or an error.
type PubKeyResponse struct {
	PubKey types.PublicKey
	Error  *RemoteSignerError
}

// SignVoteRequest asks for a signature over a vote.
type SignVoteRequest struct {
	Vote    *types.Vote
	ChainID types.ChainID
}

// SignedVoteResponse carries the vote with its signature filled in, or an
// error.
type SignedVoteResponse struct {
	Vote  *types.Vote
	Error *RemoteSignerError
}

// SignProposalRequest asks for a signature over a proposal.
type SignProposalRequest struct {
	Proposal *types.Proposal
	ChainID  types.ChainID
}

// SignedProposalResponse carries the proposal with its signature filled in,
// or an error.
type SignedProposalResponse struct {
	Proposal *types.Proposal
	Error    *RemoteSignerError
}

// ErrorResponse reports a failure that is not tied to a decodable request,
// such as an unknown or malformed message body.
type ErrorResponse struct {
	Error *RemoteSignerError
}

func (*PingRequest) isRemoteSignerMsg()            {}
func (*PingResponse) isRemoteSignerMsg()           {}
func (*PubKeyRequest) isRemoteSignerMsg()          {}
func (*PubKeyResponse) isRemoteSignerMsg()         {}
func (*SignVoteRequest) isRemoteSignerMsg()        {}
func (*SignedVoteResponse) isRemoteSignerMsg()     {}
func (*SignProposalRequest) isRemoteSignerMsg()    {}
func (*SignedProposalResponse) isRemoteSignerMsg() {}
func (*ErrorResponse) isRemoteSignerMsg()          {}
