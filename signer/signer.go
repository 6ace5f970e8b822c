// Package signer turns decoded protocol requests into signed responses.
//
// The dispatcher is pure request/response transformation: it validates the
// request against the link configuration, consults the safety guard, calls
// the provider, and builds the typed response. Every failure becomes a
// structured remote error; the connection-level loop in package session
// never sees a dispatcher error, only a response to write back.
package signer

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Huginntech/tmkms/audit"
	"github.com/Huginntech/tmkms/metrics"
	"github.com/Huginntech/tmkms/privval"
	"github.com/Huginntech/tmkms/provider"
	"github.com/Huginntech/tmkms/types"
	"github.com/Huginntech/tmkms/wire"
)

// Signer handles requests for one validator link.
type Signer struct {
	chainID   types.ChainID
	version   types.ProtocolVersion
	maxHeight int64 // 0 means no ceiling
	provider  provider.Provider
	state     *privval.ChainState
	audit     *audit.Recorder
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// Config collects the dependencies of a Signer.
type Config struct {
	ChainID   types.ChainID
	Version   types.ProtocolVersion
	MaxHeight int64
	Provider  provider.Provider
	State     *privval.ChainState
	Audit     *audit.Recorder
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// New builds a Signer. Audit, Metrics and Logger may be nil.
func New(cfg Config) *Signer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	return &Signer{
		chainID:   cfg.ChainID,
		version:   cfg.Version,
		maxHeight: cfg.MaxHeight,
		provider:  cfg.Provider,
		state:     cfg.State,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With(zap.String("chain_id", cfg.ChainID.String())),
	}
}

// Handle processes one request and always produces a response. Requests are
// handled strictly one at a time per connection by the caller; the guard
// additionally serializes per chain across connections.
func (s *Signer) Handle(msg wire.Msg) wire.Msg {
	switch req := msg.(type) {
	case *wire.PingRequest:
		return &wire.PingResponse{}
	case *wire.PubKeyRequest:
		return s.handlePubKey(req)
	case *wire.SignVoteRequest:
		return s.handleSignVote(req)
	case *wire.SignProposalRequest:
		return s.handleSignProposal(req)
	default:
		return &wire.ErrorResponse{Error: &wire.RemoteSignerError{
			Code:        wire.CodeDecodeError,
			Description: "unexpected message kind",
		}}
	}
}

func (s *Signer) handlePubKey(req *wire.PubKeyRequest) wire.Msg {
	if rerr := s.checkChain(req.ChainID); rerr != nil {
		return &wire.PubKeyResponse{Error: rerr}
	}
	pub, err := s.provider.PubKey(s.chainID)
	if err != nil {
		s.metrics.ProviderErrors.WithLabelValues(s.chainID.String()).Inc()
		return &wire.PubKeyResponse{Error: &wire.RemoteSignerError{
			Code:        wire.CodeProviderError,
			Description: err.Error(),
		}}
	}
	return &wire.PubKeyResponse{PubKey: pub}
}

func (s *Signer) handleSignVote(req *wire.SignVoteRequest) wire.Msg {
	vote := req.Vote
	if err := vote.Validate(); err != nil {
		return &wire.SignedVoteResponse{Error: &wire.RemoteSignerError{
			Code:        wire.CodeDecodeError,
			Description: err.Error(),
		}}
	}
	if rerr := s.validateSignable(req.ChainID, vote.Height); rerr != nil {
		return &wire.SignedVoteResponse{Error: rerr}
	}
	step, err := privval.StepForMsgType(vote.Type)
	if err != nil {
		return &wire.SignedVoteResponse{Error: &wire.RemoteSignerError{
			Code:        wire.CodeDecodeError,
			Description: err.Error(),
		}}
	}

	signBytes := types.VoteSignBytes(s.chainID, s.version, vote)
	sig, rerr := s.guardedSign(vote.Height, vote.Round, step, signBytes)
	if rerr != nil {
		return &wire.SignedVoteResponse{Error: rerr}
	}
	vote.Signature = sig
	s.metrics.SignedVotes.WithLabelValues(s.chainID.String()).Inc()
	s.logger.Debug("signed vote",
		zap.Int64("height", vote.Height),
		zap.Int32("round", vote.Round),
		zap.Int8("step", step))
	return &wire.SignedVoteResponse{Vote: vote}
}

func (s *Signer) handleSignProposal(req *wire.SignProposalRequest) wire.Msg {
	proposal := req.Proposal
	if err := proposal.Validate(); err != nil {
		return &wire.SignedProposalResponse{Error: &wire.RemoteSignerError{
			Code:        wire.CodeDecodeError,
			Description: err.Error(),
		}}
	}
	if rerr := s.validateSignable(req.ChainID, proposal.Height); rerr != nil {
		return &wire.SignedProposalResponse{Error: rerr}
	}

	signBytes := types.ProposalSignBytes(s.chainID, s.version, proposal)
	sig, rerr := s.guardedSign(proposal.Height, proposal.Round, privval.StepProposal, signBytes)
	if rerr != nil {
		return &wire.SignedProposalResponse{Error: rerr}
	}
	proposal.Signature = sig
	s.metrics.SignedProposals.WithLabelValues(s.chainID.String()).Inc()
	s.logger.Debug("signed proposal",
		zap.Int64("height", proposal.Height),
		zap.Int32("round", proposal.Round))
	return &wire.SignedProposalResponse{Proposal: proposal}
}

// checkChain rejects requests naming a chain other than the link's. Legacy
// requests carry no chain id; an empty id means the link's chain.
func (s *Signer) checkChain(chainID types.ChainID) *wire.RemoteSignerError {
	if chainID != "" && chainID != s.chainID {
		s.metrics.ValidationRejections.WithLabelValues(s.chainID.String()).Inc()
		return &wire.RemoteSignerError{
			Code:        wire.CodeChainIDMismatch,
			Description: "request for chain " + chainID.String() + " on a link serving " + s.chainID.String(),
		}
	}
	return nil
}

// validateSignable short-circuits requests that must never reach the guard
// or the provider: wrong chain, or height above the configured ceiling.
func (s *Signer) validateSignable(chainID types.ChainID, height int64) *wire.RemoteSignerError {
	if rerr := s.checkChain(chainID); rerr != nil {
		return rerr
	}
	if s.maxHeight > 0 && height > s.maxHeight {
		s.metrics.ValidationRejections.WithLabelValues(s.chainID.String()).Inc()
		s.logger.Warn("rejecting sign request above height ceiling",
			zap.Int64("height", height),
			zap.Int64("max_height", s.maxHeight))
		return &wire.RemoteSignerError{
			Code:        wire.CodeExceedsMaxHeight,
			Description: "height exceeds configured ceiling",
		}
	}
	return nil
}

// guardedSign submits one sign operation to the safety guard and maps every
// failure class to its structured error.
func (s *Signer) guardedSign(height int64, round int32, step int8, signBytes []byte) (types.Signature, *wire.RemoteSignerError) {
	hash := types.HashBytes(signBytes)
	sig, err := s.state.Sign(height, round, step, hash, func() (types.Signature, error) {
		return s.provider.Sign(s.chainID, signBytes)
	})
	if err == nil {
		return sig, nil
	}

	switch {
	case isSafetyRejection(err):
		// The event class this daemon exists for. Never downgraded to a
		// generic failure.
		s.metrics.SafetyRejections.WithLabelValues(s.chainID.String()).Inc()
		last := s.state.Last()
		s.logger.Error("refusing to sign: consensus safety violation",
			zap.Int64("height", height),
			zap.Int32("round", round),
			zap.Int8("step", step),
			zap.Int64("last_height", last.Height),
			zap.Int32("last_round", last.Round),
			zap.Int8("last_step", last.Step),
			zap.Error(err))
		if s.audit != nil {
			s.audit.Record(s.chainID, audit.Attempt{
				Time:          time.Now(),
				Height:        height,
				Round:         round,
				Step:          step,
				SignBytesHash: hash,
				Reason:        err.Error(),
			})
		}
		return nil, &wire.RemoteSignerError{
			Code:        wire.CodeDoubleSign,
			Description: err.Error(),
		}
	case errors.Is(err, privval.ErrPersistFailure):
		s.logger.Error("sign state persistence failed; signature withheld", zap.Error(err))
		return nil, &wire.RemoteSignerError{
			Code:        wire.CodeStateError,
			Description: err.Error(),
		}
	default:
		s.metrics.ProviderErrors.WithLabelValues(s.chainID.String()).Inc()
		s.logger.Warn("signing provider failed", zap.Error(err))
		return nil, &wire.RemoteSignerError{
			Code:        wire.CodeProviderError,
			Description: err.Error(),
		}
	}
}

func isSafetyRejection(err error) bool {
	return errors.Is(err, privval.ErrHeightRegression) ||
		errors.Is(err, privval.ErrRoundRegression) ||
		errors.Is(err, privval.ErrStepRegression) ||
		errors.Is(err, privval.ErrConflictingData) ||
		errors.Is(err, privval.ErrNoCachedSig) ||
		errors.Is(err, privval.ErrDoubleSign)
}
