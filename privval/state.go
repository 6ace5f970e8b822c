package privval

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/Huginntech/tmkms/types"
)

// Errors
var (
	ErrHeightRegression = errors.New("height regression")
	ErrRoundRegression  = errors.New("round regression")
	ErrStepRegression   = errors.New("step regression")
	ErrDoubleSign       = errors.New("double sign attempt")
	ErrConflictingData  = errors.New("equivocation: same coordinate, different sign bytes")
	ErrNoCachedSig      = errors.New("repeated coordinate but no cached signature")
	ErrStateCorrupted   = errors.New("sign state file is corrupted")
	ErrPersistFailure   = errors.New("failed to durably record sign state")
)

// Step values ordering a coordinate within one round. Proposals come before
// votes.
const (
	StepProposal  int8 = 0
	StepPrevote   int8 = 1
	StepPrecommit int8 = 2
)

// StepForMsgType maps a signable message type to its step value.
func StepForMsgType(t types.SignedMsgType) (int8, error) {
	switch t {
	case types.SignedMsgTypeProposal:
		return StepProposal, nil
	case types.SignedMsgTypePrevote:
		return StepPrevote, nil
	case types.SignedMsgTypePrecommit:
		return StepPrecommit, nil
	default:
		return 0, fmt.Errorf("no step for message type %d", t)
	}
}

// SignState is the persisted record of the highest coordinate ever signed
// for one chain, with the fingerprint of the sign bytes and the signature
// produced there.
type SignState struct {
	Height        int64
	Round         int32
	Step          int8
	SignBytesHash types.Hash
	Signature     types.Signature
}

// CheckHRS checks whether signing at (height, round, step) is allowed.
// Returns nil when the candidate coordinate is strictly higher,
// ErrDoubleSign when it equals the last signed coordinate (the caller must
// then compare fingerprints), and a regression error when it is lower.
func (ss *SignState) CheckHRS(height int64, round int32, step int8) error {
	if ss.Height > height {
		return errors.Wrapf(ErrHeightRegression, "last %d, got %d", ss.Height, height)
	}
	if ss.Height == height {
		if ss.Round > round {
			return errors.Wrapf(ErrRoundRegression, "height %d: last round %d, got %d", height, ss.Round, round)
		}
		if ss.Round == round {
			if ss.Step > step {
				return errors.Wrapf(ErrStepRegression, "height %d round %d: last step %d, got %d", height, round, ss.Step, step)
			}
			if ss.Step == step {
				return ErrDoubleSign
			}
		}
	}
	return nil
}
