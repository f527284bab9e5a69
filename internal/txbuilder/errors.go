package txbuilder

import "github.com/ethereum/go-ethereum"

type EstimationStage string

const (
	StagePrice    EstimationStage = "gas_price"
	StageSimulate EstimationStage = "estimate_gas"
)

// EstimationError means the node could not price or simulate the call. A
// simulation failure usually means the call would revert on chain.
type EstimationError struct {
	Stage   EstimationStage
	Method  string
	CallMsg ethereum.CallMsg
	Err     error
}

func (e *EstimationError) Error() string {
	if e == nil {
		return "estimation failed"
	}
	msg := "estimation failed"
	if e.Method != "" {
		msg += " for " + e.Method
	}
	if e.Stage != "" {
		msg += " (" + string(e.Stage) + ")"
	}
	if e.Err == nil {
		return msg
	}
	return msg + ": " + e.Err.Error()
}

func (e *EstimationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
