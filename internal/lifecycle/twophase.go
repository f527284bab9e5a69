package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flyingMooncake/nft-Chess/internal/confirm"
	"github.com/flyingMooncake/nft-Chess/internal/contract"
	"github.com/flyingMooncake/nft-Chess/internal/journal"
	"github.com/flyingMooncake/nft-Chess/internal/metrics"
	"github.com/flyingMooncake/nft-Chess/internal/signer"
)

type State string

const (
	StateIdle              State = "idle"
	StateApprovalBuilt     State = "approval_built"
	StateApprovalSubmitted State = "approval_submitted"
	StateApprovalConfirmed State = "approval_confirmed"
	StateActionBuilt       State = "action_built"
	StateActionSubmitted   State = "action_submitted"
	StateActionConfirmed   State = "action_confirmed"
	StateFailed            State = "failed"
	// StatePartialCustody means the approval is in effect on chain but the
	// action did not complete.
	StatePartialCustody State = "partial_custody"
)

var transitions = map[State][]State{
	StateIdle:              {StateApprovalBuilt, StateFailed},
	StateApprovalBuilt:     {StateApprovalSubmitted, StateFailed},
	StateApprovalSubmitted: {StateApprovalConfirmed, StateFailed},
	StateApprovalConfirmed: {StateActionBuilt, StatePartialCustody},
	StateActionBuilt:       {StateActionSubmitted, StatePartialCustody},
	StateActionSubmitted:   {StateActionConfirmed, StatePartialCustody},
}

func (s State) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StageApprovalUnknown marks journal entries for approvals that were
// broadcast but never seen mined.
const StageApprovalUnknown = "approval_unknown"

var (
	ErrIllegalTransition = errors.New("illegal two-phase transition")
	ErrDryRun            = errors.New("two-phase operations cannot run in dry-run mode")
)

// PartialCustodyTransferError reports an action that did not complete after
// its approval was confirmed. The approval is not reversed.
type PartialCustodyTransferError struct {
	Operation    string
	ApprovalHash common.Hash
	Stage        State
	JournalID    string
	Err          error
}

func (e *PartialCustodyTransferError) Error() string {
	msg := fmt.Sprintf("%s: approval %s confirmed but action stopped at %s", e.Operation, e.ApprovalHash.Hex(), e.Stage)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PartialCustodyTransferError) Unwrap() error {
	return e.Err
}

// Executor runs one transaction through the lifecycle. *Pipeline is the
// production implementation.
type Executor interface {
	Execute(ctx context.Context, id *signer.Identity, call *contract.PendingCall, observe Observer) (*Result, error)
}

// Journal stores partial-custody outcomes for manual follow-up.
type Journal interface {
	Append(e journal.Entry) (journal.Entry, error)
}

type Request struct {
	// Name identifies the operation in logs and the journal, e.g. "create-game".
	Name     string
	Approval *contract.PendingCall
	// Spender and Amount describe the approval for the journal.
	Spender common.Address
	Amount  string
	// Verify runs after the approval is confirmed and before the action is
	// prepared.
	Verify func(ctx context.Context) error
	// Action prepares the dependent call. It is not invoked before the
	// approval is confirmed.
	Action func(ctx context.Context) (*contract.PendingCall, error)
}

type Outcome struct {
	State    State
	History  []State
	Approval *Result
	Action   *Result
	Err      error
}

func (o *Outcome) advance(to State) error {
	if !canTransition(o.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.State, to)
	}
	o.State = to
	o.History = append(o.History, to)
	return nil
}

func (o *Outcome) approvalConfirmed() bool {
	for _, s := range o.History {
		if s == StateApprovalConfirmed {
			return true
		}
	}
	return false
}

type Coordinator struct {
	exec    Executor
	journal Journal
	metrics *metrics.Recorder
	logger  *slog.Logger
}

func NewCoordinator(exec Executor, j Journal, m *metrics.Recorder, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{exec: exec, journal: j, metrics: m, logger: logger}
}

// Run executes the approval, waits for it to be mined and only then prepares
// and executes the action. Each phase queries its own nonce.
func (c *Coordinator) Run(ctx context.Context, id *signer.Identity, req Request) (*Outcome, error) {
	out := &Outcome{State: StateIdle, History: []State{StateIdle}}
	if id == nil || req.Approval == nil || req.Action == nil {
		return c.finish(id, req, out, errors.New("two-phase request requires identity, approval and action"))
	}
	log := c.logger.With("operation", req.Name, "from", id.Address().Hex())

	approval, err := c.exec.Execute(ctx, id, req.Approval, c.observer(out, StateApprovalBuilt, StateApprovalSubmitted, StateApprovalConfirmed))
	out.Approval = approval
	if err == nil && approval != nil && approval.DryRun {
		err = ErrDryRun
	}
	if err != nil {
		return c.finish(id, req, out, err)
	}
	if out.State != StateApprovalConfirmed {
		return c.finish(id, req, out, fmt.Errorf("%w: approval ended in %s", ErrIllegalTransition, out.State))
	}
	log.Info("approval confirmed", "hash", approval.Hash.Hex(), "block", blockOf(approval))

	if req.Verify != nil {
		if err := req.Verify(ctx); err != nil {
			return c.finish(id, req, out, fmt.Errorf("approval verification: %w", err))
		}
	}
	call, err := req.Action(ctx)
	if err != nil {
		return c.finish(id, req, out, fmt.Errorf("prepare action: %w", err))
	}
	action, err := c.exec.Execute(ctx, id, call, c.observer(out, StateActionBuilt, StateActionSubmitted, StateActionConfirmed))
	out.Action = action
	if err != nil {
		return c.finish(id, req, out, err)
	}
	if out.State != StateActionConfirmed {
		return c.finish(id, req, out, fmt.Errorf("%w: action ended in %s", ErrIllegalTransition, out.State))
	}
	return c.finish(id, req, out, nil)
}

func (c *Coordinator) observer(out *Outcome, built, submitted, confirmed State) Observer {
	return func(stage Stage, _ *Result) error {
		switch stage {
		case StageBuilt:
			return out.advance(built)
		case StageSubmitted:
			return out.advance(submitted)
		case StageConfirmed:
			return out.advance(confirmed)
		}
		return fmt.Errorf("%w: unknown stage %q", ErrIllegalTransition, stage)
	}
}

func (c *Coordinator) finish(id *signer.Identity, req Request, out *Outcome, err error) (*Outcome, error) {
	if err == nil {
		c.metrics.TwoPhase(req.Name, string(out.State))
		c.logger.Info("two-phase operation complete", "operation", req.Name, "action_hash", out.Action.Hash.Hex())
		return out, nil
	}
	if !out.approvalConfirmed() {
		out.State = StateFailed
		out.History = append(out.History, StateFailed)
		out.Err = err
		c.metrics.TwoPhase(req.Name, string(StateFailed))
		c.logger.Warn("two-phase operation failed before approval confirmed", "operation", req.Name, "err", err)
		if hash, ok := approvalInFlight(out.Approval, err); ok {
			c.record(id, req, journal.Entry{ApprovalHash: hash.Hex(), Stage: StageApprovalUnknown, Error: err.Error()})
			c.logger.Warn("approval may still be mined", "operation", req.Name, "approval_hash", hash.Hex())
		}
		return out, err
	}

	stage := out.State
	out.State = StatePartialCustody
	out.History = append(out.History, StatePartialCustody)
	partial := &PartialCustodyTransferError{Operation: req.Name, ApprovalHash: out.Approval.Hash, Stage: stage, Err: err}
	entry := journal.Entry{
		ApprovalHash: out.Approval.Hash.Hex(),
		Stage:        string(stage),
		Error:        err.Error(),
	}
	if out.Action != nil && out.Action.Hash != (common.Hash{}) {
		entry.ActionHash = out.Action.Hash.Hex()
	}
	partial.JournalID = c.record(id, req, entry)
	out.Err = partial
	c.metrics.TwoPhase(req.Name, string(StatePartialCustody))
	c.logger.Error("approval left in place after action failure", "operation", req.Name, "approval_hash", out.Approval.Hash.Hex(), "stage", stage, "err", err)
	return out, partial
}

// record appends a journal entry and returns its id, or "" when nothing
// was stored.
func (c *Coordinator) record(id *signer.Identity, req Request, entry journal.Entry) string {
	if c.journal == nil {
		return ""
	}
	entry.Operation = req.Name
	entry.Identity = id.Address().Hex()
	entry.Spender = req.Spender.Hex()
	entry.Amount = req.Amount
	stored, err := c.journal.Append(entry)
	if err != nil {
		c.logger.Error("journal append failed", "operation", req.Name, "err", err)
		return ""
	}
	return stored.ID
}

// approvalInFlight reports an approval that left this process but whose
// final state is unknown.
func approvalInFlight(res *Result, err error) (common.Hash, bool) {
	if res == nil || res.Signed == nil || res.DryRun {
		return common.Hash{}, false
	}
	var timeout *confirm.ConfirmationTimeoutError
	var rejected *signer.BroadcastRejectedError
	switch {
	case errors.As(err, &timeout):
	case errors.As(err, &rejected) && rejected.Ambiguous():
	default:
		return common.Hash{}, false
	}
	return res.Signed.Hash(), true
}

func blockOf(res *Result) uint64 {
	if res == nil || res.Receipt == nil {
		return 0
	}
	return res.Receipt.BlockNumber
}
