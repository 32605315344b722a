// Package tasks implements the assignment protocol for generation tasks:
// durable at-most-once claims against the job store, a per-task lifecycle
// state machine, and the submitter-facing wait loop over a bounded
// recently-completed registry.
package tasks

import (
	"fmt"
	"sync"

	"github.com/qmuntal/stateless"
)

// State is a task's lifecycle position.
type State string

const (
	StateQueued    State = "queued"
	StateAssigned  State = "assigned"
	StateStarted   State = "started"
	StateExecuted  State = "executed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

const (
	triggerAssign   = "assign"
	triggerStart    = "start"
	triggerExecute  = "execute"
	triggerComplete = "complete"
	triggerFail     = "fail"
	triggerCancel   = "cancel"
)

// AiTask is one generation's lifecycle.  Transitions go through the state
// machine so an out-of-order device signal surfaces as an error instead of
// silently corrupting the state.
type AiTask struct {
	GenerationID string
	JobID        string
	DeviceID     string

	mu  sync.Mutex
	fsm *stateless.StateMachine
}

func newAiTask(generationID, jobID, deviceID string) *AiTask {
	t := &AiTask{
		GenerationID: generationID,
		JobID:        jobID,
		DeviceID:     deviceID,
	}

	fsm := stateless.NewStateMachine(StateQueued)

	fsm.Configure(StateQueued).
		Permit(triggerAssign, StateAssigned).
		Permit(triggerCancel, StateCancelled)

	fsm.Configure(StateAssigned).
		Permit(triggerStart, StateStarted).
		Permit(triggerFail, StateFailed).
		Permit(triggerCancel, StateCancelled)

	fsm.Configure(StateStarted).
		Permit(triggerExecute, StateExecuted).
		Permit(triggerFail, StateFailed).
		Permit(triggerCancel, StateCancelled)

	fsm.Configure(StateExecuted).
		Permit(triggerComplete, StateCompleted).
		Permit(triggerFail, StateFailed)

	t.fsm = fsm
	return t
}

// State returns the task's current lifecycle state.
func (t *AiTask) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fsm.MustState().(State)
}

func (t *AiTask) fire(trigger string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fsm.Fire(trigger); err != nil {
		return fmt.Errorf("task %s: %s from %v: %w", t.GenerationID, trigger, t.fsm.MustState(), err)
	}
	return nil
}

func (t *AiTask) assign() error  { return t.fire(triggerAssign) }
func (t *AiTask) start() error   { return t.fire(triggerStart) }
func (t *AiTask) execute() error { return t.fire(triggerExecute) }
func (t *AiTask) cancel() error  { return t.fire(triggerCancel) }
func (t *AiTask) fail() error    { return t.fire(triggerFail) }

// complete drives the task to Completed, passing through any intermediate
// states a device skipped reporting.  A callback can arrive carrying the
// final history without the started/executed signals ever having been seen.
func (t *AiTask) complete() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		switch t.fsm.MustState().(State) {
		case StateAssigned:
			if err := t.fsm.Fire(triggerStart); err != nil {
				return err
			}
		case StateStarted:
			if err := t.fsm.Fire(triggerExecute); err != nil {
				return err
			}
		case StateExecuted:
			return t.fsm.Fire(triggerComplete)
		case StateCompleted:
			return nil
		default:
			return fmt.Errorf("task %s: complete from %v", t.GenerationID, t.fsm.MustState())
		}
	}
}
