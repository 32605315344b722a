package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sethvargo/go-retry"

	"github.com/comfygrid/comfygrid/internal/devicepool"
)

// JobStore is the durable side of the assignment protocol.  TryClaimJob must
// be atomic: of any set of concurrent claims for the same job, exactly one
// returns true.
type JobStore interface {
	TryClaimJob(ctx context.Context, jobID, workerID string) (bool, error)
	ReleaseJob(ctx context.Context, jobID, workerID string) error
	UpdateJobState(ctx context.Context, jobID, state string) error
}

// Pusher delivers frames to a device's event stream.
type Pusher interface {
	PushExec(deviceID string, payload interface{}) error
	PushCancel(deviceID string, generationID string) error
}

// TaskResult is the terminal outcome handed to the submitter.
type TaskResult struct {
	GenerationID string          `json:"generationId"`
	DeviceID     string          `json:"deviceId"`
	State        State           `json:"state"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// PendingTask is a live task plus the submitter's reply address.
type PendingTask struct {
	Task    *AiTask
	ReplyTo string
}

var (
	ErrNoCapableDevice = errors.New("no capable device accepted the task")
	ErrUnknownTask     = errors.New("unknown task")
	ErrWaitTimeout     = errors.New("result not ready before deadline")
)

const (
	defaultPollInterval   = 500 * time.Millisecond
	defaultWaitDeadline   = 30 * time.Second
	defaultPushInterval   = time.Second
	defaultCompletedTasks = 1024
)

// Registry tracks in-flight tasks and their terminal results.
type Registry struct {
	store JobStore
	pool  *devicepool.Pool
	push  Pusher

	pending sync.Map // generation id -> *PendingTask

	mu        sync.Mutex
	completed *lru.Cache // generation id -> *TaskResult, consumed once

	pollInterval time.Duration
	waitDeadline time.Duration
	pushInterval time.Duration

	// deliver posts a result to a reply-to address; swappable in tests
	deliver func(ctx context.Context, replyTo string, result *TaskResult) error
}

// NewRegistry creates a task registry.  The completed-task buffer is bounded:
// results nobody consumes age out instead of accumulating.
func NewRegistry(store JobStore, pool *devicepool.Pool, push Pusher) (*Registry, error) {
	completed, err := lru.New(defaultCompletedTasks)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		store:        store,
		pool:         pool,
		push:         push,
		completed:    completed,
		pollInterval: defaultPollInterval,
		waitDeadline: defaultWaitDeadline,
		pushInterval: defaultPushInterval,
	}
	r.deliver = r.postReplyTo
	return r, nil
}

// SetIntervals overrides the wait-loop and push-retry timings.  Zero values
// keep the current setting.
func (r *Registry) SetIntervals(poll, deadline, push time.Duration) {
	if poll > 0 {
		r.pollInterval = poll
	}
	if deadline > 0 {
		r.waitDeadline = deadline
	}
	if push > 0 {
		r.pushInterval = push
	}
}

// Assign walks the candidate devices in order, claiming the job durably
// before pushing it.  A lost claim or failed push moves on to the next
// candidate; only the winner's device id is returned.  The claim is the only
// synchronization: no lock is held between matching and assignment, so a
// candidate that changed since matching (its Updates counter moved) is
// re-verified and released when it no longer qualifies.
func (r *Registry) Assign(ctx context.Context, generationID, jobID, replyTo string, payload interface{}, candidates []*devicepool.ComfyAgent, pushRetries int) (string, error) {
	for _, agent := range candidates {
		updates := agent.Updates()

		claimed, err := r.store.TryClaimJob(ctx, jobID, agent.DeviceID)
		if err != nil {
			return "", fmt.Errorf("claim job %s: %w", jobID, err)
		}
		if !claimed {
			// another assigner won this job on this device
			continue
		}

		if !agent.Enabled() || agent.Updates() != updates {
			slog.Debug("candidate changed between match and claim, releasing",
				"device", agent.DeviceID, "job", jobID)
			r.releaseQuietly(ctx, jobID, agent.DeviceID)
			continue
		}

		if err := r.pushWithRetry(ctx, agent.DeviceID, payload, pushRetries); err != nil {
			slog.Warn("push to device failed, trying next candidate",
				"device", agent.DeviceID, "job", jobID, "error", err)
			r.releaseQuietly(ctx, jobID, agent.DeviceID)
			continue
		}

		task := newAiTask(generationID, jobID, agent.DeviceID)
		if err := task.assign(); err != nil {
			return "", err
		}
		r.pending.Store(generationID, &PendingTask{Task: task, ReplyTo: replyTo})
		r.pool.MarkQueued(agent.DeviceID, generationID)
		return agent.DeviceID, nil
	}
	return "", ErrNoCapableDevice
}

func (r *Registry) pushWithRetry(ctx context.Context, deviceID string, payload interface{}, retries int) error {
	if retries < 1 {
		retries = 1
	}
	return retry.Do(ctx,
		retry.WithMaxRetries(uint64(retries), retry.NewConstant(r.pushInterval)),
		func(ctx context.Context) error {
			if err := r.push.PushExec(deviceID, payload); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
}

func (r *Registry) releaseQuietly(ctx context.Context, jobID, deviceID string) {
	if err := r.store.ReleaseJob(ctx, jobID, deviceID); err != nil {
		slog.Error("release job failed", "job", jobID, "device", deviceID, "error", err)
	}
}

// Pending returns the live task for a generation id, or nil.
func (r *Registry) Pending(generationID string) *PendingTask {
	if v, ok := r.pending.Load(generationID); ok {
		return v.(*PendingTask)
	}
	return nil
}

// OnStarted records that the device began executing the generation.
func (r *Registry) OnStarted(ctx context.Context, generationID string) error {
	pt := r.Pending(generationID)
	if pt == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, generationID)
	}
	if err := pt.Task.start(); err != nil {
		return err
	}
	r.pool.MarkRunning(pt.Task.DeviceID, generationID)
	return r.store.UpdateJobState(ctx, pt.Task.JobID, string(StateStarted))
}

// OnExecuted records that the device finished executing, ahead of the result
// callback.
func (r *Registry) OnExecuted(ctx context.Context, generationID string) error {
	pt := r.Pending(generationID)
	if pt == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, generationID)
	}
	if err := pt.Task.execute(); err != nil {
		return err
	}
	return r.store.UpdateJobState(ctx, pt.Task.JobID, string(StateExecuted))
}

// Complete finalizes a generation with its parsed result and moves it to the
// recently-completed registry.
func (r *Registry) Complete(ctx context.Context, generationID string, result json.RawMessage) error {
	pt := r.Pending(generationID)
	if pt == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, generationID)
	}
	if err := pt.Task.complete(); err != nil {
		return err
	}

	r.finalize(ctx, pt, &TaskResult{
		GenerationID: generationID,
		DeviceID:     pt.Task.DeviceID,
		State:        StateCompleted,
		Result:       result,
	})
	return r.store.UpdateJobState(ctx, pt.Task.JobID, string(StateCompleted))
}

// Fail finalizes a generation with an error.
func (r *Registry) Fail(ctx context.Context, generationID, message string) error {
	pt := r.Pending(generationID)
	if pt == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, generationID)
	}
	if err := pt.Task.fail(); err != nil {
		return err
	}

	r.finalize(ctx, pt, &TaskResult{
		GenerationID: generationID,
		DeviceID:     pt.Task.DeviceID,
		State:        StateFailed,
		Error:        message,
	})
	return r.store.UpdateJobState(ctx, pt.Task.JobID, string(StateFailed))
}

// Cancel stops a queued or running generation and tells the device.
func (r *Registry) Cancel(ctx context.Context, generationID string) error {
	pt := r.Pending(generationID)
	if pt == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, generationID)
	}
	if err := pt.Task.cancel(); err != nil {
		return err
	}

	if err := r.push.PushCancel(pt.Task.DeviceID, generationID); err != nil {
		slog.Warn("cancel push failed", "device", pt.Task.DeviceID,
			"generation", generationID, "error", err)
	}

	r.finalize(ctx, pt, &TaskResult{
		GenerationID: generationID,
		DeviceID:     pt.Task.DeviceID,
		State:        StateCancelled,
	})
	return r.store.UpdateJobState(ctx, pt.Task.JobID, string(StateCancelled))
}

func (r *Registry) finalize(ctx context.Context, pt *PendingTask, result *TaskResult) {
	r.pending.Delete(result.GenerationID)
	r.pool.MarkDone(pt.Task.DeviceID, result.GenerationID)

	r.mu.Lock()
	r.completed.Add(result.GenerationID, result)
	r.mu.Unlock()

	if pt.ReplyTo != "" {
		go func() {
			if err := r.deliver(context.WithoutCancel(ctx), pt.ReplyTo, result); err != nil {
				slog.Error("reply-to delivery failed",
					"generation", result.GenerationID, "reply_to", pt.ReplyTo, "error", err)
			}
		}()
	}
}

// TakeResult consumes the terminal result for a generation, exactly once.
func (r *Registry) TakeResult(generationID string) (*TaskResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.completed.Get(generationID)
	if !ok {
		return nil, false
	}
	r.completed.Remove(generationID)
	return v.(*TaskResult), true
}

// Wait polls for a generation's terminal result at a fixed interval until the
// deadline.  A timeout is not a failure: the result, when it arrives, goes
// out through the reply-to address instead.
func (r *Registry) Wait(ctx context.Context, generationID string) (*TaskResult, error) {
	deadline := time.NewTimer(r.waitDeadline)
	defer deadline.Stop()
	tick := time.NewTicker(r.pollInterval)
	defer tick.Stop()

	for {
		if result, ok := r.TakeResult(generationID); ok {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrWaitTimeout
		case <-tick.C:
		}
	}
}
