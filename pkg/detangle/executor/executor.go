// Package executor carries out approved plan actions against the
// mutation boundary. It is the only component that mutates backend
// state, and it refuses to touch any action that a human has not
// moved to approved. Every state transition lands in the chain-of-
// custody log before the pipeline moves on.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fef5002/clouds-detangler/pkg/detangle/custody"
	"github.com/fef5002/clouds-detangler/pkg/detangle/logging"
	"github.com/fef5002/clouds-detangler/pkg/detangle/planner"
	"github.com/fef5002/clouds-detangler/pkg/detangle/remote"
	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// Typed per-action failures.
var (
	// ErrStaleState means live backend metadata diverged from the
	// plan's snapshot; the action was not executed.
	ErrStaleState = errors.New("stale state: live metadata diverges from plan snapshot")

	// ErrVerificationFailed means the post-condition check after a
	// mutation did not hold. The action is failed and never retried
	// automatically; it needs fresh human approval.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrPlanConsumed means the plan was already executed once.
	ErrPlanConsumed = errors.New("plan has already been executed")

	// ErrPlanInterrupted means the plan shows an action stuck in
	// executing, evidence of a crashed prior run that an operator must
	// resolve against the custody log first.
	ErrPlanInterrupted = errors.New("plan shows an interrupted execution")
)

// Options configures execution behavior.
type Options struct {
	// PrecheckRetries is how many times a transient pre-flight read
	// error is retried. Mutations themselves are never retried.
	PrecheckRetries int

	// RetryBackoff is the initial pre-flight retry backoff, doubled
	// per attempt.
	RetryBackoff time.Duration
}

// withDefaults fills unset options.
func (o Options) withDefaults() Options {
	if o.PrecheckRetries < 0 {
		o.PrecheckRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	return o
}

// Summary tallies one execution run.
type Summary struct {
	Verified int
	Failed   int
	Skipped  int
	Ignored  int // actions left pending, never approved
}

// Partial reports whether the run should map to exit code 1: some
// actions failed while the run continued.
func (s Summary) Partial() bool { return s.Failed > 0 }

// Executor runs one plan against a set of remotes.
type Executor struct {
	remotes  map[string]remote.Remote
	log      *custody.Log
	opts     Options
	planPath string
	logger   *logging.Logger

	mu sync.Mutex // guards plan status edits and plan persistence
}

// New creates an executor. planPath is where status updates are
// persisted after every transition; empty disables persistence (tests).
func New(remotes map[string]remote.Remote, log *custody.Log, planPath string, opts Options) *Executor {
	return &Executor{
		remotes:  remotes,
		log:      log,
		opts:     opts.withDefaults(),
		planPath: planPath,
		logger:   logging.Get("executor"),
	}
}

// Run consumes the plan exactly once. Actions against the same remote
// execute in plan order; distinct remotes run concurrently. Cancelling
// ctx stops dispatch of new actions but lets each in-flight action
// finish, verify, and log before halting.
func (e *Executor) Run(ctx context.Context, plan *types.ActionPlan) (Summary, error) {
	if plan.ExecutedAt != nil {
		return Summary{}, fmt.Errorf("%w: plan %s at %s", ErrPlanConsumed, plan.PlanID, plan.ExecutedAt)
	}
	for _, a := range plan.Actions {
		if a.Status == types.StatusExecuting {
			return Summary{}, fmt.Errorf("%w: action %s", ErrPlanInterrupted, a.ActionID)
		}
	}

	var lock *planLock
	if e.planPath != "" {
		var err error
		lock, err = acquirePlanLock(e.planPath)
		if err != nil {
			return Summary{}, err
		}
		defer lock.release()
	}

	now := time.Now().UTC()
	plan.ExecutedAt = &now
	if err := e.persist(plan); err != nil {
		return Summary{}, err
	}

	// Per-remote queues preserve plan order within each remote.
	queues := make(map[string][]int)
	var order []string
	for i, a := range plan.Actions {
		id := a.Source.RemoteID
		if _, seen := queues[id]; !seen {
			order = append(order, id)
		}
		queues[id] = append(queues[id], i)
	}

	var wg sync.WaitGroup
	for _, remoteID := range order {
		wg.Add(1)
		go func(remoteID string, actionIdx []int) {
			defer wg.Done()
			for _, i := range actionIdx {
				// Cancellation stops dispatch between actions only.
				if ctx.Err() != nil {
					return
				}
				e.runAction(ctx, plan, &plan.Actions[i])
			}
		}(remoteID, queues[remoteID])
	}
	wg.Wait()

	summary := Summary{}
	for _, a := range plan.Actions {
		switch a.Status {
		case types.StatusVerified:
			summary.Verified++
		case types.StatusFailed:
			summary.Failed++
		case types.StatusSkipped:
			summary.Skipped++
		default:
			summary.Ignored++
		}
	}

	e.logger.Info("execution finished",
		"plan", plan.PlanID,
		"verified", summary.Verified,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"unapproved", summary.Ignored)

	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.Canceled) {
		return summary, ctx.Err()
	}
	return summary, nil
}

// runAction drives one action through its state machine. Only approved
// actions are processed; everything else is left untouched.
func (e *Executor) runAction(ctx context.Context, plan *types.ActionPlan, a *types.PlannedAction) {
	if a.Status != types.StatusApproved {
		return
	}

	// The in-flight action must be allowed to finish and log even
	// when the run is cancelled mid-action.
	opCtx := context.WithoutCancel(ctx)

	r, ok := e.remotes[a.Source.RemoteID]
	if !ok {
		e.fail(plan, a, "unknown_remote", "", fmt.Sprintf("remote %s not configured", a.Source.RemoteID))
		return
	}

	if a.Op == types.OpKeep {
		// Keeps mutate nothing; record the decision and verify it.
		e.transition(plan, a, types.StatusExecuting, custody.Entry{Outcome: "noop"})
		e.transition(plan, a, types.StatusVerified, custody.Entry{
			Outcome:    "noop",
			BeforeHash: a.Source.Hash,
		})
		return
	}

	// Write-ahead: the executing entry is durable before any external
	// mutation is issued.
	e.transition(plan, a, types.StatusExecuting, custody.Entry{BeforeHash: a.Source.Hash})

	live, err := e.precheck(opCtx, r, a)
	if err != nil {
		switch {
		case errors.Is(err, ErrStaleState):
			e.fail(plan, a, "stale_state", live.Hash, err.Error())
		default:
			e.fail(plan, a, "precheck_error", "", err.Error())
		}
		return
	}

	switch a.Op {
	case types.OpMove:
		err = r.Move(opCtx, a.Source.Path, a.Destination)
	case types.OpDelete:
		err = r.Delete(opCtx, a.Source.Path)
	}
	if err != nil {
		// Destructive failures never retry automatically.
		e.fail(plan, a, "mutation_error", "", err.Error())
		return
	}

	afterHash, err := e.verify(opCtx, r, a)
	if err != nil {
		e.fail(plan, a, "verification_failed", afterHash,
			fmt.Errorf("%w: %v", ErrVerificationFailed, err).Error())
		return
	}

	e.mu.Lock()
	a.Error = ""
	e.mu.Unlock()
	e.transition(plan, a, types.StatusVerified, custody.Entry{
		Outcome:    "ok",
		BeforeHash: a.Source.Hash,
		AfterHash:  afterHash,
	})
}

// precheck re-fetches live metadata and compares it to the plan's
// snapshot. Transient read errors retry with backoff; divergence is
// ErrStaleState.
func (e *Executor) precheck(ctx context.Context, r remote.Remote, a *types.PlannedAction) (types.FileRecord, error) {
	backoff := e.opts.RetryBackoff

	var live types.FileRecord
	var err error
	for attempt := 0; ; attempt++ {
		live, err = r.Stat(ctx, a.Source.Path)
		if err == nil {
			break
		}
		if errors.Is(err, remote.ErrNotFound) {
			return live, fmt.Errorf("%w: %s no longer resolves", ErrStaleState, a.Source.Ref())
		}
		if !remote.Retryable(err) || attempt >= e.opts.PrecheckRetries {
			return live, fmt.Errorf("pre-flight check for %s: %w", a.Source.Ref(), err)
		}

		e.logger.Warn("transient pre-flight failure, retrying",
			"action", a.ActionID, "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return live, ctx.Err()
		}
		backoff *= 2
	}

	if live.SizeBytes != a.Source.SizeBytes || live.Hash != a.Source.Hash || live.HashAlg != a.Source.HashAlg {
		return live, fmt.Errorf("%w: %s is now (%s %s, %d bytes), plan expected (%s %s, %d bytes)",
			ErrStaleState, a.Source.Ref(),
			live.HashAlg, live.Hash, live.SizeBytes,
			a.Source.HashAlg, a.Source.Hash, a.Source.SizeBytes)
	}
	return live, nil
}

// verify runs the post-condition check after a mutation. For a move,
// the destination must exist with the expected hash and the source
// must be gone; for a delete, the source must no longer resolve.
// It returns the destination hash for the custody record.
func (e *Executor) verify(ctx context.Context, r remote.Remote, a *types.PlannedAction) (string, error) {
	if a.Op == types.OpMove {
		dst, err := r.Stat(ctx, a.Destination)
		if err != nil {
			return "", fmt.Errorf("destination %s: %v", a.Destination, err)
		}
		if dst.Hash != a.Source.Hash || dst.SizeBytes != a.Source.SizeBytes {
			return dst.Hash, fmt.Errorf("destination %s content mismatch", a.Destination)
		}
		if _, err := r.Stat(ctx, a.Source.Path); !errors.Is(err, remote.ErrNotFound) {
			return dst.Hash, fmt.Errorf("source %s still resolves after move", a.Source.Path)
		}
		return dst.Hash, nil
	}

	if _, err := r.Stat(ctx, a.Source.Path); !errors.Is(err, remote.ErrNotFound) {
		return "", fmt.Errorf("source %s still resolves after delete", a.Source.Path)
	}
	return "", nil
}

// fail marks the action failed with a custody record of why.
func (e *Executor) fail(plan *types.ActionPlan, a *types.PlannedAction, outcome, afterHash, note string) {
	e.mu.Lock()
	a.Error = note
	e.mu.Unlock()

	e.logger.Error("action failed",
		"action", a.ActionID, "op", a.Op, "target", a.Source.Ref(),
		"outcome", outcome, "note", note)

	e.transition(plan, a, types.StatusFailed, custody.Entry{
		Outcome:    outcome,
		BeforeHash: a.Source.Hash,
		AfterHash:  afterHash,
		Note:       note,
	})
}

// transition applies a status change, appends the custody entry, and
// persists the plan. A custody write failure is fatal for the whole
// process by design: no transition may go unlogged.
func (e *Executor) transition(plan *types.ActionPlan, a *types.PlannedAction, to types.Status, entry custody.Entry) {
	e.mu.Lock()
	a.Status = to
	e.mu.Unlock()

	entry.PlanID = plan.PlanID
	entry.ActionID = a.ActionID
	entry.Op = a.Op
	entry.Transition = to

	if e.log != nil {
		if _, err := e.log.Append(entry); err != nil {
			// Without a durable custody trail no further mutation is
			// safe; surface loudly and stop the process.
			panic(fmt.Sprintf("custody log write failed: %v", err))
		}
	}

	if err := e.persist(plan); err != nil {
		e.logger.Error("persisting plan state", "plan", plan.PlanID, "error", err)
	}
}

// persist writes the plan's current statuses back to its artifact.
func (e *Executor) persist(plan *types.ActionPlan) error {
	if e.planPath == "" {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return planner.SavePlan(plan, e.planPath)
}
