// Package planner turns a dedup index and a policy into a reviewable
// action plan. Planning is pure: no network access, no side effects,
// so a plan can be generated and reviewed entirely offline.
package planner

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fef5002/clouds-detangler/pkg/detangle/logging"
	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// DefaultHoldingPrefix is where safe-mode moves place displaced copies
// within their own remote. The write-once discipline of the executor
// makes it a de facto WORM area.
const DefaultHoldingPrefix = types.DefaultHoldingPrefix

// Options tunes plan generation.
type Options struct {
	// HoldingPrefix overrides DefaultHoldingPrefix for safe-mode moves.
	HoldingPrefix string

	// Now and NewID exist for deterministic tests.
	Now   func() time.Time
	NewID func() string
}

// withDefaults fills unset options.
func (o Options) withDefaults() Options {
	if o.HoldingPrefix == "" {
		o.HoldingPrefix = DefaultHoldingPrefix
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.NewString() }
	}
	return o
}

// Build generates an action plan from the index under the policy. Each
// group yields exactly one keep action and one move or delete action
// per remaining member; groups of one member yield nothing (the index
// never emits them, this is defense at the boundary).
func Build(idx *types.DedupIndex, policy types.Policy, opts Options) (*types.ActionPlan, error) {
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	plan := &types.ActionPlan{
		PlanID:         opts.NewID(),
		GenerationID:   idx.GenerationID,
		CreatedAt:      opts.Now().UTC(),
		Policy:         policy,
		RequiresReview: policy.SelectionRule == types.SelectManual,
	}

	nonKeepOp := types.OpMove
	if policy.Mode == types.ModeDestructive {
		nonKeepOp = types.OpDelete
	}

	for _, group := range idx.Groups {
		if len(group.Members) < 2 {
			continue
		}

		keepIdx := selectKeep(group, policy.SelectionRule)

		for i, member := range group.Members {
			action := types.PlannedAction{
				ActionID: opts.NewID(),
				GroupID:  group.GroupID,
				Source:   member,
				Status:   types.StatusPending,
			}

			if i == keepIdx {
				action.Op = types.OpKeep
			} else {
				action.Op = nonKeepOp
				if nonKeepOp == types.OpMove {
					action.Destination = path.Join(opts.HoldingPrefix, plan.PlanID, member.Path)
				}
			}

			plan.Actions = append(plan.Actions, action)
		}
	}

	if err := Validate(plan, idx); err != nil {
		return nil, fmt.Errorf("generated plan failed validation: %w", err)
	}

	logging.Get("planner").Info("plan generated",
		"plan", plan.PlanID,
		"generation", plan.GenerationID,
		"actions", len(plan.Actions),
		"mode", policy.Mode)

	return plan, nil
}

// selectKeep returns the index of the member to keep. The canonical
// member order of the group is the tie-break for every rule.
func selectKeep(group types.DuplicateGroup, rule types.SelectionRule) int {
	switch {
	case rule == types.SelectNewest:
		best := 0
		for i, m := range group.Members[1:] {
			if m.ModTime.After(group.Members[best].ModTime) {
				best = i + 1
			}
		}
		return best

	case strings.HasPrefix(string(rule), types.KeepRemotePrefix):
		want := strings.TrimPrefix(string(rule), types.KeepRemotePrefix)
		for i, m := range group.Members {
			if m.RemoteID == want {
				return i
			}
		}
		// The preferred remote holds no copy; fall back to canonical.
		return 0

	default:
		// Manual review starts from the canonical keep candidate.
		return 0
	}
}

// validatePolicy rejects unknown rules and modes before planning.
func validatePolicy(policy types.Policy) error {
	switch {
	case policy.SelectionRule == types.SelectNewest,
		policy.SelectionRule == types.SelectManual,
		strings.HasPrefix(string(policy.SelectionRule), types.KeepRemotePrefix) &&
			len(policy.SelectionRule) > len(types.KeepRemotePrefix):
	default:
		return fmt.Errorf("unknown selection rule: %q", policy.SelectionRule)
	}

	switch policy.Mode {
	case types.ModeSafe, types.ModeDestructive:
	default:
		return fmt.Errorf("unknown mode: %q", policy.Mode)
	}

	return nil
}

// Validate enforces the plan invariants against the index it claims to
// be built from: generation binding, exactly one keep per group, and
// no destructive action against a keep-selected member.
func Validate(plan *types.ActionPlan, idx *types.DedupIndex) error {
	if plan.GenerationID != idx.GenerationID {
		return fmt.Errorf("plan generation %s does not match index generation %s: rebuild the plan",
			plan.GenerationID, idx.GenerationID)
	}

	keeps := make(map[string]types.FileRecord)
	for _, a := range plan.Actions {
		if a.Op == types.OpKeep {
			if _, dup := keeps[a.GroupID]; dup {
				return fmt.Errorf("group %s has more than one keep action", a.GroupID)
			}
			keeps[a.GroupID] = a.Source
		}
	}

	for _, a := range plan.Actions {
		if !a.Op.Destructive() {
			continue
		}
		keep, ok := keeps[a.GroupID]
		if !ok {
			return fmt.Errorf("group %s has destructive actions but no keep action", a.GroupID)
		}
		if keep.RemoteID == a.Source.RemoteID && keep.Path == a.Source.Path {
			return fmt.Errorf("action %s targets its own group's keep member %s",
				a.ActionID, a.Source.Ref())
		}
	}

	return nil
}

// Approve transitions actions from pending to approved. With all set,
// every pending action is approved; otherwise only the named ones.
// Any other starting status is an error: approval is the single human
// edit the plan admits.
func Approve(plan *types.ActionPlan, actionIDs []string, all bool) (int, error) {
	if plan.ExecutedAt != nil {
		return 0, fmt.Errorf("plan %s has already been executed", plan.PlanID)
	}

	if all {
		n := 0
		for i := range plan.Actions {
			if plan.Actions[i].Status == types.StatusPending {
				plan.Actions[i].Status = types.StatusApproved
				n++
			}
		}
		return n, nil
	}

	n := 0
	for _, id := range actionIDs {
		a := plan.Action(id)
		if a == nil {
			return n, fmt.Errorf("no such action: %s", id)
		}
		if a.Status != types.StatusPending {
			return n, fmt.Errorf("action %s is %s, only pending actions can be approved", id, a.Status)
		}
		a.Status = types.StatusApproved
		n++
	}
	return n, nil
}

// Skip marks pending or approved actions as skipped, an explicit
// operator decision that the executor records but never acts on.
func Skip(plan *types.ActionPlan, actionIDs []string) error {
	if plan.ExecutedAt != nil {
		return fmt.Errorf("plan %s has already been executed", plan.PlanID)
	}

	for _, id := range actionIDs {
		a := plan.Action(id)
		if a == nil {
			return fmt.Errorf("no such action: %s", id)
		}
		if a.Status != types.StatusPending && a.Status != types.StatusApproved {
			return fmt.Errorf("action %s is %s and cannot be skipped", id, a.Status)
		}
		a.Status = types.StatusSkipped
	}
	return nil
}
