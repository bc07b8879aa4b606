package planner

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// testOpts makes plan and action ids deterministic.
func testOpts() Options {
	n := 0
	return Options{
		Now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%03d", n)
		},
	}
}

func member(remoteID, path string, mod time.Time) types.FileRecord {
	return types.FileRecord{
		RemoteID:  remoteID,
		Path:      path,
		SizeBytes: 100,
		HashAlg:   types.HashSHA256,
		Hash:      "h1",
		ModTime:   mod,
	}
}

func testIndex(members ...types.FileRecord) *types.DedupIndex {
	return &types.DedupIndex{
		GenerationID: "gen-1",
		Groups: []types.DuplicateGroup{{
			GroupID:   "g-1",
			HashAlg:   types.HashSHA256,
			Hash:      "h1",
			SizeBytes: 100,
			Members:   members,
		}},
	}
}

func TestBuildKeepNewest(t *testing.T) {
	t.Parallel()

	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	idx := testIndex(
		member("a", "old.txt", older),
		member("b", "new.txt", newer),
	)

	plan, err := Build(idx, types.Policy{SelectionRule: types.SelectNewest, Mode: types.ModeSafe}, testOpts())
	require.NoError(t, err)

	require.Len(t, plan.Actions, 2)
	assert.False(t, plan.RequiresReview)

	byPath := map[string]types.PlannedAction{}
	for _, a := range plan.Actions {
		byPath[a.Source.Path] = a
	}
	assert.Equal(t, types.OpKeep, byPath["new.txt"].Op)
	assert.Equal(t, types.OpMove, byPath["old.txt"].Op)
	assert.Equal(t, types.StatusPending, byPath["old.txt"].Status)
}

func TestBuildKeepRemote(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := testIndex(
		member("a", "x.txt", mod.Add(time.Hour)),
		member("b", "y.txt", mod),
	)

	plan, err := Build(idx, types.Policy{
		SelectionRule: types.SelectionRule("keep-remote:b"),
		Mode:          types.ModeSafe,
	}, testOpts())
	require.NoError(t, err)

	for _, a := range plan.Actions {
		if a.Source.RemoteID == "b" {
			assert.Equal(t, types.OpKeep, a.Op)
		} else {
			assert.Equal(t, types.OpMove, a.Op)
		}
	}
}

func TestBuildKeepRemoteFallsBackToCanonical(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := testIndex(
		member("a", "x.txt", mod),
		member("b", "y.txt", mod),
	)

	plan, err := Build(idx, types.Policy{
		SelectionRule: types.SelectionRule("keep-remote:absent"),
		Mode:          types.ModeSafe,
	}, testOpts())
	require.NoError(t, err)

	// No copy on the preferred remote: the canonical first member keeps.
	assert.Equal(t, types.OpKeep, plan.Actions[0].Op)
	assert.Equal(t, "a", plan.Actions[0].Source.RemoteID)
}

func TestBuildManualRequiresReview(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := testIndex(member("a", "x.txt", mod), member("b", "y.txt", mod))

	plan, err := Build(idx, types.Policy{SelectionRule: types.SelectManual, Mode: types.ModeSafe}, testOpts())
	require.NoError(t, err)

	assert.True(t, plan.RequiresReview)
	assert.Equal(t, types.OpKeep, plan.Actions[0].Op)
}

func TestBuildDestructiveMode(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := testIndex(member("a", "x.txt", mod), member("b", "y.txt", mod))

	plan, err := Build(idx, types.Policy{SelectionRule: types.SelectNewest, Mode: types.ModeDestructive}, testOpts())
	require.NoError(t, err)

	deletes := 0
	for _, a := range plan.Actions {
		if a.Op == types.OpDelete {
			deletes++
			assert.Empty(t, a.Destination)
		}
	}
	assert.Equal(t, 1, deletes)
}

func TestBuildMoveDestinations(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := testIndex(
		member("a", "docs/x.txt", mod.Add(time.Hour)),
		member("b", "docs/y.txt", mod),
	)

	plan, err := Build(idx, types.Policy{SelectionRule: types.SelectNewest, Mode: types.ModeSafe}, testOpts())
	require.NoError(t, err)

	for _, a := range plan.Actions {
		if a.Op != types.OpMove {
			continue
		}
		// Holding area is scoped per plan and mirrors the original path.
		assert.Equal(t, DefaultHoldingPrefix+"/"+plan.PlanID+"/docs/y.txt", a.Destination)
	}
}

func TestBuildRejectsBadPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		policy types.Policy
	}{
		{name: "unknown rule", policy: types.Policy{SelectionRule: "keep-biggest", Mode: types.ModeSafe}},
		{name: "empty keep-remote", policy: types.Policy{SelectionRule: "keep-remote:", Mode: types.ModeSafe}},
		{name: "unknown mode", policy: types.Policy{SelectionRule: types.SelectNewest, Mode: "yolo"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Build(&types.DedupIndex{}, tt.policy, testOpts())
			require.Error(t, err)
		})
	}
}

func TestBuildNeverPlansAgainstKeep(t *testing.T) {
	t.Parallel()

	// Exhaust the rules over a multi-member group and check the
	// self-conflict invariant for each.
	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := testIndex(
		member("a", "one.txt", mod),
		member("b", "two.txt", mod.Add(time.Hour)),
		member("c", "three.txt", mod.Add(2*time.Hour)),
	)

	rules := []types.SelectionRule{
		types.SelectNewest,
		types.SelectManual,
		"keep-remote:a",
		"keep-remote:b",
		"keep-remote:missing",
	}
	for _, rule := range rules {
		plan, err := Build(idx, types.Policy{SelectionRule: rule, Mode: types.ModeDestructive}, testOpts())
		require.NoError(t, err, "rule %s", rule)

		keeps := 0
		var keep types.FileRecord
		for _, a := range plan.Actions {
			if a.Op == types.OpKeep {
				keeps++
				keep = a.Source
			}
		}
		require.Equal(t, 1, keeps, "rule %s", rule)

		for _, a := range plan.Actions {
			if a.Op.Destructive() {
				assert.False(t, a.Source.RemoteID == keep.RemoteID && a.Source.Path == keep.Path,
					"rule %s plans %s against its keep member", rule, a.Op)
			}
		}
	}
}

func TestBuildKeepInvariantRandomized(t *testing.T) {
	t.Parallel()

	// Property check over randomized group shapes: every rule and mode,
	// member counts, remote spreads, and modification times vary, yet
	// each group gets exactly one keep and no destructive action ever
	// targets it.
	rng := rand.New(rand.NewSource(42))
	remotes := []string{"a", "b", "c", "d"}
	modes := []types.Mode{types.ModeSafe, types.ModeDestructive}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for trial := 0; trial < 200; trial++ {
		idx := &types.DedupIndex{GenerationID: "gen-1"}
		totalMembers := 0
		nGroups := 1 + rng.Intn(4)
		for g := 0; g < nGroups; g++ {
			size := int64(1 + rng.Intn(1<<20))
			hash := fmt.Sprintf("h-%d-%d", trial, g)
			group := types.DuplicateGroup{
				GroupID:   fmt.Sprintf("g-%d", g),
				HashAlg:   types.HashSHA256,
				Hash:      hash,
				SizeBytes: size,
			}
			nMembers := 2 + rng.Intn(4)
			for m := 0; m < nMembers; m++ {
				group.Members = append(group.Members, types.FileRecord{
					RemoteID:  remotes[rng.Intn(len(remotes))],
					Path:      fmt.Sprintf("dir%d/file-%d-%d.bin", rng.Intn(3), g, m),
					SizeBytes: size,
					HashAlg:   types.HashSHA256,
					Hash:      hash,
					ModTime:   base.Add(time.Duration(rng.Intn(100000)) * time.Minute),
				})
				totalMembers++
			}
			idx.Groups = append(idx.Groups, group)
		}

		rules := []types.SelectionRule{
			types.SelectNewest,
			types.SelectManual,
			types.SelectionRule("keep-remote:" + remotes[rng.Intn(len(remotes))]),
			"keep-remote:absent",
		}
		for _, rule := range rules {
			for _, mode := range modes {
				policy := types.Policy{SelectionRule: rule, Mode: mode}
				plan, err := Build(idx, policy, testOpts())
				require.NoError(t, err, "trial %d rule %s mode %s", trial, rule, mode)

				// One action per member: a keep plus member_count-1 others.
				require.Len(t, plan.Actions, totalMembers)

				keeps := map[string]types.FileRecord{}
				for _, a := range plan.Actions {
					if a.Op != types.OpKeep {
						continue
					}
					_, dup := keeps[a.GroupID]
					require.False(t, dup, "trial %d rule %s: group %s has two keeps", trial, rule, a.GroupID)
					keeps[a.GroupID] = a.Source
				}
				require.Len(t, keeps, len(idx.Groups))

				for _, a := range plan.Actions {
					switch {
					case a.Op == types.OpKeep:
						continue
					case mode == types.ModeSafe:
						require.Equal(t, types.OpMove, a.Op)
						require.True(t, strings.HasPrefix(a.Destination, DefaultHoldingPrefix+"/"))
					default:
						require.Equal(t, types.OpDelete, a.Op)
					}
					keep := keeps[a.GroupID]
					require.False(t, keep.RemoteID == a.Source.RemoteID && keep.Path == a.Source.Path,
						"trial %d rule %s mode %s: %s targets its keep member", trial, rule, mode, a.Op)
				}
			}
		}
	}
}

func TestValidateGenerationBinding(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := testIndex(member("a", "x.txt", mod), member("b", "y.txt", mod))

	plan, err := Build(idx, types.Policy{SelectionRule: types.SelectNewest, Mode: types.ModeSafe}, testOpts())
	require.NoError(t, err)

	stale := &types.DedupIndex{GenerationID: "gen-2", Groups: idx.Groups}
	err = Validate(plan, stale)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestApprove(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := testIndex(member("a", "x.txt", mod), member("b", "y.txt", mod))
	plan, err := Build(idx, types.Policy{SelectionRule: types.SelectNewest, Mode: types.ModeSafe}, testOpts())
	require.NoError(t, err)

	n, err := Approve(plan, nil, true)
	require.NoError(t, err)
	assert.Equal(t, len(plan.Actions), n)
	for _, a := range plan.Actions {
		assert.Equal(t, types.StatusApproved, a.Status)
	}

	// Approving again finds nothing pending.
	n, err = Approve(plan, nil, true)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Named approval of a non-pending action is an error.
	_, err = Approve(plan, []string{plan.Actions[0].ActionID}, false)
	require.Error(t, err)

	_, err = Approve(plan, []string{"nope"}, false)
	require.Error(t, err)
}

func TestApproveRefusesExecutedPlan(t *testing.T) {
	t.Parallel()

	now := time.Now()
	plan := &types.ActionPlan{PlanID: "p", ExecutedAt: &now}
	_, err := Approve(plan, nil, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already been executed")
}

func TestSkip(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := testIndex(member("a", "x.txt", mod), member("b", "y.txt", mod))
	plan, err := Build(idx, types.Policy{SelectionRule: types.SelectNewest, Mode: types.ModeSafe}, testOpts())
	require.NoError(t, err)

	id := plan.Actions[1].ActionID
	require.NoError(t, Skip(plan, []string{id}))
	assert.Equal(t, types.StatusSkipped, plan.Actions[1].Status)

	// Terminal actions cannot be skipped again.
	require.Error(t, Skip(plan, []string{id}))
}

func TestSavePlanLoadPlan(t *testing.T) {
	t.Parallel()

	mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := testIndex(member("a", "x.txt", mod), member("b", "y.txt", mod))
	plan, err := Build(idx, types.Policy{SelectionRule: types.SelectNewest, Mode: types.ModeSafe}, testOpts())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, SavePlan(plan, path))

	got, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanID, got.PlanID)
	assert.Equal(t, plan.GenerationID, got.GenerationID)
	require.Len(t, got.Actions, len(plan.Actions))
	assert.Equal(t, plan.Actions[0].ActionID, got.Actions[0].ActionID)
}

func TestLoadPlanRejectsCorrupted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writePlan := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}

	_, err := LoadPlan(writePlan("bad-status.json", `{
		"plan_id": "p", "generation_id": "g",
		"actions": [{"action_id": "a", "op": "move", "status": "sideways"}]
	}`))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "status"))

	_, err = LoadPlan(writePlan("bad-op.json", `{
		"plan_id": "p", "generation_id": "g",
		"actions": [{"action_id": "a", "op": "shred", "status": "pending"}]
	}`))
	require.Error(t, err)

	_, err = LoadPlan(writePlan("no-id.json", `{"generation_id": "g"}`))
	require.Error(t, err)
}
