package planner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// SavePlan writes the plan artifact to path as indented JSON. The file
// is deliberately human-editable: an operator reviews it and flips
// action statuses from pending to approved before execution.
func SavePlan(plan *types.ActionPlan, path string) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating plan directory: %w", err)
	}

	// Write atomically using a temp file and rename.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing plan: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming plan: %w", err)
	}

	return nil
}

// LoadPlan reads a plan artifact, rejecting files whose edits strayed
// beyond the status field schema.
func LoadPlan(path string) (*types.ActionPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}

	var plan types.ActionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}

	if plan.PlanID == "" || plan.GenerationID == "" {
		return nil, fmt.Errorf("plan %s is missing its id or generation binding", path)
	}
	for _, a := range plan.Actions {
		switch a.Status {
		case types.StatusPending, types.StatusApproved, types.StatusExecuting,
			types.StatusVerified, types.StatusFailed, types.StatusSkipped:
		default:
			return nil, fmt.Errorf("action %s has invalid status %q", a.ActionID, a.Status)
		}
		switch a.Op {
		case types.OpKeep, types.OpMove, types.OpDelete:
		default:
			return nil, fmt.Errorf("action %s has invalid op %q", a.ActionID, a.Op)
		}
	}

	return &plan, nil
}
