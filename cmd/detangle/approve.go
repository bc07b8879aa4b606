package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fef5002/clouds-detangler/pkg/detangle/planner"
)

var approveCmd = &cobra.Command{
	Use:   "approve <plan-file> [action-id...]",
	Short: "Approve (or skip) plan actions for execution",
	Long: `Approve marks pending plan actions as approved. The executor only
ever touches approved actions; everything else is left alone.

Pass action ids to approve specific actions, or --all to approve every
pending action. --skip marks the named actions skipped instead, taking
them out of the run entirely.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runApprove,
}

var (
	approveAll  bool
	approveSkip bool
)

func init() {
	approveCmd.Flags().BoolVar(&approveAll, "all", false, "approve every pending action")
	approveCmd.Flags().BoolVar(&approveSkip, "skip", false, "mark the named actions skipped instead of approved")
	rootCmd.AddCommand(approveCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	planPath := args[0]
	actionIDs := args[1:]

	if approveSkip && approveAll {
		return fmt.Errorf("--skip requires explicit action ids, not --all")
	}
	if !approveAll && len(actionIDs) == 0 {
		return fmt.Errorf("name action ids to approve, or pass --all")
	}

	plan, err := planner.LoadPlan(planPath)
	if err != nil {
		return err
	}

	if approveSkip {
		if err := planner.Skip(plan, actionIDs); err != nil {
			return err
		}
		if err := planner.SavePlan(plan, planPath); err != nil {
			return err
		}
		printInfo("skipped %d actions in plan %s", len(actionIDs), plan.PlanID)
		return nil
	}

	n, err := planner.Approve(plan, actionIDs, approveAll)
	if err != nil {
		return err
	}
	if err := planner.SavePlan(plan, planPath); err != nil {
		return err
	}

	printInfo("approved %d actions in plan %s", n, plan.PlanID)
	printInfo("execute them with:")
	printInfo("  detangle execute %s", planPath)
	return nil
}
