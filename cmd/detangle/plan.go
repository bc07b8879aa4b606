package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fef5002/clouds-detangler/pkg/detangle/config"
	"github.com/fef5002/clouds-detangler/pkg/detangle/index"
	"github.com/fef5002/clouds-detangler/pkg/detangle/planner"
	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Turn a dedup index into a reviewable action plan",
	Long: `Plan selects, for every duplicate group in the index, one copy to
keep and an action for each other copy: move it to a holding area on
its remote (safe mode) or delete it outright (destructive mode).

Every action starts in pending status. Nothing executes until actions
are approved with 'detangle approve'. The plan is a plain JSON file
and is meant to be read, and if needed edited, before approval.`,
	RunE: runPlan,
}

var (
	planIndexPath string
	planOutput    string
	planRule      string
	planMode      string
)

func init() {
	planCmd.Flags().StringVar(&planIndexPath, "index", "", "index artifact to plan from (default: data dir)")
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "", "plan artifact path (default: data dir)")
	planCmd.Flags().StringVar(&planRule, "rule", "", "selection rule: keep-newest, keep-remote:<id>, manual")
	planCmd.Flags().StringVar(&planMode, "mode", "", "action mode: safe, destructive")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	indexPath := planIndexPath
	if indexPath == "" {
		indexPath = config.IndexPath()
	}
	idx, err := index.Load(indexPath)
	if err != nil {
		return fmt.Errorf("loading index: %w", err)
	}

	policy := cfg.Policy
	if planRule != "" {
		policy.SelectionRule = types.SelectionRule(planRule)
	}
	if planMode != "" {
		policy.Mode = types.Mode(planMode)
	}

	plan, err := planner.Build(idx, policy, planner.Options{HoldingPrefix: cfg.HoldingPrefix})
	if err != nil {
		return err
	}

	out := planOutput
	if out == "" {
		if err := config.EnsureDataDir(); err != nil {
			return err
		}
		out = filepath.Join(config.PlanDir(), plan.PlanID+".json")
	}
	if err := planner.SavePlan(plan, out); err != nil {
		return err
	}

	printPlanSummary(plan)
	printInfo("\nplan written to %s", out)
	printInfo("review it, then approve actions with:")
	printInfo("  detangle approve %s --all", out)
	return nil
}

// printPlanSummary renders a plan's actions and counts to stdout.
func printPlanSummary(plan *types.ActionPlan) {
	printInfo("plan %s (generation %s, rule %s, mode %s)",
		plan.PlanID, plan.GenerationID, plan.Policy.SelectionRule, plan.Policy.Mode)
	if plan.RequiresReview {
		printInfo("manual selection rule: keep choices are provisional and need review")
	}

	if getQuiet() {
		return
	}

	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tOP\tSTATUS\tSOURCE\tDESTINATION")
	for _, a := range plan.Actions {
		dest := a.Destination
		if dest == "" {
			dest = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ActionID, a.Op, a.Status, a.Source.Ref(), dest)
	}
	_ = tw.Flush()
	fmt.Print(sb.String())

	counts := plan.Counts()
	printInfo("%d actions: %d keep, %d pending review",
		len(plan.Actions), countOp(plan, types.OpKeep), counts[types.StatusPending])
}

// countOp counts the plan's actions with the given op.
func countOp(plan *types.ActionPlan, op types.Op) int {
	n := 0
	for _, a := range plan.Actions {
		if a.Op == op {
			n++
		}
	}
	return n
}
