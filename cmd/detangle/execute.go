package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/fef5002/clouds-detangler/pkg/detangle/config"
	"github.com/fef5002/clouds-detangler/pkg/detangle/custody"
	"github.com/fef5002/clouds-detangler/pkg/detangle/executor"
	"github.com/fef5002/clouds-detangler/pkg/detangle/index"
	"github.com/fef5002/clouds-detangler/pkg/detangle/planner"
	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

var executeCmd = &cobra.Command{
	Use:   "execute <plan-file>",
	Short: "Carry out the approved actions of a plan",
	Long: `Execute runs a plan's approved actions against the remotes. Pending
actions are ignored, a plan is consumed exactly once, and every state
transition is recorded in the chain-of-custody log before the next
step proceeds.

Before each mutation the live file is re-checked against the plan's
snapshot; any divergence fails the action as stale instead of acting
on changed data. Actions on the same remote run in plan order; distinct
remotes run concurrently. Interrupting the run (Ctrl-C) stops new
actions from being dispatched but lets in-flight ones finish and log.

Deleting files (destructive mode plans) additionally requires --yes.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

var (
	executeIndexPath string
	executeYes       bool
)

func init() {
	executeCmd.Flags().StringVar(&executeIndexPath, "index", "", "index artifact to validate against (default: data dir)")
	executeCmd.Flags().BoolVar(&executeYes, "yes", false, "confirm execution of delete actions")
	rootCmd.AddCommand(executeCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	planPath := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	plan, err := planner.LoadPlan(planPath)
	if err != nil {
		return err
	}

	// Validate against the index the plan was built from, when it is
	// still around. A vanished index only loses the cross-check, not
	// the per-action prechecks.
	indexPath := executeIndexPath
	if indexPath == "" {
		indexPath = config.IndexPath()
	}
	if idx, err := index.Load(indexPath); err == nil {
		if err := planner.Validate(plan, idx); err != nil {
			return err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading index: %w", err)
	} else {
		printError("index %s not found, skipping plan validation", indexPath)
	}

	if hasApprovedDeletes(plan) && !executeYes {
		return fmt.Errorf("plan contains approved delete actions; re-run with --yes to confirm")
	}

	remotes, err := buildRemotes(cfg)
	if err != nil {
		return err
	}

	if err := config.EnsureDataDir(); err != nil {
		return err
	}
	clog, err := custody.Open(config.CustodyLogPath())
	if err != nil {
		return err
	}
	defer clog.Close()

	exec := executor.New(remotes, clog, planPath, executor.Options{
		PrecheckRetries: cfg.Execute.PrecheckRetries,
		RetryBackoff:    cfg.Execute.RetryBackoff,
	})

	ctx, stop := signalContext()
	defer stop()

	summary, err := exec.Run(ctx, plan)
	if err != nil {
		return err
	}

	printInfo("plan %s executed: %d verified, %d failed, %d skipped, %d not approved",
		plan.PlanID, summary.Verified, summary.Failed, summary.Skipped, summary.Ignored)
	if ctx.Err() != nil {
		printInfo("run was interrupted; re-check remaining actions with 'detangle log'")
	}

	if summary.Partial() {
		return fmt.Errorf("%w: %d actions failed", errPartial, summary.Failed)
	}
	return nil
}

// hasApprovedDeletes reports whether any approved action deletes data.
func hasApprovedDeletes(plan *types.ActionPlan) bool {
	for _, a := range plan.Actions {
		if a.Status == types.StatusApproved && a.Op == types.OpDelete {
			return true
		}
	}
	return false
}
