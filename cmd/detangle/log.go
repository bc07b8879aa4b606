package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fef5002/clouds-detangler/pkg/detangle/config"
	"github.com/fef5002/clouds-detangler/pkg/detangle/custody"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Inspect the chain-of-custody log",
	Long: `The chain-of-custody log records every executor state transition as
a hash-chained, append-only entry. Each entry embeds the hash of its
predecessor, so edits or deletions anywhere in the history are
detectable.`,
	RunE: runLogShow,
}

var logVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the custody chain",
	Long: `Verify recomputes every entry hash and checks every link of the
custody chain. Any tampering, truncation, or reordering is reported.`,
	RunE: runLogVerify,
}

var (
	logPlanFilter string
	logLimit      int
)

func init() {
	logCmd.Flags().StringVar(&logPlanFilter, "plan", "", "only show entries for this plan id")
	logCmd.Flags().IntVarP(&logLimit, "limit", "l", 50, "maximum number of entries to show (0 = all)")
	logCmd.AddCommand(logVerifyCmd)
	rootCmd.AddCommand(logCmd)
}

func runLogShow(cmd *cobra.Command, args []string) error {
	path := config.CustodyLogPath()
	entries, err := custody.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			printInfo("no custody log yet; entries appear once a plan is executed")
			return nil
		}
		return err
	}

	if logPlanFilter != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.PlanID == logPlanFilter {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	if logLimit > 0 && len(entries) > logLimit {
		entries = entries[len(entries)-logLimit:]
	}

	for _, e := range entries {
		line := fmt.Sprintf("%6d  %s  %s/%s  %s -> %s",
			e.Seq, e.Timestamp.Format("2006-01-02 15:04:05"),
			e.PlanID, e.ActionID, e.Op, e.Transition)
		if e.Outcome != "" {
			line += "  [" + e.Outcome + "]"
		}
		if e.Note != "" {
			line += "  " + e.Note
		}
		fmt.Println(line)
	}
	return nil
}

func runLogVerify(cmd *cobra.Command, args []string) error {
	path := config.CustodyLogPath()
	n, err := custody.VerifyFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			printInfo("no custody log yet; nothing to verify")
			return nil
		}
		return fmt.Errorf("custody chain verification failed: %w", err)
	}
	printInfo("custody chain intact: %d entries verified", n)
	return nil
}
