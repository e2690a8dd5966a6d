package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adpilot-ai/adpilot/internal/store"
)

var plansStatus string

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect and resolve pending action plans",
	Run:   runPlansList,
}

var plansApproveCmd = &cobra.Command{
	Use:   "approve <plan-id>",
	Short: "Approve a pending plan and execute it",
	Args:  cobra.ExactArgs(1),
	Run:   runPlansApprove,
}

var plansRejectCmd = &cobra.Command{
	Use:   "reject <plan-id> [reason...]",
	Short: "Reject a pending plan",
	Args:  cobra.MinimumNArgs(1),
	Run:   runPlansReject,
}

func init() {
	plansCmd.Flags().StringVar(&plansStatus, "status", "pending", "Filter by status (empty for all)")
	plansCmd.AddCommand(plansApproveCmd)
	plansCmd.AddCommand(plansRejectCmd)
}

func runPlansList(cmd *cobra.Command, args []string) {
	rt, err := buildRuntime()
	if err != nil {
		fmt.Printf("Startup error: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	plans, err := rt.plans.List(plansStatus, 50)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if len(plans) == 0 {
		fmt.Println("No plans.")
		return
	}
	for _, p := range plans {
		fmt.Printf("%s  %-10s %-22s %s\n", p.CreatedAt.Format("2006-01-02 15:04"), colorStatus(p.Status), p.Tool, p.PlanID)
		if p.Summary != "" {
			fmt.Printf("    %s\n", p.Summary)
		}
		if p.TotalSteps > 1 {
			fmt.Printf("    steps: %d/%d executed\n", p.ExecutedSteps, p.TotalSteps)
		}
		if p.Reason != "" {
			fmt.Printf("    reason: %s\n", p.Reason)
		}
	}
}

func runPlansApprove(cmd *cobra.Command, args []string) {
	rt, err := buildRuntime()
	if err != nil {
		fmt.Printf("Startup error: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	result, err := rt.plans.ApproveAndExecute(cmd.Context(), args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if result.Success {
		fmt.Println(color.GreenString("✓ %s", firstNonBlank(result.Message, "executed")))
	} else {
		fmt.Println(color.RedString("✗ %s", firstNonBlank(result.Error, "execution failed")))
	}
	if result.Cached {
		fmt.Println("(result replayed from an earlier identical execution)")
	}
}

func runPlansReject(cmd *cobra.Command, args []string) {
	rt, err := buildRuntime()
	if err != nil {
		fmt.Printf("Startup error: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	reason := strings.Join(args[1:], " ")
	if _, err := rt.plans.Reject(args[0], reason); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Plan rejected.")
}

func colorStatus(status string) string {
	switch status {
	case store.PlanPending:
		return color.YellowString(status)
	case store.PlanCompleted, store.PlanApproved:
		return color.GreenString(status)
	case store.PlanRejected, store.PlanFailed, store.PlanExpired:
		return color.RedString(status)
	}
	return status
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
