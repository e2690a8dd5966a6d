package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adpilot-ai/adpilot/internal/agent"
)

var (
	agentMessage      string
	agentConversation string
	agentBusiness     string
	agentMode         string
	agentStream       bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Send one request to the agent from the CLI",
	Run:   runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "Message to send to the agent")
	agentCmd.Flags().StringVarP(&agentConversation, "conversation", "c", "cli:default", "Conversation ID")
	agentCmd.Flags().StringVarP(&agentBusiness, "business", "b", "demo", "Business ID")
	agentCmd.Flags().StringVar(&agentMode, "mode", "", "Execution mode override (auto, plan, ask)")
	agentCmd.Flags().BoolVar(&agentStream, "stream", false, "Stream events as they happen")
}

func runAgent(cmd *cobra.Command, args []string) {
	if agentMessage == "" {
		fmt.Println("Error: --message is required")
		os.Exit(1)
	}

	printHeader("🤖 AdPilot Agent")

	rt, err := buildRuntime()
	if err != nil {
		fmt.Printf("Startup error: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	req := agent.Request{
		ConversationID: agentConversation,
		Channel:        "cli",
		BusinessID:     agentBusiness,
		UserID:         "cli",
		Mode:           agentMode,
		Content:        agentMessage,
	}

	if agentStream {
		runAgentStream(cmd, rt, req)
		return
	}

	resp, err := rt.loop.Process(cmd.Context(), req)
	if err != nil {
		if resp != nil && len(resp.Executed) > 0 {
			fmt.Println(color.YellowString("Completed before the failure:"))
			for _, a := range resp.Executed {
				fmt.Printf("  - %s (%dms)\n", a.Tool, a.LatencyMS)
			}
		}
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(resp.Content)
	printPlansAndSteps(resp)
}

func runAgentStream(cmd *cobra.Command, rt *runtime, req agent.Request) {
	for evt := range rt.loop.ProcessStream(cmd.Context(), req) {
		switch evt.Type {
		case agent.EventClassification:
			fmt.Println(color.HiBlackString("[intent: %s]", evt.Content))
		case agent.EventText:
			fmt.Print(evt.Content)
		case agent.EventToolStart:
			fmt.Println(color.HiBlackString("\n[running %s]", evt.Tool))
		case agent.EventToolResult:
			fmt.Println(color.HiBlackString("[%s done]", evt.Tool))
		case agent.EventApprovalRequired:
			fmt.Println(color.YellowString("\n[approval required: %s -> %s]", evt.Tool, evt.PlanID))
		case agent.EventDone:
			fmt.Println("\n" + evt.Content)
			if evt.PlanID != "" {
				fmt.Println(color.YellowString("Pending plan: %s (approve with 'adpilot plans approve %s')", evt.PlanID, evt.PlanID))
			}
		case agent.EventError:
			fmt.Println(color.RedString("\nError: %s", evt.Err))
		}
	}
}

func printPlansAndSteps(resp *agent.Response) {
	for _, p := range resp.Plans {
		fmt.Println(color.YellowString("Pending plan %s: %s", p.PlanID, p.Summary))
		fmt.Printf("  approve: adpilot plans approve %s\n", p.PlanID)
		fmt.Printf("  reject:  adpilot plans reject %s\n", p.PlanID)
	}
	if len(resp.NextSteps) > 0 {
		fmt.Println("Next steps:")
		for _, s := range resp.NextSteps {
			fmt.Printf("  - %s\n", s)
		}
	}
}
