package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adpilot-ai/adpilot/internal/channels"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent with all enabled channels",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	printHeader("🚀 AdPilot Serve")

	rt, err := buildRuntime()
	if err != nil {
		fmt.Printf("Startup error: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	router := &channels.ApprovalRouter{Plans: rt.plans}
	active := []channels.Channel{
		channels.NewSlackChannel(rt.cfg.Channels.Slack, rt.bus, router, rt.logger),
		channels.NewNATSChannel(rt.cfg.Channels.NATS, rt.bus, router, rt.logger),
	}
	for _, ch := range active {
		if err := ch.Start(ctx); err != nil {
			fmt.Printf("Channel %s failed to start: %v\n", ch.Name(), err)
			os.Exit(1)
		}
	}

	go func() {
		if err := rt.bus.DispatchOutbound(ctx); err != nil && ctx.Err() == nil {
			rt.logger.Error("outbound dispatcher stopped", "error", err)
		}
	}()
	go func() {
		if err := rt.loop.Run(ctx); err != nil && ctx.Err() == nil {
			rt.logger.Error("agent loop stopped", "error", err)
		}
	}()

	// Sweep stale pending plans periodically.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rt.plans.ExpireStale()
			}
		}
	}()

	fmt.Println("Agent running. Press Ctrl+C to stop.")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Println("\nShutting down...")
	cancel()
	for _, ch := range active {
		_ = ch.Stop()
	}
}
