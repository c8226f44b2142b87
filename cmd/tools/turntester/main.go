package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-recall/backend/internal/app"
	"github.com/zhouzirui/z-recall/backend/internal/config"
	"github.com/zhouzirui/z-recall/backend/internal/service/turn"
)

var (
	userID    string
	sessionID string
	useCache  bool
	timeout   time.Duration

	rootCmd = &cobra.Command{
		Use:   "turntester",
		Short: "Run conversation turns against the configured stack",
	}

	turnCmd = &cobra.Command{
		Use:   "turn [message]",
		Short: "Run a single turn and print the reply and state path",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTurnCommand,
	}

	scenarioCmd = &cobra.Command{
		Use:   "scenario",
		Short: "Replay the two-user demo conversation and print the stored profiles",
		RunE:  runScenarioCommand,
	}
)

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall timeout")
	rootCmd.AddCommand(turnCmd)
	turnCmd.Flags().StringVarP(&userID, "user", "u", "user_1", "user id")
	turnCmd.Flags().StringVarP(&sessionID, "session", "s", "", "session/thread id, generated when empty")
	turnCmd.Flags().BoolVar(&useCache, "cached", false, "serve through the session response cache")
	rootCmd.AddCommand(scenarioCmd)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func build(ctx context.Context) (*app.BuildResult, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, nil)
}

func runTurnCommand(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	built, err := build(ctx)
	if err != nil {
		return err
	}
	defer built.Cleanup()

	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}
	message := strings.Join(args, " ")
	out := cmd.OutOrStdout()

	var states []string
	observer := turn.WithObserver(func(_ context.Context, s turn.State) {
		states = append(states, string(s))
	})

	if useCache {
		reply, err := built.Turns.CachedOrRun(ctx, sessionID, userID, message, observer)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Chatbot: %s\n", reply.Response)
		fmt.Fprintf(out, "cached=%v states=%s\n", reply.Cached, strings.Join(states, " -> "))
		return nil
	}

	result, err := built.Orchestrator.RunTurn(ctx, sessionID, userID, message, observer)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Chatbot: %s\n", result.Response)
	fmt.Fprintf(out, "states=%s\n", strings.Join(states, " -> "))
	if result.MemoryErr != nil {
		fmt.Fprintf(out, "memory update failed: %v\n", result.MemoryErr)
	}
	return nil
}

func runScenarioCommand(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	built, err := build(ctx)
	if err != nil {
		return err
	}
	defer built.Cleanup()

	return runScenario(ctx, cmd.OutOrStdout(), built.Turns, built.Profiles, demoConversation)
}
