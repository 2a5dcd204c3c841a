// Command agentctl is the operator inspection CLI for the agent
// orchestration runtime: it lets an operator look at a task, see what a
// paused task's resume would act on, or list discovered MCP servers against the same
// sqlite store agentcored writes to. It is explicitly not a chat REPL
// (spec.md §1 scopes those out); it is the ambient operator tooling the
// teacher always ships alongside its server (cmd/nexus's buildRootCmd
// tree of inspection subcommands), retargeted at this runtime's own
// task/discovery state.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teal-agents/agentcore/internal/storage/sqlite"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var dbPath string

	root := &cobra.Command{
		Use:          "agentctl",
		Short:        "Inspect and operate an agentcore task store",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "path to the agentcored sqlite database (required)")

	root.AddCommand(
		buildTaskCmd(&dbPath),
		buildResumeCmd(&dbPath),
		buildServersCmd(&dbPath),
	)
	return root
}

func openStore(dbPath string) (*sqlite.Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("agentctl: --db is required")
	}
	return sqlite.Open(sqlite.Config{Path: dbPath})
}

func buildTaskCmd(dbPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task <task_id>",
		Short: "Print a task's current state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			task, err := store.Tasks().Load(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("agentctl: loading task %q: %w", args[0], err)
			}
			return printJSON(cmd, task)
		},
	}
	return cmd
}

func buildResumeCmd(dbPath *string) *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "resume <task_id>",
		Short: "Print the pending tool calls a task is paused on",
		Long: `resume does not itself replay a paused turn — replaying requires the
running agentcored process's orchestrator, not direct database access.
It prints the task's pending state so an operator can confirm what
POST /resume/{task_id} would act on before calling the HTTP API.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			task, err := store.Tasks().Load(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("agentctl: loading task %q: %w", args[0], err)
			}
			last := task.LastItem()
			if last == nil || len(last.PendingToolCalls) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "task %s (%s): nothing pending\n", task.TaskID, task.Status)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %s (%s): %d pending tool call(s), requested action=%q\n",
				task.TaskID, task.Status, len(last.PendingToolCalls), action)
			return printJSON(cmd, last.PendingToolCalls)
		},
	}
	cmd.Flags().StringVar(&action, "action", "approve", "action an operator intends to take (approve|reject), display only")
	return cmd
}

func buildServersCmd(dbPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers <user_id> <session_id>",
		Short: "List MCP servers discovered for a (user, session) pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			state, err := store.Discovery().Get(context.Background(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("agentctl: loading discovery state: %w", err)
			}
			if len(state.DiscoveredServers) == 0 && len(state.FailedServers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no servers discovered")
				return nil
			}
			for name, server := range state.DiscoveredServers {
				session := "no session"
				if server.Session != nil {
					session = "session " + server.Session.McpSessionID
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s)\n", name, session)
			}
			for name, reason := range state.FailedServers {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: failed (%s)\n", name, reason)
			}
			return nil
		},
	}
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
