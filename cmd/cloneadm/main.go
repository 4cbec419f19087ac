// Package main implements the cloneadm operator CLI for the clone/recover
// engine's reference HTTP front end (pkg/frontend).
//
// Installation:
//
//	go build -o cloneadm ./cmd/cloneadm
//	mv cloneadm /usr/local/bin/
//
// Usage:
//
//	cloneadm list                        # List all clone/recover tasks
//	cloneadm describe <task-id>          # Show one task in detail
//	cloneadm watch <task-id>             # Poll a task until it finishes
//	cloneadm cleanup <task-id> --user u  # Admit cleanup for an errored task
//	cloneadm submit --source ... --destination ... # Submit a new clone/recover task
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Build information (set via ldflags).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr         string
		secretRef    string
		outputFormat string
	)

	rootCmd := &cobra.Command{
		Use:   "cloneadm",
		Short: "Manage clone-engine clone/recover tasks",
		Long: `cloneadm is an operator CLI for the clone/recover engine.

It provides commands for listing in-flight and completed tasks, inspecting
a single task, submitting new clone/recover requests, and cleaning up
errored tasks.

Connection to clone-engine's front end can be configured via:
  - Flag: --addr
  - Kubernetes secret: --secret <namespace>/<name>
  - Environment: CLONE_ENGINE_ADDR`,
		Version: version + " (" + commit + ")",
	}

	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "clone-engine front end base URL (e.g. http://localhost:9090)")
	rootCmd.PersistentFlags().StringVar(&secretRef, "secret", "", "Kubernetes secret with the front-end address (namespace/name)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, yaml, json")

	rootCmd.AddCommand(newListCmd(&addr, &secretRef, &outputFormat))
	rootCmd.AddCommand(newDescribeCmd(&addr, &secretRef, &outputFormat))
	rootCmd.AddCommand(newSubmitCmd(&addr, &secretRef, &outputFormat))
	rootCmd.AddCommand(newCleanupCmd(&addr, &secretRef, &outputFormat))
	rootCmd.AddCommand(newWatchCmd(&addr, &secretRef, &outputFormat))

	return rootCmd
}
