package main

import (
	"context"
	"net/http"

	"github.com/spf13/cobra"
)

func newListCmd(addr, secretRef, outputFormat *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all clone/recover tasks",
		Long: `List all clone/recover tasks known to clone-engine.

Examples:
  # List all tasks in table format
  cloneadm list

  # List all tasks in YAML format
  cloneadm list -o yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd.Context(), addr, secretRef, outputFormat)
		},
	}
}

func runList(ctx context.Context, addr, secretRef, outputFormat *string) error {
	base, err := resolveAddr(ctx, addr, secretRef)
	if err != nil {
		return err
	}
	c := newClient(base)

	var tasks []taskInfo
	if err := c.do(ctx, http.MethodGet, "/v1/tasks", nil, &tasks); err != nil {
		return err
	}

	return outputTasks(tasks, *outputFormat)
}
