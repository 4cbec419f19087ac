package main

import (
	"context"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func newDescribeCmd(addr, secretRef, outputFormat *string) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <task-id>",
		Short: "Show one clone/recover task in detail",
		Args:  cobra.ExactArgs(1),
		Long: `Show the full state of a single clone/recover task.

Examples:
  cloneadm describe 3fa9c1-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(cmd.Context(), addr, secretRef, outputFormat, args[0])
		},
	}
}

func runDescribe(ctx context.Context, addr, secretRef, outputFormat *string, taskID string) error {
	base, err := resolveAddr(ctx, addr, secretRef)
	if err != nil {
		return err
	}
	c := newClient(base)

	var ti taskInfo
	if err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(taskID), nil, &ti); err != nil {
		return err
	}

	return outputTask(ti, *outputFormat)
}
