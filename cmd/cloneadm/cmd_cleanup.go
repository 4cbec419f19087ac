package main

import (
	"context"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func newCleanupCmd(addr, secretRef, outputFormat *string) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "cleanup <task-id>",
		Short: "Admit cleanup for an errored clone/recover task",
		Args:  cobra.ExactArgs(1),
		Long: `Admit cleanup for a task currently in the Error state.

Cleanup removes the task's temporary file, and for non-lazy clone tasks
that never reached rename, the half-written destination file, then
deletes the task record.

Examples:
  cloneadm cleanup 3fa9c1-... --user alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd.Context(), addr, secretRef, outputFormat, args[0], user)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Owning user of the task")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runCleanup(ctx context.Context, addr, secretRef, outputFormat *string, taskID, user string) error {
	base, err := resolveAddr(ctx, addr, secretRef)
	if err != nil {
		return err
	}
	c := newClient(base)

	var ti taskInfo
	path := "/v1/tasks/" + url.PathEscape(taskID) + "/cleanup?user=" + url.QueryEscape(user)
	if err := c.do(ctx, http.MethodPost, path, nil, &ti); err != nil {
		return err
	}

	return outputTask(ti, *outputFormat)
}
