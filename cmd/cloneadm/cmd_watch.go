package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

func newWatchCmd(addr, secretRef, outputFormat *string) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Poll a clone/recover task until it reaches a terminal state",
		Args:  cobra.ExactArgs(1),
		Long: `Poll a single task's status at a fixed interval, printing each
change, until it transitions to Done or Error.

Examples:
  cloneadm watch 3fa9c1-... --interval 2s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), addr, secretRef, outputFormat, args[0], interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 3*time.Second, "polling interval")
	return cmd
}

func runWatch(ctx context.Context, addr, secretRef, outputFormat *string, taskID string, interval time.Duration) error {
	base, err := resolveAddr(ctx, addr, secretRef)
	if err != nil {
		return err
	}
	c := newClient(base)

	path := "/v1/tasks/" + url.PathEscape(taskID)
	var lastStatus, lastStep string

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var ti taskInfo
		if err := c.do(ctx, http.MethodGet, path, nil, &ti); err != nil {
			return err
		}

		if ti.Status != lastStatus || ti.NextStep != lastStep {
			fmt.Printf("%s  status=%s step=%s progress=%d%%\n", time.Now().Format(time.RFC3339), ti.Status, ti.NextStep, ti.Progress)
			lastStatus, lastStep = ti.Status, ti.NextStep
		}

		if ti.Status == "Done" || ti.Status == "Error" {
			return outputTask(ti, *outputFormat)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
