package main

import (
	"context"
	"net/http"

	"github.com/spf13/cobra"
)

func newSubmitCmd(addr, secretRef, outputFormat *string) *cobra.Command {
	var (
		source      string
		user        string
		destination string
		isLazy      bool
		isRecover   bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new clone or recover task",
		Long: `Submit a new clone or recover task to clone-engine.

Examples:
  # Clone a snapshot eagerly
  cloneadm submit --source snap-123 --user alice --destination vol-b

  # Submit a lazy clone
  cloneadm submit --source snap-123 --user alice --destination vol-b --lazy

  # Recover an existing destination volume from a snapshot
  cloneadm submit --source snap-123 --user alice --destination vol-b --recover`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSubmit(cmd.Context(), addr, secretRef, outputFormat, source, user, destination, isLazy, isRecover)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Clone source: a snapshot name or a live file name")
	cmd.Flags().StringVar(&user, "user", "", "Requesting user")
	cmd.Flags().StringVar(&destination, "destination", "", "Destination file name")
	cmd.Flags().BoolVar(&isLazy, "lazy", false, "Submit a lazy clone (chunks materialize on first access)")
	cmd.Flags().BoolVar(&isRecover, "recover", false, "Recover an existing destination instead of cloning a new one")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("destination")

	return cmd
}

type createTaskRequest struct {
	Source      string `json:"source"`
	User        string `json:"user"`
	Destination string `json:"destination"`
	IsLazy      bool   `json:"isLazy"`
	Recover     bool   `json:"recover"`
}

func runSubmit(ctx context.Context, addr, secretRef, outputFormat *string, source, user, destination string, isLazy, isRecover bool) error {
	base, err := resolveAddr(ctx, addr, secretRef)
	if err != nil {
		return err
	}
	c := newClient(base)

	req := createTaskRequest{Source: source, User: user, Destination: destination, IsLazy: isLazy, Recover: isRecover}

	var ti taskInfo
	if err := c.do(ctx, http.MethodPost, "/v1/tasks", req, &ti); err != nil {
		return err
	}

	return outputTask(ti, *outputFormat)
}
