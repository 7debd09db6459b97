package main

import (
	"context"

	"github.com/spf13/cobra"
)

func updateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Trigger a catalog re-index",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.Update(ctx, app.node)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}
