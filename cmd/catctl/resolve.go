package main

import (
	"context"

	"github.com/spf13/cobra"
)

func resolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <object-id>",
		Short: "Resolve an item to its playback URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.Resolve(ctx, app.node, args[0])
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}
