package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tunedeck/catalogd/pkg/cd"
)

func browseCommand() *cobra.Command {
	var meta bool

	cmd := &cobra.Command{
		Use:   "browse [object-id]",
		Short: "Browse a catalog container",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			objectID := cd.RootID
			if len(args) > 0 {
				objectID = args[0]
			}
			flag := cd.FlagChildren
			if meta {
				flag = cd.FlagMeta
			}

			result, err := app.service.Browse(ctx, app.node, objectID, flag)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().BoolVarP(&meta, "meta", "m", false, "fetch object metadata instead of children")
	return cmd
}
