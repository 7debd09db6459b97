package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tunedeck/catalogd/pkg/cd"
)

func searchCommand() *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "search <criteria>",
		Short: "Search the catalog",
		Long: `Search the catalog using UPnP search criteria, for example:

  catctl search 'upnp:artist contains "Bach" and dc:title contains "Mass"'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			objectID := cd.RootID
			if scope != "" {
				objectID = scope
			}
			criteria := strings.Join(args, " ")

			result, err := app.service.Search(ctx, app.node, objectID, criteria)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().StringVarP(&scope, "scope", "s", "", "container object id to scope the search to")
	return cmd
}
