package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/storage/database"
)

func (cli *commandLine) communityCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "community",
		Short: "manage the communities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return errHelp
		},
	}

	var name, city string
	create := &cobra.Command{
		Use:   "create",
		Short: "create a community and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if core.CleanString(name) == "" {
				_ = cmd.Usage()
				return errHelp
			}
			rec, err := cli.createCommunity(name, city)
			if err != nil {
				return err
			}
			fmt.Fprintln(cli.stdout(), rec.ID())
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "the community's name")
	create.Flags().StringVar(&city, "city", "", "the community's city")

	list := &cobra.Command{
		Use:   "list",
		Short: "list the communities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.listCommunities()
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func (cli *commandLine) createCommunity(name, city string) (collection.Record, error) {
	return cli.rows.Insert(context.Background(), database.Communities, collection.Record{
		"name": core.CleanString(name),
		"city": core.CleanString(city),
	})
}

func (cli *commandLine) listCommunities() error {
	recs, err := cli.rows.Query(context.Background(), collection.Query{Collection: database.Communities}.OrderBy("name", true))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cli.stdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCITY")
	for _, rec := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", rec.ID(), rec.Text("name"), rec.Text("city"))
	}
	return w.Flush()
}
