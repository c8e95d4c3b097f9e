package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/monquartier/monquartier/core/finance"
	"github.com/monquartier/monquartier/core/jobs"
)

func (cli *commandLine) jobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Find paid work in your community",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return errHelp
		},
	}
	cmd.AddCommand(cli.jobsListCommand())
	cmd.AddCommand(cli.jobsApplyCommand())
	return cmd
}

func (cli *commandLine) openJobBoard(ctx context.Context) (*jobs.Board, error) {
	sess, err := cli.session()
	if err != nil {
		return nil, err
	}
	board, err := jobs.OpenBoard(ctx, cli.be.Store(), jobs.NewService(cli.be.Rows, cli.validator), sess.Actor())
	if err != nil {
		return nil, err
	}
	if err := board.Wait(ctx); err != nil {
		_ = board.Close()
		return nil, err
	}
	return board, nil
}

func (cli *commandLine) jobsListCommand() *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the open jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			board, err := cli.openJobBoard(cmd.Context())
			if err != nil {
				return err
			}
			defer board.Close()

			list := board.Open()
			if history {
				list = board.History()
			}
			if len(list) == 0 {
				cli.printf("Aucune mission.\n")
				return nil
			}
			w := tabwriter.NewWriter(cli.stdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDATE\tMISSION\tPAIE\tPLACES\tCANDIDATURE")
			for _, j := range list {
				applied := ""
				if board.Applied(j.ID) {
					applied = "envoyée"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n", j.ID, j.Date, j.Title, finance.FormatMoney(j.Pay), j.SpotsLeft(), j.Spots, applied)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "list the past jobs instead")
	return cmd
}

func (cli *commandLine) jobsApplyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <job-id>",
		Short: "Apply for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			board, err := cli.openJobBoard(cmd.Context())
			if err != nil {
				return err
			}
			defer board.Close()

			if err := board.Apply(cmd.Context(), args[0]); err != nil {
				return err
			}
			cli.printf("%s\n", jobs.Message(nil))
			return nil
		},
	}
}
