package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/monquartier/monquartier/core/governance"
)

func (cli *commandLine) voteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vote",
		Short: "Take part in the decisions of your community",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return errHelp
		},
	}
	cmd.AddCommand(cli.voteListCommand())
	cmd.AddCommand(cli.voteCastCommand())
	return cmd
}

func (cli *commandLine) openBallot(ctx context.Context) (*governance.Ballot, error) {
	sess, err := cli.session()
	if err != nil {
		return nil, err
	}
	svc := governance.NewService(cli.be.Rows, cli.validator)
	ballot, err := governance.OpenBallot(ctx, cli.be.Store(), svc, sess.Actor())
	if err != nil {
		return nil, err
	}
	if err := ballot.Wait(ctx); err != nil {
		_ = ballot.Close()
		return nil, err
	}
	return ballot, nil
}

func (cli *commandLine) voteListCommand() *cobra.Command {
	var closed bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the proposals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ballot, err := cli.openBallot(cmd.Context())
			if err != nil {
				return err
			}
			defer ballot.Close()

			proposals := ballot.Open()
			if closed {
				proposals = ballot.Closed()
			}
			if len(proposals) == 0 {
				cli.printf("Aucune proposition.\n")
				return nil
			}
			w := tabwriter.NewWriter(cli.stdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITRE\tPOUR\tCONTRE\tABSTENTION\tMON VOTE")
			for _, p := range proposals {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", p.ID, p.Title, p.VotesFor, p.VotesAgainst, p.VotesAbstain, ballot.MyVote(p.ID))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&closed, "closed", false, "list the closed proposals instead")
	return cmd
}

func (cli *commandLine) voteCastCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cast <proposal-id> FOR|AGAINST|ABSTAIN",
		Short: "Vote on a proposal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ballot, err := cli.openBallot(cmd.Context())
			if err != nil {
				return err
			}
			defer ballot.Close()

			if err := ballot.Vote(cmd.Context(), args[0], strings.ToUpper(args[1])); err != nil {
				return err
			}
			cli.printf("A voté !\n")
			return nil
		},
	}
}
