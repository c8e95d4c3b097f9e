package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/finance"
)

func (cli *commandLine) financeCommand() *cobra.Command {
	var opening int
	cmd := &cobra.Command{
		Use:   "finance",
		Short: "Show the treasury of your community",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := cli.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer ledger.Close()
			return cli.printLedger(ledger, opening)
		},
	}
	cmd.Flags().IntVar(&opening, "opening", 0, "the balance before the first transaction")
	cmd.AddCommand(cli.financeRecordCommand())
	cmd.AddCommand(cli.financeCampaignCommand())
	return cmd
}

func (cli *commandLine) openLedger(ctx context.Context) (*finance.Ledger, error) {
	sess, err := cli.session()
	if err != nil {
		return nil, err
	}
	ledger, err := finance.OpenLedger(ctx, cli.be.Store(), cli.be.Rows, cli.validator, finance.Treasurer{
		CommunityID: sess.CommunityID,
		Admin:       isAdmin(sess),
	})
	if err != nil {
		return nil, err
	}
	if err := ledger.Wait(ctx); err != nil {
		_ = ledger.Close()
		return nil, err
	}
	return ledger, nil
}

func (cli *commandLine) printLedger(ledger *finance.Ledger, opening int) error {
	cli.printf("Solde: %s\n\n", finance.FormatMoney(ledger.Balance(opening)))

	w := tabwriter.NewWriter(cli.stdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tLIBELLE\tMONTANT")
	for _, t := range ledger.Transactions() {
		date := t.Date
		if d, err := time.Parse(collection.TimeLayout, t.Date); err == nil {
			date = d.Local().Format("02/01/2006")
		}
		amount := finance.FormatMoney(t.Amount)
		if t.Type == finance.Expense {
			amount = "-" + amount
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", date, t.Label, amount)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	campaigns := ledger.ActiveCampaigns()
	if len(campaigns) == 0 {
		return nil
	}
	cli.printf("\nCagnottes en cours\n")
	w = tabwriter.NewWriter(cli.stdout(), 0, 4, 2, ' ', 0)
	for _, c := range campaigns {
		fmt.Fprintf(w, "%s\t%s / %s\t%d%%\tavant le %s\n", c.Title, finance.FormatMoney(c.CollectedAmount),
			finance.FormatMoney(c.TargetAmount), int(c.Progress()*100), c.Deadline)
	}
	return w.Flush()
}

func (cli *commandLine) financeRecordCommand() *cobra.Command {
	var nt finance.NewTransaction
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an income or an expense (administrators)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := cli.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer ledger.Close()

			nt.Type = strings.ToUpper(nt.Type)
			t, err := ledger.Record(cmd.Context(), nt)
			if err != nil {
				return err
			}
			cli.printf("Transaction enregistrée (%s).\n", t.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&nt.Label, "label", "", "what the money was for")
	cmd.Flags().IntVar(&nt.Amount, "amount", 0, "the amount in FCFA")
	cmd.Flags().StringVar(&nt.Type, "type", finance.Expense, "INCOME or EXPENSE")
	cmd.Flags().StringVar(&nt.ProofURL, "proof", "", "the URL of the receipt")
	return cmd
}

func (cli *commandLine) financeCampaignCommand() *cobra.Command {
	var nc finance.NewCampaign
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Start a fundraising campaign (administrators)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := cli.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer ledger.Close()

			c, err := ledger.CreateCampaign(cmd.Context(), nc)
			if err != nil {
				return err
			}
			cli.printf("Cagnotte %s lancée (%s).\n", c.Title, c.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&nc.Title, "title", "", "the campaign title")
	cmd.Flags().IntVar(&nc.TargetAmount, "target", 0, "the amount to raise in FCFA")
	cmd.Flags().StringVar(&nc.Deadline, "deadline", "", "the last day, YYYY-MM-DD")
	cmd.Flags().StringVar(&nc.Description, "description", "", "what the money is for")
	return cmd
}
