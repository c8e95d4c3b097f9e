package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/monquartier/monquartier/core/security"
)

func (cli *commandLine) openDesk(ctx context.Context) (*security.Desk, error) {
	sess, err := cli.session()
	if err != nil {
		return nil, err
	}
	return security.OpenDesk(ctx, cli.be.Store(), cli.be.Rows, cli.locator, security.Resident{
		Name:        sess.Name,
		CommunityID: sess.CommunityID,
	})
}

func (cli *commandLine) sosCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sos",
		Short: "Alert the security team with your position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			desk, err := cli.openDesk(cmd.Context())
			if err != nil {
				return err
			}
			defer desk.Close()

			alert, err := desk.TriggerSOS(cmd.Context())
			if err != nil {
				cli.printf("%s\n", security.MsgSOSFailed)
				return err
			}
			cli.printf("SOS envoyé à %s. Position: %s\n", alert.Time, alert.Location)
			return nil
		},
	}
}

func (cli *commandLine) reportCommand() *cobra.Command {
	var location string
	cmd := &cobra.Command{
		Use:   "report <message>...",
		Short: "Report an incident to the security team",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desk, err := cli.openDesk(cmd.Context())
			if err != nil {
				return err
			}
			defer desk.Close()

			if _, err := desk.Report(cmd.Context(), strings.Join(args, " "), location); err != nil {
				return err
			}
			cli.printf("Signalement envoyé.\n")
			return nil
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "where it happens")
	return cmd
}

func (cli *commandLine) alertsCommand() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show the alerts of your community",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			desk, err := cli.openDesk(ctx)
			if err != nil {
				return err
			}
			defer desk.Close()
			if err := desk.Wait(ctx); err != nil {
				return err
			}

			shown := map[string]bool{}
			alerts := desk.Alerts()
			// the desk keeps the newest first, print them like a log
			for i := len(alerts) - 1; i >= 0; i-- {
				cli.printAlert(alerts[i], shown)
			}
			if !follow {
				return nil
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-desk.Changes():
					alerts := desk.Alerts()
					for i := len(alerts) - 1; i >= 0; i-- {
						cli.printAlert(alerts[i], shown)
					}
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing the new alerts")
	return cmd
}

func (cli *commandLine) printAlert(a security.Alert, shown map[string]bool) {
	if shown[a.ID] {
		return
	}
	shown[a.ID] = true
	line := fmt.Sprintf("[%s] %s %s, %s", a.Time, a.Type, a.User, a.Location)
	if a.Message != "" {
		line += ": " + a.Message
	}
	cli.printf("%s\n", line)
}
