package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/backend"
	"github.com/monquartier/monquartier/core/market"
	"github.com/monquartier/monquartier/core/user"
)

const classifiedImagesFolder = "classifieds"

func (cli *commandLine) marketCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Buy, sell, give and offer services between neighbours",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return errHelp
		},
	}
	cmd.AddCommand(cli.marketListCommand())
	cmd.AddCommand(cli.marketPublishCommand())
	cmd.AddCommand(cli.marketRemoveCommand())
	return cmd
}

func isAdmin(sess backend.Session) bool {
	return sess.Role == user.RoleAdmin || sess.Role == user.RoleGod
}

func (cli *commandLine) openMarket(ctx context.Context) (*market.Board, error) {
	sess, err := cli.session()
	if err != nil {
		return nil, err
	}
	board, err := market.OpenBoard(ctx, cli.be.Store(), cli.be.Rows, cli.validator, origin(sess), market.Seller{
		ID:          sess.UserID,
		Name:        sess.Name,
		CommunityID: sess.CommunityID,
		Admin:       isAdmin(sess),
	})
	if err != nil {
		return nil, err
	}
	if err := board.Wait(ctx); err != nil {
		_ = board.Close()
		return nil, err
	}
	return board, nil
}

func (cli *commandLine) marketListCommand() *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the ads of your community",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			board, err := cli.openMarket(cmd.Context())
			if err != nil {
				return err
			}
			defer board.Close()

			ads := board.Ads(strings.ToUpper(typ))
			if len(ads) == 0 {
				cli.printf("Aucune annonce.\n")
				return nil
			}
			w := tabwriter.NewWriter(cli.stdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tTITRE\tPRIX\tPAR")
			for _, c := range ads {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, market.TypeLabel(c.Type), c.Title, market.PriceLabel(c.Price), c.UserName)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "only the ads of this type: SELL, BUY, GIVE or SERVICE")
	return cmd
}

func (cli *commandLine) marketPublishCommand() *cobra.Command {
	var (
		nc    market.NewClassified
		image string
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an ad",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			board, err := cli.openMarket(ctx)
			if err != nil {
				return err
			}
			defer board.Close()

			nc.Type = strings.ToUpper(nc.Type)
			if image != "" {
				if nc.Image, err = cli.upload(ctx, image, classifiedImagesFolder); err != nil {
					return err
				}
			}
			c, err := board.Publish(ctx, nc)
			if err != nil {
				return err
			}
			cli.printf("Annonce publiée (%s).\n", c.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&nc.Type, "type", market.TypeSell, "SELL, BUY, GIVE or SERVICE")
	cmd.Flags().StringVar(&nc.Title, "title", "", "the ad title")
	cmd.Flags().StringVar(&nc.Description, "description", "", "the ad description")
	cmd.Flags().IntVar(&nc.Price, "price", 0, "the price in FCFA, 0 when free")
	cmd.Flags().StringVar(&image, "image", "", "a picture to attach")
	return cmd
}

func (cli *commandLine) marketRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <ad-id>",
		Short: "Remove one of your ads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			board, err := cli.openMarket(cmd.Context())
			if err != nil {
				return err
			}
			defer board.Close()

			if err := board.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			cli.printf("Annonce retirée.\n")
			return nil
		},
	}
}

// upload sends the file at path to the blob store and returns its public URL.
func (cli *commandLine) upload(ctx context.Context, path, folder string) (string, error) {
	if cli.be.Uploads == nil {
		return "", core.ErrNotConfigured
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "reading image")
	}
	return cli.be.Uploads.Upload(ctx, data, folder, filepath.Base(path))
}
