package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/news"
)

func (cli *commandLine) newsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "news [article-id]",
		Short: "Read the news of your community",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := cli.openNewsroom(cmd.Context())
			if err != nil {
				return err
			}
			defer room.Close()

			if len(args) == 0 {
				return cli.listArticles(room.Feed())
			}
			for _, a := range room.Feed() {
				if a.ID == args[0] {
					cli.printArticle(a)
					return nil
				}
			}
			return collection.ErrNotFound
		},
	}
}

func (cli *commandLine) openNewsroom(ctx context.Context) (*news.Newsroom, error) {
	sess, err := cli.session()
	if err != nil {
		return nil, err
	}
	room, err := news.OpenNewsroom(ctx, cli.be.Store(), cli.be.Rows, cli.validator, news.Editor{
		Name:        sess.Name,
		CommunityID: sess.CommunityID,
	})
	if err != nil {
		return nil, err
	}
	if err := room.Wait(ctx); err != nil {
		_ = room.Close()
		return nil, err
	}
	return room, nil
}

func (cli *commandLine) listArticles(articles []news.Article) error {
	if len(articles) == 0 {
		cli.printf("Aucune actualité pour le moment.\n")
		return nil
	}
	w := tabwriter.NewWriter(cli.stdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tCATEGORIE\tTITRE")
	for _, a := range articles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Date, a.Category, a.Title)
	}
	return w.Flush()
}

func (cli *commandLine) printArticle(a news.Article) {
	cli.printf("%s\n%s\n", a.Title, strings.Repeat("=", len([]rune(a.Title))))
	cli.printf("%s · %s · %s\n\n", a.Category, a.Date, a.Author)
	for _, b := range a.Blocks {
		if b.Type == news.Heading {
			cli.printf("## %s\n\n", b.Content)
			continue
		}
		cli.printf("%s\n\n", b.Content)
	}
}
