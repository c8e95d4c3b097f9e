package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/monquartier/monquartier/core/backend"
	"github.com/monquartier/monquartier/core/chat"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/optimistic"
)

func (cli *commandLine) chatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk with your neighbours",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return errHelp
		},
	}
	cmd.AddCommand(cli.chatListCommand())
	cmd.AddCommand(cli.chatReadCommand())
	cmd.AddCommand(cli.chatSendCommand())
	cmd.AddCommand(cli.chatJoinCommand())
	cmd.AddCommand(cli.chatSalonCommand())
	cmd.AddCommand(cli.chatDMCommand())
	cmd.AddCommand(cli.chatAnswerCommand("accept", true))
	cmd.AddCommand(cli.chatAnswerCommand("decline", false))
	return cmd
}

func author(sess backend.Session) chat.Author {
	return chat.Author{ID: sess.UserID, Name: sess.Name, Role: sess.Role}
}

func (cli *commandLine) directory() *chat.Directory {
	return chat.NewDirectory(cli.be.Rows, cli.locks)
}

// channel returns the channel id as visible by the session.
func (cli *commandLine) channel(ctx context.Context, sess backend.Session, id string) (chat.Channel, error) {
	list, err := chat.OpenChannelList(ctx, cli.be.Store(), sess.Actor())
	if err != nil {
		return chat.Channel{}, err
	}
	defer list.Close()
	if err := list.Wait(ctx); err != nil {
		return chat.Channel{}, err
	}
	ch, ok := list.Get(id)
	if !ok {
		return chat.Channel{}, collection.ErrNotFound
	}
	return ch, nil
}

func (cli *commandLine) chatListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the salons and conversations you can see",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cli.session()
			if err != nil {
				return err
			}
			list, err := chat.OpenChannelList(cmd.Context(), cli.be.Store(), sess.Actor())
			if err != nil {
				return err
			}
			defer list.Close()
			if err := list.Wait(cmd.Context()); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cli.stdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tNOM\tETAT")
			for _, ch := range append(list.Salons(), list.DMs()...) {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ch.ID, ch.Type, ch.Name, channelState(ch, sess.UserID))
			}
			return w.Flush()
		},
	}
}

func channelState(ch chat.Channel, userID string) string {
	switch {
	case ch.NeedsPassword(userID):
		return "verrouillé"
	case ch.AwaitsAnswerFrom(userID):
		return "demande reçue"
	case ch.Type == chat.TypeDM && ch.Status == chat.StatusPending:
		return "en attente"
	}
	return ""
}

func (cli *commandLine) chatReadCommand() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "read <channel-id>",
		Short: "Show the messages of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := cli.session()
			if err != nil {
				return err
			}
			ch, err := cli.channel(ctx, sess, args[0])
			if err != nil {
				return err
			}
			room, err := chat.OpenRoom(ctx, cli.be.Store(), cli.be.Rows, origin(sess), ch, author(sess))
			if err != nil {
				return err
			}
			defer room.Close()
			if err := room.Wait(ctx); err != nil {
				return err
			}

			shown := map[string]bool{}
			cli.printMessages(room.Messages(), shown)
			if !follow {
				return nil
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-room.Changes():
					cli.printMessages(room.Messages(), shown)
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing the new messages")
	return cmd
}

// printMessages prints the confirmed messages not in shown yet.
func (cli *commandLine) printMessages(msgs []chat.Message, shown map[string]bool) {
	for _, m := range msgs {
		if shown[m.ID] || m.Status == string(optimistic.Pending) || m.Status == string(optimistic.Failed) {
			continue
		}
		shown[m.ID] = true
		cli.printf("%s\n", formatMessage(m))
	}
}

func formatMessage(m chat.Message) string {
	var b strings.Builder
	if t, err := time.Parse(collection.TimeLayout, m.CreatedAt); err == nil {
		fmt.Fprintf(&b, "[%s] ", t.Local().Format("15:04"))
	}
	fmt.Fprintf(&b, "%s: ", m.UserName)
	if m.ReplyToID != "" {
		fmt.Fprintf(&b, "(↪ %s: %s) ", m.ReplyToName, m.ReplyToContent)
	}
	b.WriteString(m.Content)
	return b.String()
}

func (cli *commandLine) chatSendCommand() *cobra.Command {
	var replyTo string
	cmd := &cobra.Command{
		Use:   "send <channel-id> <message>...",
		Short: "Post a message in a channel",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := cli.session()
			if err != nil {
				return err
			}
			ch, err := cli.channel(ctx, sess, args[0])
			if err != nil {
				return err
			}
			if !ch.Writable(sess.UserID) {
				return chat.ErrChannelClosed
			}
			room, err := chat.OpenRoom(ctx, cli.be.Store(), cli.be.Rows, origin(sess), ch, author(sess))
			if err != nil {
				return err
			}
			defer room.Close()

			draft := chat.Draft{Content: strings.Join(args[1:], " ")}
			if replyTo != "" {
				if err := room.Wait(ctx); err != nil {
					return err
				}
				for _, m := range room.Messages() {
					if m.ID == replyTo {
						m := m
						draft.ReplyTo = &m
						break
					}
				}
				if draft.ReplyTo == nil {
					return collection.ErrNotFound
				}
			}
			msg, err := room.Send(ctx, draft)
			if err != nil {
				return err
			}
			cli.printf("%s\n", formatMessage(msg))
			return nil
		},
	}
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "the id of the message answered")
	return cmd
}

func (cli *commandLine) chatJoinCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "join <channel-id>",
		Short: "Enter a locked private salon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cli.session()
			if err != nil {
				return err
			}
			pwd, err := cli.promptPassword(cmd, "Mot de passe du salon:")
			if err != nil {
				return err
			}
			ch, err := cli.directory().JoinLocked(cmd.Context(), args[0], sess.UserID, pwd)
			if err != nil {
				return err
			}
			cli.printf("Vous avez rejoint %s.\n", ch.Name)
			return nil
		},
	}
}

func (cli *commandLine) chatSalonCommand() *cobra.Command {
	var (
		name    string
		private bool
	)
	cmd := &cobra.Command{
		Use:   "salon",
		Short: "Create a salon in your community",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				_ = cmd.Usage()
				return errHelp
			}
			sess, err := cli.session()
			if err != nil {
				return err
			}
			salon := chat.NewSalon{
				CommunityID: sess.CommunityID,
				Name:        name,
				Private:     private,
				CreatorID:   sess.UserID,
			}
			if private {
				if salon.Password, err = cli.promptPassword(cmd, "Mot de passe du salon:"); err != nil {
					return err
				}
			}
			ch, err := cli.directory().CreateSalon(cmd.Context(), salon)
			if err != nil {
				return err
			}
			cli.printf("Salon %s créé (%s).\n", ch.Name, ch.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "the salon name")
	cmd.Flags().BoolVar(&private, "private", false, "protect the salon with a password")
	return cmd
}

func (cli *commandLine) chatDMCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "dm <user-id>",
		Short: "Start a private conversation with a neighbour",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				_ = cmd.Usage()
				return errHelp
			}
			sess, err := cli.session()
			if err != nil {
				return err
			}
			ch, err := cli.directory().OpenDM(cmd.Context(), sess.CommunityID, author(sess), chat.Author{ID: args[0], Name: name})
			if err != nil {
				return err
			}
			if ch.Status == chat.StatusPending {
				cli.printf("Demande envoyée à %s (%s).\n", name, ch.ID)
				return nil
			}
			cli.printf("Conversation %s (%s).\n", ch.Name, ch.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "the name of your neighbour")
	return cmd
}

func (cli *commandLine) chatAnswerCommand(use string, accept bool) *cobra.Command {
	short := "Accept a conversation request"
	if !accept {
		short = "Decline a conversation request"
	}
	return &cobra.Command{
		Use:   use + " <channel-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cli.session()
			if err != nil {
				return err
			}
			ch, err := cli.directory().RespondDM(cmd.Context(), args[0], sess.UserID, accept)
			if err != nil {
				return err
			}
			cli.printf("%s: %s\n", ch.Name, ch.Status)
			return nil
		},
	}
}
