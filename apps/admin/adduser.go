package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/user"
	"github.com/monquartier/monquartier/storage/database"
)

var (
	errUnknownRole      = errors.New("unknown role")
	errMissingCommunity = errors.New("a community is required for this role")
	errNoSuchCommunity  = errors.New("community not found")
)

type addUserFlags struct {
	email       string
	name        string
	communityID string
	role        string
}

func (cli *commandLine) addUserCommand() *cobra.Command {
	var flags addUserFlags
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "create or update a user, the password is prompted next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.email == "" {
				_ = cmd.Usage()
				return errHelp
			}
			pwd, err := cli.promptPassword(cmd)
			if err != nil {
				return err
			}
			usr, err := cli.addUser(flags, pwd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.stdout(), "user %s saved (%s)\n", usr.Email, usr.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.email, "email", "", "the user's email")
	cmd.Flags().StringVar(&flags.name, "name", "", "the user's name")
	cmd.Flags().StringVar(&flags.communityID, "community", "", "the user's community id, not needed for GOD")
	cmd.Flags().StringVar(&flags.role, "role", user.RoleAdmin, "the user's role")
	return cmd
}

// addUser updates or creates a validated user.User
func (cli *commandLine) addUser(flags addUserFlags, pwd string) (user.User, error) {
	ctx := context.Background()
	email := core.CleanString(flags.email, true /* lower */)
	name := core.CleanString(flags.name)
	communityID := core.CleanString(flags.communityID)

	if !isRole(flags.role) {
		return user.User{}, errors.Wrap(errUnknownRole, flags.role)
	}
	if flags.role != user.RoleGod {
		if communityID == "" {
			return user.User{}, errMissingCommunity
		}
		if err := cli.checkCommunity(ctx, communityID); err != nil {
			return user.User{}, err
		}
	}

	usr, err := cli.usrRepo.GetUserByEmail(ctx, email)
	isNew := errors.Is(err, user.ErrNotFound)
	if err != nil && !isNew {
		return user.User{}, err
	}
	if isNew {
		usr = user.User{Email: email, BalanceStatus: user.BalanceOK, IsHeadOfFamily: true}
	}
	if name != "" {
		usr.Name = name
	}
	if usr.Name == "" {
		usr.Name = email
	}
	usr.Role = flags.role
	usr.Status = user.StatusValidated
	usr.CommunityID = communityID
	if err := usr.SetPassword(pwd); err != nil {
		return user.User{}, err
	}

	if isNew {
		return cli.usrRepo.CreateUser(ctx, usr)
	}
	return cli.usrRepo.UpdateUser(ctx, usr)
}

func (cli *commandLine) checkCommunity(ctx context.Context, id string) error {
	recs, err := cli.rows.Query(ctx, collection.Query{Collection: database.Communities}.Where(collection.FieldID, id))
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return errors.Wrap(errNoSuchCommunity, id)
	}
	return nil
}

func isRole(role string) bool {
	for _, r := range user.AllRoles {
		if r == role {
			return true
		}
	}
	return false
}
