package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/backend"
	"github.com/monquartier/monquartier/core/chat"
	"github.com/monquartier/monquartier/core/security"
	"github.com/monquartier/monquartier/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

// accounts is the part of the authentication done outside of a session.
type accounts interface {
	Register(ctx context.Context, nu user.NewUser) (backend.Session, error)
	Me(ctx context.Context) (user.User, error)
	VerifyFamilyCode(ctx context.Context, code string) (user.FamilyInfo, error)
	RequestPasswordReset(ctx context.Context, email string) error
}

type commandLine struct {
	be        *backend.Client
	accounts  accounts
	locks     chat.Locks
	locator   security.Locator
	validator *core.Validator
	out       io.Writer
}

func (cli *commandLine) stdout() io.Writer {
	if cli.out == nil {
		return os.Stdout
	}
	return cli.out
}

func (cli *commandLine) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "monquartier",
		Short:         "Mon Quartier, la vie de votre quartier en ligne de commande",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return errHelp
		},
	}
	root.SetOut(cli.stdout())
	root.SetErr(cli.stdout())

	root.AddCommand(cli.loginCommand())
	root.AddCommand(cli.logoutCommand())
	root.AddCommand(cli.registerCommand())
	root.AddCommand(cli.whoamiCommand())
	root.AddCommand(cli.resetPasswordCommand())
	root.AddCommand(cli.newsCommand())
	root.AddCommand(cli.chatCommand())
	root.AddCommand(cli.voteCommand())
	root.AddCommand(cli.jobsCommand())
	root.AddCommand(cli.marketCommand())
	root.AddCommand(cli.sosCommand())
	root.AddCommand(cli.reportCommand())
	root.AddCommand(cli.alertsCommand())
	root.AddCommand(cli.financeCommand())
	return root
}

// run executes the command line args, args[0] being the program name.
func (cli *commandLine) run(ctx context.Context, args []string) error {
	root := cli.rootCommand()
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (cli *commandLine) session() (backend.Session, error) {
	return cli.be.CurrentSession()
}

// origin tags the records written by this session so that their echo is recognised.
func origin(sess backend.Session) string {
	return "cli-" + sess.UserID
}

func (cli *commandLine) printf(format string, a ...interface{}) {
	fmt.Fprintf(cli.stdout(), format, a...)
}

// promptPassword reads a password from the terminal without echoing it.
func (cli *commandLine) promptPassword(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cli.stdout(), prompt)
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.stdout())
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		_ = cmd.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}
