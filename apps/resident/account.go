package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/user"
)

func (cli *commandLine) loginCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to your community",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				_ = cmd.Usage()
				return errHelp
			}
			pwd, err := cli.promptPassword(cmd, "Mot de passe:")
			if err != nil {
				return err
			}
			sess, err := cli.be.Auth.SignIn(cmd.Context(), core.CleanString(email, true), pwd)
			if err != nil {
				return err
			}
			cli.printf("Bienvenue, %s !\n", sess.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "your email address")
	return cmd
}

func (cli *commandLine) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.be.Auth.SignOut(cmd.Context()); err != nil {
				return err
			}
			cli.printf("À bientôt.\n")
			return nil
		},
	}
}

func (cli *commandLine) registerCommand() *cobra.Command {
	var nu user.NewUser
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create your account, in a community or in the household of a family code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if nu.Email == "" || nu.Name == "" {
				_ = cmd.Usage()
				return errHelp
			}
			if nu.FamilyCode != "" {
				nu.FamilyCode = strings.ToUpper(core.CleanString(nu.FamilyCode))
				if !core.IsFamilyCode(nu.FamilyCode) {
					return core.NewValidationError(nil, core.FieldError{Field: "family_code", Error: "Code famille invalide."})
				}
				family, err := cli.accounts.VerifyFamilyCode(cmd.Context(), nu.FamilyCode)
				if err != nil {
					return err
				}
				cli.printf("Famille de %s\n", family.HeadName)
			}
			pwd, err := cli.promptPassword(cmd, "Mot de passe:")
			if err != nil {
				return err
			}
			nu.Password = pwd
			sess, err := cli.accounts.Register(cmd.Context(), nu)
			if err != nil {
				return err
			}
			cli.printf("Compte créé. Bienvenue, %s !\n", sess.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&nu.Email, "email", "", "your email address")
	cmd.Flags().StringVar(&nu.Name, "name", "", "your full name")
	cmd.Flags().StringVar(&nu.Phone, "phone", "", "your phone number")
	cmd.Flags().StringVar(&nu.BirthDate, "birth-date", "", "your birth date, YYYY-MM-DD")
	cmd.Flags().StringVar(&nu.CommunityID, "community", "", "the id of your community")
	cmd.Flags().StringVar(&nu.FamilyCode, "family-code", "", "the code given by the head of your household")
	return cmd
}

func (cli *commandLine) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := cli.session(); err != nil {
				return err
			}
			usr, err := cli.accounts.Me(cmd.Context())
			if err != nil {
				return err
			}
			cli.printf("%s <%s>\n", usr.Name, usr.Email)
			cli.printf("Rôle: %s\n", usr.Role)
			if usr.IsHeadOfFamily && usr.FamilyID != "" {
				cli.printf("Code famille: %s\n", usr.FamilyID)
			}
			return nil
		},
	}
}

func (cli *commandLine) resetPasswordCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Receive a password reset email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				_ = cmd.Usage()
				return errHelp
			}
			if err := cli.accounts.RequestPasswordReset(cmd.Context(), core.CleanString(email, true)); err != nil {
				return err
			}
			cli.printf("Si un compte existe pour %s, un email vient de lui être envoyé.\n", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "the email address of the account")
	return cmd
}
