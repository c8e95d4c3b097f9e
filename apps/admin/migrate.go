package main

import (
	"github.com/spf13/cobra"

	"github.com/monquartier/monquartier/storage/database"
)

var gooseRunFunc = database.RunMigrations // mockable

func (cli *commandLine) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "run a goose command (up, up-to VERSION, down, down-to VERSION, redo, reset, status, version, create NAME [go|sql], fix)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Usage()
				return errHelp
			}
			return cli.migrate(args)
		},
	}
}

func (cli *commandLine) migrate(args []string) error {
	return gooseRunFunc(cli.db, cli.engine, args[0], args[1:]...)
}
