package main

import (
	"log"
	"os"

	"github.com/monquartier/monquartier/core"
	logsvc "github.com/monquartier/monquartier/services/logger"
	"github.com/monquartier/monquartier/storage/database"
	"github.com/monquartier/monquartier/storage/database/sqlstore"
)

var logger core.Logger

func main() {
	conf := core.NewConfig()

	stdLogger := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	rollbarLogger := logsvc.NewRollbarLogger(stdLogger, conf)
	rollbarLogger.Enable(!conf.Debug)
	logger = rollbarLogger

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	sqlxDB := sqlstore.NewDB(db, conf.Database.Engine)

	// start CLI
	cli := commandLine{
		db:      db,
		engine:  conf.Database.Engine,
		usrRepo: sqlstore.NewUserRepository(sqlxDB),
		// postgres notifies the API nodes itself, sqlite has no other node to notify
		rows: sqlstore.NewRowStore(sqlxDB, nil),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error("admin command failed: "+err.Error(), err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
