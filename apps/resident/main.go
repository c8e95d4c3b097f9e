package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/backend"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/services/geo"
	logsvc "github.com/monquartier/monquartier/services/logger"
	"github.com/monquartier/monquartier/storage/remote"
)

var logger core.Logger

func main() {
	conf := core.NewConfig()

	stdLogger := log.New(os.Stderr, "RESIDENT : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	rollbarLogger := logsvc.NewRollbarLogger(stdLogger, conf)
	rollbarLogger.Enable(!conf.Debug)
	logger = rollbarLogger

	// set up the backend
	var api *remote.Client
	be, err := backend.Init(func() (*backend.Client, error) {
		var err error
		if api, err = remote.New(conf.Client, logger); err != nil {
			return nil, err
		}
		if _, err = api.Auth().Restore(); err != nil {
			logger.Warn("could not restore the session: " + err.Error())
		}
		return api.Backend(), nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, core.UserMessage(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// start CLI
	cli := commandLine{
		be:        be,
		accounts:  api.Auth(),
		locks:     api.Locks(),
		locator:   geo.NewLocator(conf.Client.LocatorURL, nil),
		validator: core.NewValidator(),
	}
	err = cli.run(ctx, os.Args)
	if err != nil && err != errHelp {
		fmt.Fprintln(os.Stderr, core.UserMessage(err))
		if !expected(err) {
			logger.Error("resident command failed: "+err.Error(), err)
		}
	}
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// expected reports whether err is the resident's to fix rather than a failure worth reporting.
func expected(err error) bool {
	if core.IsTransportError(err) || core.IsConfigError(err) {
		return true
	}
	switch cause := errors.Cause(err).(type) {
	case *core.ValidationError:
		return true
	case *remote.StatusError:
		return cause.Code < http.StatusInternalServerError
	default:
		switch cause {
		case backend.ErrNotSignedIn, collection.ErrNotFound, collection.ErrConflict, context.Canceled:
			return true
		}
		return false
	}
}
