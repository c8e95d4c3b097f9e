package main

import (
	"context"
	"database/sql"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	dig_container "github.com/monquartier/monquartier/apps/api/di/dig"
	echoapi "github.com/monquartier/monquartier/apps/api/echo"
	"github.com/monquartier/monquartier/assets"
	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/user"
	"github.com/monquartier/monquartier/storage/database/sqlstore"
	"github.com/monquartier/monquartier/storage/realtime"
)

func main() {
	c := dig_container.New()

	must(c.Invoke(func(
		conf *core.Config,
		apiLogger core.Logger,
		dbLoggerParam dig_container.DBLoggerParam,
		db *sql.DB,
		hub *realtime.Hub,
		listener *sqlstore.Listener,
		opts *echoapi.Options,
	) {
		// =========================================================================
		// Initialize App

		apiLogger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))

		core.ParseEmailTemplates(assets.FS, assets.EmailTemplatesDir, conf, apiLogger)
		user.LoadCommonPasswords(apiLogger)

		dbLogger := dbLoggerParam.Logger
		defer func() {
			if err := db.Close(); err != nil {
				dbLogger.Fatal("Failed to close", err)
			}
		}()
		defer hub.Close()
		defer apiLogger.Info("Application stopped")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, ctx := errgroup.WithContext(ctx)

		// =========================================================================
		// Start Debug Service
		//
		// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
		// /debug/vars - Added to the default mux by importing the expvar package.

		// Expose important info under /debug/vars.
		expvar.NewString("build").Set(conf.Build)
		expvar.NewString("env").Set(conf.Env)

		go func() {
			if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
				apiLogger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()

		// =========================================================================
		// Start Record Changes Listener

		if listener != nil {
			g.Go(func() error {
				return listener.Run(ctx)
			})
		}

		// =========================================================================
		// Start API Service

		shutdown := make(chan struct{}, 1)
		opts.SignalShutdown = func() {
			select {
			case shutdown <- struct{}{}:
			default:
			}
		}
		server := echoapi.NewServer(opts)

		g.Go(func() error {
			if err := server.Start(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})

		// =========================================================================
		// Shutdown

		g.Go(func() error {
			select {
			case <-ctx.Done():
				apiLogger.Info("Start shutdown...")
			case <-shutdown:
				apiLogger.Info("Integrity issue: Start shutdown...")
			}

			// give outstanding requests a deadline for completion
			sctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()

			// asking listener to shut down and shed load
			if err := server.Stop(sctx); err != nil {
				apiLogger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
				return err
			}
			stop()
			return nil
		})

		if err := g.Wait(); err != nil {
			apiLogger.Fatal(fmt.Sprintf("server error: %v", err), err)
		}
	}))
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
