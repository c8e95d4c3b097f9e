package dig_container

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/monquartier/monquartier/apps/api/echo"
	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/backend"
	"github.com/monquartier/monquartier/core/chat"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/media"
	"github.com/monquartier/monquartier/core/user"
	emailsvc "github.com/monquartier/monquartier/services/email"
	logsvc "github.com/monquartier/monquartier/services/logger"
	"github.com/monquartier/monquartier/services/metrics"
	"github.com/monquartier/monquartier/storage/blob/memory"
	"github.com/monquartier/monquartier/storage/blob/s3"
	"github.com/monquartier/monquartier/storage/database"
	"github.com/monquartier/monquartier/storage/database/sqlstore"
	"github.com/monquartier/monquartier/storage/realtime"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Blobs holds the blob store of the uploads. Media is set when the files are kept in process.
type Blobs struct {
	dig.Out
	Store media.BlobStore
	Media *memory.Store
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sql.DB, *sqlx.DB) {
	setUp := func() (*sql.DB, error) {
		if err := database.CreateIfNotExist(context.Background(), conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db, conf.Database.Engine); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, sqlstore.NewDB(db, conf.Database.Engine)
}

func newMetrics() *metrics.Metrics {
	return metrics.New(nil)
}

// newPublisher counts the changes before handing them to the hub.
func newPublisher(hub *realtime.Hub, m *metrics.Metrics) collection.Publisher {
	return m.Publisher(hub)
}

func newRowStore(db *sqlx.DB, pub collection.Publisher) collection.RowStore {
	return sqlstore.NewRowStore(db, pub)
}

// newListener returns the listener feeding the hub from the postgres notifications, nil on sqlite.
func newListener(conf *core.Config, rows collection.RowStore, pub collection.Publisher, loggerParam DBLoggerParam) *sqlstore.Listener {
	if conf.Database.Engine != database.Postgres {
		return nil
	}
	return sqlstore.NewListener(database.ConnString(conf), rows, pub, loggerParam.Logger)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newBlobs(conf *core.Config) (Blobs, error) {
	if conf.Blob.Driver == "s3" {
		store, err := s3.New(context.Background(), conf.Blob, s3.Options{
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		})
		if err != nil {
			return Blobs{}, err
		}
		return Blobs{Store: store}, nil
	}
	store := memory.New(conf.Blob.PublicBaseURL)
	return Blobs{Store: store, Media: store}, nil
}

func newUploader(blobs media.BlobStore) backend.Uploader {
	return media.NewUploader(blobs)
}

func newServerOptions(
	conf *core.Config,
	logger core.Logger,
	usrSvc user.Service,
	rows collection.RowStore,
	hub *realtime.Hub,
	locks chat.Locks,
	uploads backend.Uploader,
	mediaStore *memory.Store,
	m *metrics.Metrics,
) *echoapi.Options {
	return &echoapi.Options{
		Address: conf.Server.Host,
		Conf:    conf,
		Logger:  logger,
		UserSvc: usrSvc,
		Rows:    rows,
		Changes: hub,
		Locks:   locks,
		Uploads: uploads,
		Media:   mediaStore,
		Metrics: m,
	}
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newMetrics))
	must(c.Provide(realtime.NewHub))
	must(c.Provide(newPublisher))
	must(c.Provide(newRowStore))
	must(c.Provide(newListener))
	must(c.Provide(sqlstore.NewUserRepository))
	must(c.Provide(newEmailService))
	must(c.Provide(user.NewService))
	must(c.Provide(chat.NewServerLocks, dig.As(new(chat.Locks))))
	must(c.Provide(newBlobs))
	must(c.Provide(newUploader))
	must(c.Provide(newServerOptions))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
