package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/backend"
	"github.com/monquartier/monquartier/core/chat"
	"github.com/monquartier/monquartier/core/collection"
	"github.com/monquartier/monquartier/core/user"
	"github.com/monquartier/monquartier/services/metrics"
	"github.com/monquartier/monquartier/storage/blob/memory"
)

type (
	Options struct {
		Address        string
		DisableReqLogs bool
		Conf           *core.Config
		Logger         core.Logger
		UserSvc        user.Service
		Rows           collection.RowStore
		Changes        collection.ChangeStream
		Locks          chat.Locks
		Uploads        backend.Uploader
		Media          *memory.Store // served under /media when set
		Metrics        *metrics.Metrics
		SignalShutdown func()
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.opts.Conf
	configure(conf)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	if s.opts.Metrics != nil {
		s.app.Use(metricsMiddleware(s.opts.Metrics))
		s.app.GET("/metrics", echo.WrapHandler(s.opts.Metrics.Handler()))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, translator, s.opts.SignalShutdown)
	s.app.Debug = conf.Debug
	s.app.HideBanner = conf.TestMode

	s.app.GET("/", home)
	s.app.GET("/health", health)
	if s.opts.Media != nil {
		registerMediaRoutes(s.app, s.opts.Media)
	}

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(appJWTConfig)

	registerUserAPI(v1, jwt, &userApi{
		svc:      s.opts.UserSvc,
		validate: validate,
		limiter:  newAddressLimiter(conf.Server.PasswordResetRate),
		logger:   s.opts.Logger,
	})
	registerCollectionAPI(v1, jwt, newCollectionApi(s.opts.Rows))
	registerChannelAPI(v1, jwt, &channelApi{rows: s.opts.Rows, locks: s.opts.Locks})
	if s.opts.Changes != nil {
		registerRealtimeAPI(v1, &realtimeApi{
			changes: s.opts.Changes,
			access:  recordAccess{rows: s.opts.Rows},
			metrics: s.opts.Metrics,
			logger:  s.opts.Logger,
		})
	}
	if s.opts.Uploads != nil {
		registerUploadAPI(v1, jwt, &uploadApi{uploads: s.opts.Uploads, metrics: s.opts.Metrics})
	}
}

func (s *server) Start() error {
	return s.app.Start(s.opts.Address)
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Bienvenue sur l'API Mon Quartier !")
}

func health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
