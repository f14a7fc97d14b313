package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	gommonlog "github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/config"
	"github.com/trainu/coach-inbox/internal/crmsync"
	"github.com/trainu/coach-inbox/internal/http/middleware"
	"github.com/trainu/coach-inbox/internal/metrics"
	"github.com/trainu/coach-inbox/internal/repository"
	"github.com/trainu/coach-inbox/internal/service/inbox"
	"github.com/trainu/coach-inbox/internal/triggers"
)

// Deps is everything the HTTP layer calls into. Reports and Redis are optional.
type Deps struct {
	Config  config.Config
	Inbox   *inbox.Service
	Runner  *triggers.Runner
	Sync    *crmsync.Syncer
	Reports repository.CHEventsRepository
	Redis   *redis.Client
	Log     *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	cfg := d.Config
	store := d.Inbox.Store()

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(gommonlog.WARN)
	e.Use(echoMid.Recover(), requestLogger(d.Log), echoMid.BodyLimit("1M"))

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(store.Trainers)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:trainer:",
		Window:         time.Second,
		RetryAfterHint: true,
	})
	cronMW := middleware.BearerSecret(cfg.Cron.Secret)

	// routes: trainer actions
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/messages/drafts", createDraftHandler(d.Inbox))
	v1.GET("/inbox", listInboxHandler(d.Inbox))
	v1.GET("/messages/:id", getMessageHandler(d.Inbox))
	v1.GET("/messages/:id/audit", auditHandler(d.Inbox))
	v1.POST("/messages/:id/edit", editHandler(d.Inbox))
	v1.POST("/messages/:id/approve", approveHandler(d.Inbox))
	v1.POST("/messages/:id/snooze", snoozeHandler(d.Inbox))
	v1.POST("/messages/:id/dismiss", dismissHandler(d.Inbox))
	v1.POST("/messages/:id/reject", rejectHandler(d.Inbox))
	v1.POST("/workflows/progress", progressHandler(d.Runner))
	v1.POST("/workflows/no-show/:appointmentId", noShowHandler(d.Runner))
	v1.POST("/insights/:id/outreach", outreachHandler(d.Runner))
	v1.GET("/reports/events", eventReportHandler(d.Reports))

	// routes: machine callers
	e.POST("/webhooks/crm", webhookHandler(d.Sync),
		middleware.WebhookSignature(cfg.CRM.WebhookSecret, cfg.CRM.SignatureHeader, 1<<20))
	e.POST("/v1/reconcile", reconcileHandler(d.Sync), cronMW)

	cron := e.Group("/cron", cronMW)
	cron.GET("/booking-nudges", cronHandler(func(c echo.Context) triggers.Result {
		return d.Runner.BookingNudges(c.Request().Context())
	}))
	cron.GET("/weekly-digest", cronHandler(func(c echo.Context) triggers.Result {
		return d.Runner.WeeklyDigest(c.Request().Context())
	}))
	cron.GET("/weekly-checkins", cronHandler(func(c echo.Context) triggers.Result {
		return d.Runner.WeeklyCheckins(c.Request().Context())
	}))
	cron.GET("/snooze-wakeups", cronHandler(func(c echo.Context) triggers.Result {
		return d.Runner.SnoozeWakeups(c.Request().Context())
	}))

	return &Server{e: e, log: d.Log}
}

func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			log.Info("http request", fields...)
			return nil
		},
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
