package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lektio/lektio/internal/audit"
	"github.com/lektio/lektio/internal/auth"
	"github.com/lektio/lektio/internal/config"
	"github.com/lektio/lektio/internal/directory"
	"github.com/lektio/lektio/internal/problems"
	"github.com/lektio/lektio/internal/security"
	"github.com/lektio/lektio/pkg/database"
	"github.com/lektio/lektio/pkg/logger"
	"github.com/lektio/lektio/pkg/middleware"
	"github.com/lektio/lektio/pkg/observability"
)

func main() {
	cfg, err := config.Load(os.Getenv("LEKTIO_CONFIG"))
	if err != nil {
		// Logger is not up yet.
		panic(err)
	}

	log, err := logger.New(cfg.Server.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    "lektio-apisvc",
		ServiceVersion: "dev",
		Environment:    cfg.Server.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	}, log)
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracer(context.Background()) //nolint:errcheck

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	metrics := observability.NewMetrics()

	dirClient := directory.New(directory.Config{
		BaseURL: cfg.Directory.BaseURL,
		Timeout: cfg.Directory.Timeout,
	})

	var sink audit.Sink = audit.NopSink{}
	var asyncSink *audit.AsyncSink
	if cfg.Security.EnableAuditLogging {
		asyncSink = audit.NewAsyncSink(audit.MultiSink{
			audit.NewLogSink(log),
			audit.NewSQLSink(db, log),
		}, 1024, log)
		sink = asyncSink
		defer asyncSink.Close()
	}

	hierarchy := security.NewRoleHierarchy()
	policyStore := security.NewPolicyStore()
	engine := security.NewPolicyEngine(policyStore, hierarchy, dirClient, sink, log, cfg.Security.LookupTimeout)

	limiter := security.NewRateLimiter(security.NewMemoryWindowStore(), cfg.Security.RateLimitWindow, cfg.Security.RateLimitMaxRequests)
	guard := security.NewLoginAttemptGuard(security.NewSQLAttemptStore(db), cfg.Security.MaxLoginAttempts, cfg.Security.LockoutDuration, sink, log)
	csrf := security.NewCsrfValidator()
	sessions := auth.NewSessionManager(cfg.Security.SessionSigningKey, cfg.Security.SessionTTL)

	pipeline := security.NewPipeline(security.PipelineOptions{
		Limiter:     limiter,
		Origin:      security.NewOriginValidator(cfg.Security.AllowedOrigins),
		CSRF:        csrf,
		Verifier:    sessions,
		Resolver:    dirClient,
		Engine:      engine,
		Sink:        sink,
		Logger:      log,
		Metrics:     metrics,
		CSRFEnabled: cfg.Security.EnableCSRFProtection,
		CORSEnabled: cfg.Security.EnableCORS,
	})

	sweeper := security.NewSweeper(limiter, guard, csrf, cfg.Security.SweepInterval, log)
	go sweeper.Run(ctx)

	authSvc := auth.NewService(dirClient, guard, sessions, csrf, log)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("lektio-apisvc"))
	r.Use(middleware.SecurityHeadersMiddleware())
	r.Use(observability.PrometheusMiddleware(metrics))
	// Edge burst smoothing; the pipeline enforces the per-identity quota.
	r.Use(middleware.RateLimitMiddleware(rate.Limit(50), 100))

	if cfg.Security.EnableCORS {
		corsCfg := cors.DefaultConfig()
		if len(cfg.Security.AllowedOrigins) == 0 {
			corsCfg.AllowAllOrigins = true
		} else {
			corsCfg.AllowOrigins = cfg.Security.AllowedOrigins
			corsCfg.AllowWildcard = true
		}
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders,
			"Authorization", middleware.DefaultTenantHeader, security.CSRFTokenHeader, security.SessionTokenHeader)
		r.Use(cors.New(corsCfg))
	}

	r.GET("/healthz", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(observability.PrometheusHandler()))

	v1 := r.Group("/api/v1", middleware.TenantExtractor(middleware.TenantConfig{}))
	auth.NewHTTPHandler(authSvc, log).RegisterRoutes(v1.Group("/auth"))

	protected := v1.Group("", pipeline.Middleware())
	problems.NewHTTPHandler(problems.NewStore(db), engine, log).RegisterRoutes(protected)
	security.NewHTTPHandler(policyStore, engine, log).RegisterRoutes(protected.Group("/security"))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
