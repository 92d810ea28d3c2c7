package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appflow "github.com/medagenda/backend/internal/application/flow"
	appintegration "github.com/medagenda/backend/internal/application/integration"
	appscheduling "github.com/medagenda/backend/internal/application/scheduling"
	appsync "github.com/medagenda/backend/internal/application/sync"
	"github.com/medagenda/backend/internal/domain/integration"
	"github.com/medagenda/backend/internal/domain/scheduling"
	"github.com/medagenda/backend/internal/infrastructure/auth"
	"github.com/medagenda/backend/internal/infrastructure/cache"
	"github.com/medagenda/backend/internal/infrastructure/config"
	"github.com/medagenda/backend/internal/infrastructure/logger"
	"github.com/medagenda/backend/internal/infrastructure/persistence"
	"github.com/medagenda/backend/internal/infrastructure/telemetry"
	"github.com/medagenda/backend/internal/interfaces/http/handler"
	"github.com/medagenda/backend/internal/interfaces/http/middleware"
	"github.com/medagenda/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errAdapterNotConfigured is returned by the placeholder scheduling-system
// adapters. Deployments replace them with the adapter for the tenant's
// actual scheduling software; until then the affected endpoints answer
// with an explicit error instead of empty data.
var errAdapterNotConfigured = errors.New("scheduling system adapter not configured")

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting MedAgenda backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := db.Migrate(); err != nil {
		log.Fatal("Failed to migrate database schema", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Initialize the Redis-backed key-value store shared by the cache
	// gateway, the flow-match cache, the rate limiter and the sync lock
	store, err := cache.NewRedisStore(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Redis.Namespace)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	log.Info("Redis connected successfully", zap.String("namespace", cfg.Redis.Namespace))

	// Initialize OpenTelemetry tracing and metrics
	ctx := context.Background()
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.TracingConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    15 * time.Second,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	cacheMetrics, err := telemetry.NewCacheMetrics()
	if err != nil {
		log.Fatal("Failed to create cache metrics", zap.Error(err))
	}

	// Cache gateway with the per-resource TTLs
	gateway := appintegration.NewCacheGateway(store, appintegration.TTLConfig{
		Patient:          cfg.Cache.PatientTTL,
		PatientSchedules: cfg.Cache.PatientSchedulesTTL,
		EntityList:       cfg.Cache.EntityListTTL,
		ProcessedEntity:  cfg.Cache.ProcessedEntityTTL,
		ScheduleQuote:    cfg.Cache.ScheduleQuoteTTL,
		PatientToken:     cfg.Cache.PatientTokenTTL,
		TenantToken:      cfg.Cache.TenantTokenTTL,
		SearchResult:     cfg.Cache.SearchResultTTL,
	}, log, cacheMetrics)

	// Flow matching: persisted fragments plus the cached matcher
	fragmentRepo := persistence.NewGormFragmentRepository(db.DB)
	flowService := appflow.NewService(fragmentRepo, store, cfg.Flow.MatchCacheTTL, log, cacheMetrics)

	// All tenant types currently resolve rules through flow matching.
	// Tenant types with their own policy endpoint register a dedicated
	// handler here.
	rulesRegistry := integration.NewRulesHandlerRegistry(flowService)

	// Placeholder scheduling-system adapters, replaced per deployment
	slotSource := appscheduling.SlotSourceFunc(
		func(ctx context.Context, tenant integration.Tenant, filter scheduling.SearchFilter) ([]scheduling.CandidateSlot, error) {
			return nil, errAdapterNotConfigured
		})
	refresher := appscheduling.ScheduleRefresherFunc(
		func(ctx context.Context, tenant integration.Tenant, patientCode string) error {
			return errAdapterNotConfigured
		})
	fetcher := appsync.AppointmentFetcherFunc(
		func(ctx context.Context, tenant integration.Tenant) (map[string][]scheduling.Appointment, error) {
			return nil, errAdapterNotConfigured
		})

	// Scheduling services
	exclusionService := appscheduling.NewExclusionService(gateway, refresher, log)
	searchService := appscheduling.NewSearchService(gateway, rulesRegistry, exclusionService, slotSource, log)
	syncService := appsync.NewService(gateway, cache.NewDistributedLock(store, log), fetcher, cfg.Lock.SyncTTL, log)

	// Service token validation
	jwtService := auth.NewJWTService(cfg.Auth)

	// Initialize handlers
	flowHandler := handler.NewFlowHandler(flowService)
	scheduleHandler := handler.NewScheduleHandler(searchService, gateway, refresher, log)
	syncHandler := handler.NewSyncHandler(syncService)
	cacheHandler := handler.NewCacheHandler(gateway)
	systemHandler := handler.NewSystemHandler()

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	// Initialize router with custom middleware
	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Recovery - Catch panics
	// 3. Logger - Log requests
	// 4. Security - Add security headers
	// 5. CORS - Handle cross-origin requests
	// 6. BodyLimit - Limit request body size
	// 7. Tracing - OpenTelemetry spans per request
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	// Configure CORS from config
	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	// Body size limit
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Tracing
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.TracingAttributeInjector())

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db, store))

	// Setup API routes using router
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	// Apply JWT authentication middleware to API routes
	// Configure skip paths for public endpoints
	r.Use(middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
		JWTService: jwtService,
		SkipPaths: []string{
			"/api/v1/ping",
			"/api/v1/system/ping",
			"/api/v1/system/info",
		},
		Logger: log,
	}))

	// Authenticated groups resolve the tenant from the token claims
	tenantMW := middleware.TenantMiddleware(log)

	// Per-tenant rate limiting on the endpoints that hit upstream
	// scheduling systems
	var rateLimitMW gin.HandlerFunc
	if cfg.HTTP.RateLimitEnabled {
		limiter := cache.NewRateLimiter(store, cache.RateLimiterConfig{
			Limit:  cfg.HTTP.RateLimitRequests,
			Window: cfg.HTTP.RateLimitWindow,
		}, log)
		rateLimitMW = middleware.RateLimitMiddleware(limiter, log, cacheMetrics)
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	// Flow domain (policy fragments and matching)
	flowRoutes := router.NewDomainGroup("flows", "/flows")
	flowRoutes.Use(tenantMW)
	flowRoutes.POST("/match", flowHandler.Match)
	flowRoutes.POST("", flowHandler.CreateFragment)
	flowRoutes.DELETE("/cache", flowHandler.ClearMatchCache)
	flowRoutes.DELETE("/:id", flowHandler.DeleteFragment)

	// Schedule domain (slot search)
	scheduleRoutes := router.NewDomainGroup("schedules", "/schedules")
	scheduleRoutes.Use(tenantMW)
	if rateLimitMW != nil {
		scheduleRoutes.Use(rateLimitMW)
	}
	scheduleRoutes.POST("/search", scheduleHandler.Search)

	// Patient domain (cached appointment lookups)
	patientRoutes := router.NewDomainGroup("patients", "/patients")
	patientRoutes.Use(tenantMW)
	if rateLimitMW != nil {
		patientRoutes.Use(rateLimitMW)
	}
	patientRoutes.GET("/:code/appointments", scheduleHandler.PatientAppointments)

	// Cache administration
	cacheRoutes := router.NewDomainGroup("cache", "/cache")
	cacheRoutes.Use(tenantMW)
	cacheRoutes.DELETE("", cacheHandler.ClearTenant)
	cacheRoutes.DELETE("/:resource", cacheHandler.ClearResource)

	// System routes
	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", systemHandler.GetSystemInfo)
	systemRoutes.GET("/ping", systemHandler.Ping)

	r.Register(flowRoutes).
		Register(scheduleRoutes).
		Register(patientRoutes).
		Register(cacheRoutes).
		Register(systemRoutes)

	// Bulk synchronization, disabled for deployments that only serve
	// conversational lookups
	if cfg.Sync.Enabled {
		syncRoutes := router.NewDomainGroup("sync", "/sync")
		syncRoutes.Use(tenantMW)
		syncRoutes.POST("", syncHandler.Run)
		r.Register(syncRoutes)
		log.Info("Bulk sync endpoint enabled", zap.Duration("lock_ttl", cfg.Lock.SyncTTL))
	}

	// Setup routes
	r.Setup()

	// Also keep a simple ping at root API level for basic health checks
	engine.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler returns a handler for health check endpoints
func healthHandler(db *persistence.Database, store cache.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		status := gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
			"redis":    "ok",
		}
		healthy := true
		if err := db.Ping(); err != nil {
			reqLog.Warn("Database health check failed", zap.Error(err))
			status["database"] = "error"
			healthy = false
		}
		if _, _, err := store.Get(c.Request.Context(), "health:probe"); err != nil {
			reqLog.Warn("Redis health check failed", zap.Error(err))
			status["redis"] = "error"
			healthy = false
		}
		if !healthy {
			status["status"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}
