package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"github.com/lexdesk/claims_backend/claims"
	"github.com/lexdesk/claims_backend/config"
	"github.com/lexdesk/claims_backend/metrics"
	"github.com/lexdesk/claims_backend/middlewares"
	"github.com/lexdesk/claims_backend/models"
	"github.com/lexdesk/claims_backend/notify"
	"github.com/lexdesk/claims_backend/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// application holds what the HTTP handlers need.
type application struct {
	intake    *claims.Intake
	lifecycle *claims.Lifecycle
	// deliverer sends queued notification jobs; nil without SMTP.
	deliverer claims.Notifier
	metrics   *metrics.Recorder
	logger    *logrus.Logger
	location  *time.Location
	tokens    middlewares.TokenLookup
	limiter   *RateLimiter
	ready     func() bool
	locker    func() *redislock.Client
}

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddress,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	return client
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func readinessGate(ready func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Always allow Cloud Run startup probe and scrapes.
		switch c.Request.URL.Path {
		case "/healthz", "/metrics":
			c.Next()
			return
		}
		if ready != nil && !ready() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service not ready"})
			return
		}
		c.Next()
	}
}

func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	// In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PATCH", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationHeader)
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return corsConfig
}

// securityConfig mirrors helmet's defaults for an API that serves no HTML.
func securityConfig() secure.Config {
	return secure.Config{
		STSSeconds:            15552000,
		STSIncludeSubdomains:  true,
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		IENoOpen:              true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	}
}

func newRouter(app *application) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(secure.New(securityConfig()))
	r.Use(readinessGate(app.ready))
	r.Use(cors.New(corsConfig()))
	if app.limiter != nil {
		r.Use(app.limiter.RateLimitMiddleware)
	}
	r.Use(middlewares.SessionMiddleware(app.tokens))
	r.Use(customErrorLogger(app.logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(app.metrics.Handler()))

	r.POST("/claims", submitClaimHandler(app))
	r.GET("/claims/track/:code", trackClaimHandler(app))

	staff := r.Group("/claims", middlewares.RequireStaff())
	staff.GET("", listClaimsHandler(app))
	staff.GET("/export", exportClaimsHandler(app))
	staff.GET("/:id", getClaimHandler(app))
	staff.PATCH("/:id", updateClaimStatusHandler(app))
	staff.GET("/:id/files/:role", claimFileURLHandler(app))

	r.POST("/pubsub/notifications", notifyPushHandler(app))
	r.NoRoute(customNotFoundHandler)
	return r
}

// lazyClaimRepository resolves the global connections per call; they are set
// only after the listener is already up.
type lazyClaimRepository struct{}

func (lazyClaimRepository) repo() *models.ClaimRepository {
	return models.NewClaimRepository(config.GetDB(), config.GetRedisDB())
}

func (l lazyClaimRepository) Create(ctx context.Context, claim *models.Claim) error {
	return l.repo().Create(ctx, claim)
}

func (l lazyClaimRepository) Save(ctx context.Context, claim *models.Claim) error {
	return l.repo().Save(ctx, claim)
}

func (l lazyClaimRepository) FindByTrackingCode(ctx context.Context, code string) (*models.Claim, error) {
	return l.repo().FindByTrackingCode(ctx, code)
}

func (l lazyClaimRepository) FindByID(ctx context.Context, id string) (*models.Claim, error) {
	return l.repo().FindByID(ctx, id)
}

func (l lazyClaimRepository) FindAll(ctx context.Context, status *models.ClaimStatus) ([]*models.Claim, error) {
	return l.repo().FindAll(ctx, status)
}

func officeLocation(logger *logrus.Logger) *time.Location {
	name := strings.TrimSpace(os.Getenv("OFFICE_TIMEZONE"))
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "OFFICE_TIMEZONE"}).Warn("unknown timezone; using UTC: " + err.Error())
		return time.UTC
	}
	return loc
}

func rateLimiterFromEnv() *RateLimiter {
	if !config.EnvBoolDefault("RATE_LIMIT_ENABLED", false) {
		return nil
	}
	limit := int64(600)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	window := config.DurationSecondsFromEnv("RATE_LIMIT_WINDOW_SECONDS", time.Minute)
	return NewRateLimiter(getRedisClient(os.Getenv("REDIS_ADDRESS")), limit, window)
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	rec, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "metrics"}).Fatal(err.Error())
	}
	notifier, mailer, err := notify.NewFromEnv(logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "notify"}).Fatal(err.Error())
	}
	store, err := utils.NewBlobStore(sigCtx)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "storage"}).Fatal(err.Error())
	}

	tasks := claims.NewTaskRunner(logger, rec, config.DurationSecondsFromEnv("NOTIFY_TIMEOUT_SECONDS", claims.DefaultNotifyTimeout))
	deps := claims.Deps{
		Store:    store,
		Repo:     lazyClaimRepository{},
		Notifier: notifier,
		Tasks:    tasks,
		Metrics:  rec,
		Logger:   logger,
	}
	app := &application{
		intake: claims.NewIntake(deps, claims.IntakeConfig{
			UploadTimeout: config.DurationSecondsFromEnv("UPLOAD_TIMEOUT_SECONDS", claims.DefaultUploadTimeout),
			CodeAttempts:  config.IntFromEnv("TRACKING_CODE_ATTEMPTS", claims.DefaultCodeAttempts),
			SniffContent:  config.EnvBoolDefault("STRICT_CONTENT_SNIFF", false),
		}),
		lifecycle: claims.NewLifecycle(deps),
		metrics:   rec,
		logger:    logger,
		location:  officeLocation(logger),
		tokens:    middlewares.RedisTokenLookup(),
		limiter:   rateLimiterFromEnv(),
		ready: func() bool {
			return config.GetDB() != nil && config.GetRedisDB() != nil
		},
		locker: config.GetRedisLock,
	}
	if mailer != nil {
		app.deliverer = mailer
	}

	// Start listening immediately; until DB/Redis are ready app endpoints answer 503.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	db := config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry(sigCtx)

	// AutoMigrate can lock tables; allow running it as a separate job instead.
	if !config.EnvBoolDefault("SKIP_MIGRATIONS", false) {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{
		"info":     "Connection Established",
		"storage":  utils.GetStorageProvider(),
		"notifier": notify.GetProvider(),
	}).Info("listening on :", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Let queued notifications finish.
	if !tasks.WaitTimeout(config.DurationSecondsFromEnv("SHUTDOWN_DRAIN_SECONDS", 20*time.Second)) {
		logger.WithFields(logrus.Fields{"field": "tasks"}).Warn("background notifications still running at shutdown")
	}

	if err := store.Close(); err != nil {
		logger.WithFields(logrus.Fields{"field": "storage"}).Warn("close blob store: " + err.Error())
	}
	if err := config.ClosePubSub(); err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Warn("close pubsub: " + err.Error())
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"method":         c.Request.Method,
				"path":           c.FullPath(),
				"status":         c.Writer.Status(),
				"correlation_id": cid,
				"trace_id":       middlewares.TraceID(c),
			}).Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per client IP in fixed windows.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "ratelimit:" + c.ClientIP()

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// Fail open.
		_ = c.Error(fmt.Errorf("rate limiter: %w", err))
		c.Next()
		return
	}
	if count == 1 {
		if err := rl.client.Expire(c.Request.Context(), key, rl.window).Err(); err != nil {
			_ = c.Error(fmt.Errorf("rate limiter: %w", err))
		}
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}
