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

	"github.com/cartorio-digital/cartorio_backend/aiflows"
	"github.com/cartorio-digital/cartorio_backend/config"
	"github.com/cartorio-digital/cartorio_backend/middlewares"
	"github.com/cartorio-digital/cartorio_backend/models"
	"github.com/cartorio-digital/cartorio_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// readinessGate answers 503 until the database and Redis are connected.
func readinessGate(ready func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Always allow the startup health check.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if !ready() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

func dependenciesReady() bool {
	return config.GetDB() != nil && config.GetRedisDB() != nil
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	// In production only the CORS_ALLOWED_ORIGINS allowlist; elsewhere any origin.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if config.IsProduction() {
		if allowedOrigins == "" {
			cfg.AllowOrigins = []string{}
		} else {
			cfg.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	cfg.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "X-Correlation-Id")
	cfg.AddExposeHeaders("Content-Length", "Content-Disposition", "X-Correlation-Id")
	cfg.AllowCredentials = true
	return cfg
}

// newRouter wires every route. main installs the readiness gate and rate
// limiter in front of it.
func newRouter(app *App, logger *logrus.Logger, pre ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(pre...)
	r.Use(cors.New(corsConfig()))
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.LoaderMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	api := r.Group("/", middlewares.RequireSession())
	api.GET("/me", app.meHandler)
	api.POST("/logout", app.logoutHandler)

	api.GET("/clients", app.listClientsHandler)
	api.POST("/clients", app.createClientHandler)
	api.GET("/clients/stats", app.clientStatsHandler)
	api.GET("/clients/cpf-cnpj/:cpfCnpj", app.clientByCpfCnpjHandler)
	api.GET("/clients/by-name", app.clientsByNameHandler)
	api.POST("/clients/by-names", app.clientsByNamesHandler)
	api.GET("/clients/:id", app.getClientHandler)
	api.PUT("/clients/:id", app.updateClientHandler)
	api.DELETE("/clients/:id", app.deleteClientHandler)
	api.POST("/clients/:id/observacoes", app.addObservacaoHandler)
	api.GET("/clients/:id/eventos", app.listClientEventsHandler)
	api.POST("/clients/:id/eventos", app.addClientEventHandler)
	api.GET("/clients/:id/contatos", app.listClientContatosHandler)
	api.POST("/clients/:id/contatos", app.addClientContatoHandler)
	api.PUT("/contatos/:id", app.updateClientContatoHandler)
	api.DELETE("/contatos/:id", app.deleteClientContatoHandler)
	api.GET("/clients/:id/enderecos", app.listClientEnderecosHandler)
	api.POST("/clients/:id/enderecos", app.addClientEnderecoHandler)
	api.PUT("/enderecos/:id", app.updateClientEnderecoHandler)
	api.DELETE("/enderecos/:id", app.deleteClientEnderecoHandler)
	api.POST("/clients/:id/fields/commit", app.commitFieldsHandler)
	api.POST("/clients/:id/summary", app.clientSummaryHandler)
	api.POST("/clients/:id/qualification", app.clientQualificationHandler)
	api.GET("/clients/:id/documentos/status", app.clientDocumentStatusHandler)
	api.GET("/documentos/vencendo", app.expiringDocumentsHandler)

	api.GET("/livros", app.listLivrosHandler)
	api.GET("/livros/stats", app.livroStatsHandler)
	api.GET("/livros/numero/:numero/ano/:ano", app.livroByNumeroAnoHandler)
	api.POST("/livros", app.createLivroHandler)
	api.GET("/livros/:id", app.getLivroHandler)
	api.PUT("/livros/:id", app.updateLivroHandler)
	api.DELETE("/livros/:id", middlewares.RequireRole(models.UserRoleTabeliao), app.deleteLivroHandler)
	api.GET("/livros/:id/export", app.exportLivroHandler)
	api.POST("/livros/:id/pdf", app.processLivroPdfHandler)
	api.POST("/livros/:id/reprocess-pdf", app.reprocessLivroPdfHandler)
	api.GET("/livros/:id/processing-status", app.livroProcessingStatusHandler)
	api.GET("/livros/:id/atos", app.listAtosHandler)
	api.POST("/livros/:id/atos", app.createAtoHandler)

	api.GET("/atos/:id", app.getAtoHandler)
	api.PUT("/atos/:id", app.updateAtoHandler)
	api.DELETE("/atos/:id", middlewares.RequireRole(models.UserRoleTabeliao), app.deleteAtoHandler)
	api.POST("/atos/:id/extract", app.extractAtoHandler)
	api.POST("/atos/:id/verify", app.verifyAtoHandler)
	api.POST("/atos/:id/validate", app.validateAtoHandler)
	api.POST("/atos/:id/averbacoes", app.addAverbacaoHandler)

	api.POST("/minutas/check", app.checkMinuteHandler)
	api.POST("/search", app.searchHandler)

	api.GET("/presets/:kind", app.listPresetsHandler)
	api.POST("/presets/:kind", app.createPresetHandler)
	api.DELETE("/presets/:kind/:id", app.deletePresetHandler)
	api.GET("/prompts", app.listPromptsHandler)
	api.PUT("/prompts/:key", middlewares.RequireRole(models.UserRoleTabeliao), app.updatePromptHandler)
	api.GET("/config/app", app.getAppConfigHandler)
	api.PUT("/config/app", middlewares.RequireRole(models.UserRoleTabeliao), app.updateAppConfigHandler)

	api.GET("/conversations", app.listConversationsHandler)
	api.POST("/conversations", app.createConversationHandler)
	api.GET("/conversations/:id", app.getConversationHandler)
	api.DELETE("/conversations/:id", app.deleteConversationHandler)
	api.POST("/conversations/:id/messages", app.sendMessageHandler)

	api.GET("/ai/usage/logs", app.listAiUsageHandler)
	api.GET("/ai/usage/logs/:id", app.getAiUsageHandler)
	api.GET("/ai/usage/stats", app.aiUsageStatsHandler)
	api.GET("/ai/usage/costs", middlewares.RequireRole(models.UserRoleTabeliao), app.aiUsageCostsHandler)
	api.GET("/ai/usage/export", middlewares.RequireRole(models.UserRoleTabeliao), app.exportAiUsageHandler)
	api.DELETE("/ai/usage/logs", middlewares.RequireRole(models.UserRoleTabeliao), app.cleanupAiUsageHandler)

	api.POST("/uploads/sign", signUploadHandler)
	api.POST("/uploads/complete", completeUploadHandler)
	api.GET("/uploads/object", uploadObjectHandler)

	r.NoRoute(customNotFoundHandler)
	return r
}

// newFlows returns flows without a generator when GEMINI_API_KEY is unset;
// every AI endpoint then answers 502.
func newFlows(ctx context.Context, logger *logrus.Logger, settings config.AppSettings) *aiflows.Flows {
	apiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if apiKey == "" {
		logger.WithFields(logrus.Fields{"field": "aiflows"}).Warn("GEMINI_API_KEY not set; AI flows disabled")
		return aiflows.New(nil, models.PromptStore{})
	}
	gemini, err := aiflows.NewGemini(ctx, apiKey, settings.GeminiModel, settings.AIRateLimitPerMin)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "aiflows"}).Error("AI flows disabled: " + err.Error())
		return aiflows.New(nil, models.PromptStore{})
	}
	return aiflows.New(gemini, models.PromptStore{}).
		WithUsageRecorder(models.AiUsageStore{Pricing: models.AiPricingFromEnv()})
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	appConfig, err := config.LoadAppConfig()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "app config"}).Fatal(err.Error())
	}
	settings := appConfig.Settings()

	flows := newFlows(sigCtx, logger, settings)
	app := &App{
		Config: appConfig,
		Flows:  flows,
		Sync:   workflow.NewClientSync(workflow.DBRegistry{}, flows, workflow.NewRequestGuard()),
		Pdf:    workflow.NewLivroPdfProcessor(workflow.DBLivroPdfStore{}, workflow.GCSPdfObjects{}, flows),
	}

	// Start the HTTP server first; until DB/Redis are ready app endpoints return 503.
	pre := []gin.HandlerFunc{readinessGate(dependenciesReady)}
	// Optional rate limiting.
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if config.EnvFlag("RATE_LIMIT_ENABLED", false) {
		limit := int64(config.EnvInt("RATE_LIMIT_MAX_REQUESTS", 600))
		windowSec := config.EnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)
		client := redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDRESS")})
		pre = append(pre, NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second).RateLimitMiddleware)
	}
	r := newRouter(app, logger, pre...)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can block tables; SKIP_MIGRATIONS lets it run as a separate job.
	if !config.EnvFlag("SKIP_MIGRATIONS", false) {
		if err := models.MigrateTable(sigCtx); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
		if n, err := models.SeedPresets(sigCtx); err != nil {
			config.LogError(logger, "main", "main", "SeedPresets", nil, err)
		} else if n > 0 {
			config.LogInfo(logger, "main", "main", "seeded presets", n)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	// Outbox dispatcher publishes registry events after commit.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if config.PubSubEnabled() {
		if config.EnvFlag("PUBSUB_CREATE_TOPIC", false) {
			if _, err := config.CreateTopicIfNotExists(dispatcherCtx, os.Getenv("PUBSUB_TOPIC")); err != nil {
				config.LogError(logger, "main", "main", "CreateTopicIfNotExists", os.Getenv("PUBSUB_TOPIC"), err)
			}
		}
		go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)
	} else {
		logger.WithFields(logrus.Fields{"field": "outbox"}).Warn("PUBSUB_PROJECT_ID not set; registry events stay in the outbox")
	}

	scanner := workflow.NewExpiryScanner(workflow.DBExpirySource{}, settings.ExpiryScanCron, settings.ExpiryScanDays)
	if err := scanner.Start(); err != nil {
		config.LogError(logger, "main", "main", "ExpiryScanner.Start", settings.ExpiryScanCron, err)
	}

	logger.WithFields(logrus.Fields{
		"info":   "Connection Established",
		"office": settings.OfficeName,
		"ai":     flows.Enabled(),
	}).Info("listening on port ", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	scanner.Stop()
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
	app.Pdf.Wait()

	if err := config.SaveAppConfig(appConfig); err != nil {
		config.LogError(logger, "main", "main", "SaveAppConfig", nil, err)
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
			logger.WithFields(logrus.Fields{
				"path":   c.FullPath(),
				"method": c.Request.Method,
				"status": c.Writer.Status(),
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

// RateLimitMiddleware counts requests per client IP in a fixed window.
// Redis failures let the request through.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	if c.Request.URL.Path == "/healthz" {
		c.Next()
		return
	}
	key := "RateLimit:" + c.ClientIP()
	ctx := c.Request.Context()

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		_ = c.Error(err)
		c.Next()
		return
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
			_ = c.Error(err)
		}
	}

	if count > rl.limit {
		c.Header("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
