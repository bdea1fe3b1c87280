// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/McFlipperson/Island-Properties-APP-sub000/app/dto"
	"github.com/McFlipperson/Island-Properties-APP-sub000/app/handlers"
	"github.com/McFlipperson/Island-Properties-APP-sub000/app/middleware"
	"github.com/McFlipperson/Island-Properties-APP-sub000/config"
	"github.com/McFlipperson/Island-Properties-APP-sub000/utils"
)

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app                 *fiber.App
	cfg                 *config.ProductionConfig
	proxyHandler        handlers.ProxyHandlerInterface
	phoneHandler        handlers.PhoneHandlerInterface
	verificationHandler handlers.VerificationHandlerInterface
	monitorHandler      handlers.MonitorHandlerInterface
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(
	cfg *config.ProductionConfig,
	proxyHandler handlers.ProxyHandlerInterface,
	phoneHandler handlers.PhoneHandlerInterface,
	verificationHandler handlers.VerificationHandlerInterface,
	monitorHandler handlers.MonitorHandlerInterface,
) Router {
	app := fiber.New(fiber.Config{
		AppName:      "Island Properties Verification Core",
		ServerHeader: "island-core",
		ErrorHandler: errorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	return &FiberRouter{
		app:                 app,
		cfg:                 cfg,
		proxyHandler:        proxyHandler,
		phoneHandler:        phoneHandler,
		verificationHandler: verificationHandler,
		monitorHandler:      monitorHandler,
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	log.Println("Setting up routes...")

	r.setupMiddleware()

	api := r.app.Group("/api/v1")

	// Health check route (no rate limiting)
	api.Get("/health", r.healthCheck)

	// General rate limiting on all API routes
	api.Use(limiter.New(limiter.Config{
		Max:        r.cfg.Server.GlobalRateLimit,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error: dto.ErrorDetail{
					Code: "RATE_LIMIT_EXCEEDED",
				},
			})
		},
		Next: func(c fiber.Ctx) bool {
			// Never throttle provider webhooks or health checks.
			return c.Path() == "/api/v1/health" || c.Path() == "/api/v1/webhooks/sms"
		},
	}))

	// Proxy lifecycle endpoints
	proxies := api.Group("/proxies")
	proxies.Post("/assign", r.proxyHandler.AssignProxy)
	proxies.Post("/release", r.proxyHandler.ReleaseProxy)
	proxies.Get("/:expertUUID/status", r.proxyHandler.GetStatus)
	proxies.Post("/:expertUUID/health-check", r.proxyHandler.RunHealthCheck)

	// Phone number endpoints
	phones := api.Group("/phone-numbers")
	phones.Post("/provision", r.phoneHandler.ProvisionNumber)
	phones.Post("/release", r.phoneHandler.ReleaseNumber)
	phones.Get("/:expertUUID", r.phoneHandler.GetNumberStatus)

	// Verification pipeline endpoints
	verifications := api.Group("/verifications")
	verifications.Post("/sessions", r.verificationHandler.CreateSession)
	verifications.Get("/:expertUUID/codes", r.verificationHandler.GetActiveCodes)
	verifications.Post("/:expertUUID/codes/:codeUUID/viewed", r.verificationHandler.MarkCodeViewed)
	verifications.Get("/:expertUUID/stream", r.verificationHandler.StreamCodes)

	// Provider webhooks
	api.Post("/webhooks/sms", r.verificationHandler.SMSWebhook)

	// Monitor endpoints
	monitor := api.Group("/monitor")
	monitor.Get("/summary", r.monitorHandler.GetSummary)
	monitor.Get("/alerts", r.monitorHandler.GetRecentAlerts)
	monitor.Get("/proxies/:assignmentUUID", r.monitorHandler.GetProxyMetrics)

	// Prometheus scrape endpoint
	if r.cfg.Metrics.Enabled {
		r.app.Get(r.cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	// Not found handler
	r.app.Use(r.notFoundHandler)

	log.Println("Routes configured successfully")
}

// setupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return generateRequestID()
		},
	}))

	// Security headers middleware
	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         31536000,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	// CORS middleware; the dashboard is the only browser consumer
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"https://dashboard.island-properties.ph",
		},
		AllowMethods: []string{
			"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Requested-With",
			"X-Request-ID",
			"Cache-Control",
		},
		ExposeHeaders: []string{
			"X-Request-ID",
		},
		AllowCredentials: true,
	}))

	// Compression middleware; SSE streams must pass through untouched
	r.app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
		Next: func(c fiber.Ctx) bool {
			return c.Get("Accept") == "text/event-stream"
		},
	}))

	// Structured request logging
	r.app.Use(logger.New(logger.Config{
		Format:     `{"time":"${time}","pid":"${pid}","request_id":"${locals:requestid}","level":"info","method":"${method}","path":"${path}","ip":"${ip}","user_agent":"${ua}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent}}` + "\n",
		TimeFormat: time.RFC3339,
		TimeZone:   "UTC",
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/api/v1/health"
		},
	}))

	// Prometheus metrics
	if r.cfg.Metrics.Enabled {
		r.app.Use(middleware.Metrics())
	}

	// Recovery middleware with custom error handling
	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			log.Printf(`{"time":"%s","level":"error","request_id":"%s","event":"panic","error":"%v","path":"%s","method":"%s","ip":"%s"}`,
				utils.UTCNow().Format(time.RFC3339),
				c.Locals("requestid"),
				e,
				c.Path(),
				c.Method(),
				c.IP(),
			)
		},
	}))
}

// healthCheck responds to load balancer probes
func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "OK",
		Data: fiber.Map{
			"status": "healthy",
			"time":   utils.UTCNow().Format(time.RFC3339),
		},
	})
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "Resource not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
		},
	})
}

// errorHandler is the app-level fallback for unhandled errors
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: "Request failed",
		Error: dto.ErrorDetail{
			Code:    "INTERNAL_ERROR",
			Details: err.Error(),
		},
	})
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "req-" + utils.UTCNow().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b)
}

// Start begins listening on the given address
func (r *FiberRouter) Start(address string) error {
	return r.app.Listen(address)
}

// GetApp returns the underlying Fiber app
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}
