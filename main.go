// Package main provides the main entry point for the proxy and verification core
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/McFlipperson/Island-Properties-APP-sub000/app/handlers"
	"github.com/McFlipperson/Island-Properties-APP-sub000/app/router"
	"github.com/McFlipperson/Island-Properties-APP-sub000/app/scheduler"
	"github.com/McFlipperson/Island-Properties-APP-sub000/app/services"
	businessflow "github.com/McFlipperson/Island-Properties-APP-sub000/business_flow"
	"github.com/McFlipperson/Island-Properties-APP-sub000/config"
	"github.com/McFlipperson/Island-Properties-APP-sub000/repository"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting Island Properties verification core...")

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cfg.Logging)

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// setupLogging routes the process log to stdout and a size-rotated file
func setupLogging(cfg config.LoggingConfig) {
	rotated := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotated))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.LUTC)
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the redis client and verifies connectivity.
// Redis is optional: without it the expert lock degrades to in-process and
// provider rate limiting to the provider's own enforcement.
func initializeCache(cfg config.CacheConfig) *redis.Client {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("Warning: invalid redis url, continuing without redis: %v", err)
		return nil
	}
	opt.DB = cfg.RedisDB
	if cfg.RedisPassword != "" {
		opt.Password = cfg.RedisPassword
	}

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		log.Printf("Warning: redis unreachable, continuing without redis: %v", err)
		return nil
	}

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc
}

// initializeApplication wires repositories, services, flows, workers and
// handlers together
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database initialization failed: %w", err)
	}

	redisClient := initializeCache(cfg.Cache)

	// Repositories
	expertRepo := repository.NewExpertPersonaRepository(db)
	assignmentRepo := repository.NewProxyAssignmentRepository(db)
	phoneRepo := repository.NewPhoneNumberRepository(db)
	sessionRepo := repository.NewVerificationSessionRepository(db)
	messageRepo := repository.NewInboundMessageRepository(db)
	codeRepo := repository.NewExtractedCodeRepository(db)

	// Services
	vault, err := services.NewCredentialVault(&cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("vault initialization failed: %w", err)
	}
	proxyClient := services.NewProxyProviderClient(&cfg.ProxyProvider, redisClient, cfg.Cache.RedisPrefix)
	telephonyClient := services.NewTelephonyClient(&cfg.Telephony)
	streamRegistry := services.NewSSEStreamRegistry()

	// Business flows
	locker := businessflow.NewExpertLocker(redisClient, cfg.Cache.RedisPrefix, cfg.Cache.LockTTL)
	proxyFlow := businessflow.NewProxyAssignmentFlow(
		expertRepo, assignmentRepo, proxyClient, vault, locker, db,
		cfg.ProxyProvider, cfg.Limits,
	)
	phoneFlow := businessflow.NewPhoneNumberFlow(
		expertRepo, phoneRepo, telephonyClient, db,
		cfg.Telephony, cfg.Limits,
	)
	verificationFlow := businessflow.NewVerificationFlow(
		expertRepo, phoneRepo, sessionRepo, messageRepo, codeRepo,
		businessflow.NewCodeExtractor(), streamRegistry, db,
	)

	// Background workers
	checker := proxyFlow.(*businessflow.ProxyAssignmentFlowImpl)
	monitor := scheduler.NewProxyMonitor(
		assignmentRepo, checker, proxyClient,
		cfg.Monitor, cfg.ProxyProvider.RequiredCountry, nil,
	)
	expiryWorker := scheduler.NewExpiryWorker(sessionRepo, codeRepo, 5*time.Minute, nil)

	workerCtx := context.Background()
	var stopFuncs []func()
	stopFuncs = append(stopFuncs, monitor.Start(workerCtx))
	stopFuncs = append(stopFuncs, expiryWorker.Start(workerCtx))

	// Handlers and router
	proxyHandler := handlers.NewProxyHandler(proxyFlow)
	phoneHandler := handlers.NewPhoneHandler(phoneFlow)
	verificationHandler := handlers.NewVerificationHandler(verificationFlow, streamRegistry)
	monitorHandler := handlers.NewMonitorHandler(monitor)

	r := router.NewFiberRouter(cfg, proxyHandler, phoneHandler, verificationHandler, monitorHandler)

	return &Application{
		router:    r,
		config:    cfg,
		server:    r.GetApp(),
		stopFuncs: stopFuncs,
	}, nil
}
