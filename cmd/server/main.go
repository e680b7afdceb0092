package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bikaxh01/toothsi-bot/internal/auth"
	"github.com/bikaxh01/toothsi-bot/internal/client"
	"github.com/bikaxh01/toothsi-bot/internal/config"
	"github.com/bikaxh01/toothsi-bot/internal/handler"
	"github.com/bikaxh01/toothsi-bot/internal/logging"
	"github.com/bikaxh01/toothsi-bot/internal/middleware"
	"github.com/bikaxh01/toothsi-bot/internal/poller"
	"github.com/bikaxh01/toothsi-bot/internal/service"
	"github.com/bikaxh01/toothsi-bot/internal/tracker"
	"github.com/bikaxh01/toothsi-bot/internal/viewstate"
	ws "github.com/bikaxh01/toothsi-bot/internal/websocket"
	"github.com/bikaxh01/toothsi-bot/internal/worker"
	"github.com/bikaxh01/toothsi-bot/pkg/response"
)

// @title          Toothsi Bot Console API
// @version        1.0
// @description    Operator console for batch outbound calls: upload contact sheets, watch call outcomes, redial.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	if *printConfig {
		if err := config.Dump(os.Stdout, cfg); err != nil {
			logrus.Fatalf("Failed to print config: %v", err)
		}
		return
	}

	log := logging.New(cfg.Server.LogLevel, cfg.Server.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Redis client (optional - rate limiting and redial journal)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.WithError(err).Warn("Redis not available")
		}
		cancel()
	} else {
		log.Info("Redis disabled, using in-memory redial journal and no rate limits")
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(log.WithField("component", "hub"))
	go hub.Run(ctx)

	// Remote batch service
	remote := client.NewBatchClient(&cfg.Remote, log.WithField("component", "remote"))
	log.WithField("base_url", remote.BaseURL()).Info("Remote batch service configured")

	// Archive storage (optional)
	var storage client.StorageClient
	if cfg.Storage.Configured() {
		s3Client, err := client.NewS3Client(&cfg.Storage)
		if err != nil {
			log.WithError(err).Warn("Storage client not initialized")
		} else {
			storage = s3Client
		}
	} else {
		log.Info("Storage not configured, uploads are not archived")
	}

	// OIDC verifier (optional - console sessions still work without it)
	var tokenVerifier auth.TokenVerifier
	if cfg.OIDC.Issuer != "" {
		verifier, err := auth.NewOIDCVerifier(ctx, &cfg.OIDC)
		if err != nil {
			log.WithError(err).Warn("OIDC verifier not initialized")
		} else {
			tokenVerifier = verifier
		}
	}

	// Core state
	redials := tracker.New()
	store := viewstate.New(redials)
	store.SetPublisher(func(snap viewstate.Snapshot) {
		hub.BroadcastView(snap.BatchID, snap)
	})

	syncService := service.NewSyncService(remote, store, log.WithField("component", "sync"))
	scheduler := poller.New(syncService.Refresh, cfg.Poll.Interval(), log.WithField("component", "poller"))
	batchService := service.NewBatchService(remote, store, scheduler, syncService, log.WithField("component", "batches"))
	uploadService := service.NewUploadService(remote, storage, store, batchService, log.WithField("component", "upload"))

	var journal service.RedialJournal = service.NewMemoryJournal()
	if redisClient != nil {
		journal = service.NewRedisJournal(redisClient)
	}

	var queue service.TaskEnqueuer
	var asynqClient *asynq.Client
	if cfg.Redial.Mode == config.RedialModeQueue {
		if redisClient == nil {
			log.Warn("Redial queue mode needs Redis, falling back to inline")
		} else {
			asynqClient = asynq.NewClient(redisOpt(cfg))
			defer asynqClient.Close()
			queue = asynqClient
		}
	}
	redialService := service.NewRedialService(remote, redials, store, syncService, journal, hub, queue, log.WithField("component", "redial"))
	log.WithField("mode", redialService.Mode()).Info("Redial dispatch configured")

	// Live reload of log level and poll interval
	if config.Watch(func(next *config.Config, e fsnotify.Event) {
		logging.SetLevel(log, next.Server.LogLevel)
		scheduler.SetInterval(next.Poll.Interval())
		log.WithFields(logrus.Fields{
			"file":          e.Name,
			"log_level":     next.Server.LogLevel,
			"poll_interval": next.Poll.Interval().String(),
		}).Info("Configuration reloaded")
	}) {
		log.Debug("Watching config file for changes")
	}

	// Initialize handlers and middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenVerifier, cfg.Auth.JWTSecret)
	routes := &handler.Routes{
		Health: handler.NewHealthHandler(remote, fiber.Map{
			"redis":   redisClient != nil,
			"storage": storage != nil,
			"oidc":    tokenVerifier != nil,
			"redial":  redialService.Mode(),
		}),
		Auth:         handler.NewAuthHandler(authMiddleware, cfg.Auth.JWTSecret, cfg.Auth.Passcode, time.Duration(cfg.Auth.Expiration)*time.Hour, validate, log.WithField("component", "auth")),
		Upload:       handler.NewUploadHandler(uploadService),
		Batch:        handler.NewBatchHandler(batchService, validate),
		Redial:       handler.NewRedialHandler(redialService, validate),
		Socket:       handler.NewSocketHandler(hub, batchService, validate),
		Authenticate: authMiddleware.Authenticate(),
		RateLimiter:  middleware.NewRateLimiter(redisClient, log.WithField("component", "ratelimit")),
		Limits:       cfg.RateLimit,
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          response.ErrorHandler,
		BodyLimit:             int(service.MaxUploadSize) + 1<<20,
		DisableStartupMessage: true,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path} ${locals:operator} ${locals:authMethod}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${locals:operator} ${locals:authMethod} ${queryParams} ${reqHeaders}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
		Output: log.WriterLevel(logrus.InfoLevel),
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	routes.Register(app)

	// Start Asynq worker server
	var workerServer *asynq.Server
	if queue != nil {
		workerServer = startWorkerServer(cfg, redialService, log.WithField("component", "worker"))
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.WithField("addr", addr).Info("Server starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("Server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := scheduler.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("Poll cycle did not stop in time")
	}
	if workerServer != nil {
		workerServer.Shutdown()
	}
	log.Info("Server stopped")
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func startWorkerServer(cfg *config.Config, redialService *service.RedialService, log logrus.FieldLogger) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				service.QueueRedial: 1,
			},
			LogLevel: asynqLogLevel,
			Logger:   log,
		},
	)

	redialWorker := worker.NewRedialWorker(redialService, log)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeRedial, redialWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.WithError(err).Error("Asynq worker error")
		return nil
	}
	return srv
}
