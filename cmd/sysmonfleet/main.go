package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/kestrelsec/sysmonfleet/internal/agentapi"
	"github.com/kestrelsec/sysmonfleet/internal/auth"
	"github.com/kestrelsec/sysmonfleet/internal/config"
	"github.com/kestrelsec/sysmonfleet/internal/deploy"
	"github.com/kestrelsec/sysmonfleet/internal/events"
	"github.com/kestrelsec/sysmonfleet/internal/handlers"
	"github.com/kestrelsec/sysmonfleet/internal/logging"
	"github.com/kestrelsec/sysmonfleet/internal/noise"
	"github.com/kestrelsec/sysmonfleet/internal/notify"
	"github.com/kestrelsec/sysmonfleet/internal/remote"
	"github.com/kestrelsec/sysmonfleet/internal/repository"
	"github.com/kestrelsec/sysmonfleet/internal/server"
	"github.com/kestrelsec/sysmonfleet/internal/sysmonconfig"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	logging.SetDefault(logger)

	connString := cfg.Database.Postgres.ConnString()

	// Run database migrations
	log.Println("Running database migrations...")
	m, err := migrate.New("file://migrations", connString)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	repo, err := repository.NewPostgresRepository(context.Background(), connString)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer repo.Close()

	// NATS progress bus (optional)
	var natsConn *nats.Conn
	if cfg.NATS.Enabled {
		natsConn, err = notify.Connect(cfg.NATS.URL, cfg.NATS.Name)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer natsConn.Close()
	}
	publisher := notify.NewPublisher(natsConn)

	// Sysmon event store with optional Redis aggregation cache
	osStore, err := events.NewOpenSearchStore(
		cfg.Events.URL, cfg.Events.Username, cfg.Events.Password,
		cfg.Events.Insecure, cfg.Events.IndexPrefix)
	if err != nil {
		log.Fatalf("Failed to create OpenSearch client: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}
	eventStore := events.NewCachedStore(osStore, redisClient, cfg.Events.CacheTTL, cfg.Redis.Enabled)

	// Services
	queue := deploy.NewQueue()
	deploySvc := deploy.NewService(repo, queue, publisher, logger)
	agentSvc := agentapi.NewService(repo, cfg.Agent, publisher, logger)
	analyzer := noise.NewAnalyzer(repo, eventStore, noise.MustDefaultFieldTable(), logger)
	configSvc := sysmonconfig.NewService(repo, noise.MustDefaultFieldTable(), cfg.BinaryCache.Timeout, logger)

	// Capability providers. Directory enumeration, remote execution and
	// file transfer are deployment-specific transports plugged in here;
	// absent ones surface as per-host capability failures.
	binaryCache := remote.NewLocalBinaryCache(
		cfg.BinaryCache.Dir, cfg.BinaryCache.DownloadURL, cfg.BinaryCache.Timeout)
	providers := deploy.Providers{BinaryCache: binaryCache}

	// Deployment worker and schedule poller
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	worker := deploy.NewWorker(repo, queue, providers, publisher,
		cfg.Deploy.Parallelism, cfg.Deploy.ExecTimeout, logger)
	go worker.Run(workerCtx)

	scheduler := deploy.NewScheduler(repo, deploySvc, cfg.Deploy.SchedulerInterval)
	scheduler.Start()
	defer scheduler.Stop()

	// Operator API auth
	var validator auth.Validator
	switch {
	case cfg.Auth.URL != "":
		validator = auth.NewClient(cfg.Auth.URL)
	case cfg.Auth.JWTSecret != "":
		validator = auth.NewLocalValidator(cfg.Auth.JWTSecret)
	}
	authmw := auth.NewMiddleware(validator, cfg.Auth.Enabled && validator != nil)

	handler := handlers.NewHandler(deploySvc, agentSvc, analyzer, configSvc, repo, providers.Directory, logger)
	router := server.NewRouter(handler, authmw)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Sysmonfleet service listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	stopWorker()

	log.Println("Server stopped gracefully")
}
