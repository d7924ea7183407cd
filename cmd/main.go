/**
 * @description
 * This is the main entry point for the finance service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, message brokers, the agent's LLM client, repositories, the core
 * application service, the background scheduler, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/llmclient: Client for OpenAI-compatible chat APIs.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wittybot-avi/aayatana-fin-mgr/internal/api"
	"github.com/wittybot-avi/aayatana-fin-mgr/internal/app"
	"github.com/wittybot-avi/aayatana-fin-mgr/internal/config"
	"github.com/wittybot-avi/aayatana-fin-mgr/internal/store"
	"github.com/wittybot-avi/aayatana-fin-mgr/pkg/llmclient"
	rmrabbit "github.com/wittybot-avi/aayatana-fin-mgr/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting finance service\" port=%s", cfg.ServerPort)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"timezone load failed; using UTC\" tz=%q err=%v", cfg.Timezone, err)
		loc = time.UTC
	}

	// Pick the data access layer. A configured DATABASE_URL selects Postgres;
	// without one the service runs on the seeded in-memory store, which is
	// enough for a single-office deployment and for local development.
	var repository store.Repository
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
		}
		poolConfig.MaxConns = 20
		poolConfig.MinConns = 2
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute

		// Disable prepared statement caching to prevent conflicts
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
		}
		defer dbpool.Close()
		log.Println("level=info component=bootstrap msg=\"database connected\"")
		repository = store.NewPostgresRepository(dbpool, cfg.RootAdminUsername)
	} else {
		seeded, err := store.NewSeededMemoryRepository(cfg.RootAdminUsername)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"memory store seed failed\" err=%v", err)
		}
		log.Println("level=warn component=bootstrap msg=\"no database url; using seeded in-memory store\"")
		repository = seeded
	}

	// Initialize the RabbitMQ producer to publish events.
	// This service only needs to publish, so we use a producer.
	var events rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		events = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		events = rabbitProducer
	}

	var redisClient *redis.Client
	if cfg.AgentRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; agent rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; agent rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; agent rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the core application service with its dependencies.
	financeService := app.NewService(repository, events, loc)
	financeService.SetEventExchange(cfg.EventExchange)
	if redisClient != nil {
		financeService.SetAgentRateLimiter(
			app.NewRedisAgentRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.AgentRateLimitPerMinute,
		)
	}

	// A configured API key upgrades the agent from keyword matching to the
	// model-backed classifier.
	if strings.TrimSpace(cfg.LLMAPIKey) != "" {
		llm := llmclient.NewClient(cfg.LLMAPIBaseURL, cfg.LLMAPIKey, cfg.LLMModel, time.Duration(cfg.LLMTimeoutSeconds)*time.Second)
		financeService.SetIntentClassifier(app.NewLLMClassifier(llm))
		log.Printf("level=info component=bootstrap msg=\"llm classifier enabled\" model=%s", cfg.LLMModel)
	} else {
		log.Println("level=info component=bootstrap msg=\"no llm api key; using keyword classifier\"")
	}

	// Start the grant bookkeeping scheduler.
	jobs := app.NewJobs(repository, events, loc)
	jobs.SetEventExchange(cfg.EventExchange)
	scheduler := app.NewScheduler(jobs, cfg.GrantReconcileSchedule, cfg.GrantDeadlineSchedule)
	scheduler.Start()

	// Initialize the API handlers and router.
	financeHandlers := api.NewFinanceHandlers(financeService, cfg.JWTSecret, time.Duration(cfg.TokenTTLHours)*time.Hour)
	router := api.FinanceRoutes(financeHandlers, cfg.JWTSecret)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	<-scheduler.Stop().Done()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
