/**
 * @description
 * This is the main entry point for the payout-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * gateway adapters, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/gateway: Payout network adapters.
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

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/wepaysam/payout-service/internal/api"
	"github.com/wepaysam/payout-service/internal/app"
	"github.com/wepaysam/payout-service/internal/config"
	"github.com/wepaysam/payout-service/internal/store"
	"github.com/wepaysam/payout-service/pkg/gateway"
	rmrabbit "github.com/wepaysam/payout-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payout-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Reservation holds a row lock for the duration of the debit, so keep a
	// generous pool to avoid submissions queueing on connections.
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
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

	// Initialize the RabbitMQ producer to publish lifecycle events.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Connect Redis for edge rate limiting. Redis being down degrades to
	// unlimited submissions rather than blocking boot.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; submit rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; submit rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; submit rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Build the gateway registry from configured credentials.
	gatewayTimeout := time.Duration(cfg.GatewayTimeoutSeconds) * time.Second
	registry := gateway.NewRegistry(
		gateway.NewAeronpay(gateway.AeronpayCredentials{
			BaseURL:      cfg.AeronpayBaseURL,
			ClientID:     cfg.AeronpayClientID,
			ClientSecret: cfg.AeronpayClientSecret,
		}, gatewayTimeout),
		gateway.NewSevapay(gateway.SevapayCredentials{
			BaseURL:    cfg.SevapayBaseURL,
			MerchantID: cfg.SevapayMerchantID,
			SecretKey:  cfg.SevapaySecretKey,
		}, gatewayTimeout),
		gateway.NewKatla(gateway.KatlaCredentials{
			BaseURL:  cfg.KatlaBaseURL,
			APIToken: cfg.KatlaAPIToken,
		}, gatewayTimeout),
		gateway.NewP2I(gateway.P2ICredentials{
			BaseURL:      cfg.P2IBaseURL,
			ClientID:     cfg.P2IClientID,
			ClientSecret: cfg.P2IClientSecret,
		}, gatewayTimeout),
	)
	log.Printf("level=info component=bootstrap msg=\"gateway registry ready\" gateways=%v", registry.Names())

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application services with their dependencies.
	guard := app.NewIdempotencyGuard(repository, time.Duration(cfg.PayoutCooldownSeconds)*time.Second)
	charges := app.NewChargeResolver(repository)
	payoutService := app.NewService(repository, registry, guard, charges, producer, gatewayTimeout)
	reconciler := app.NewStatusReconciler(repository, registry, producer)

	var limiter *app.RedisPayoutRateLimiter
	if redisClient != nil {
		limiter = app.NewRedisPayoutRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the API handlers.
	payoutHandlers := api.NewPayoutHandlers(payoutService, reconciler, limiter, api.RateLimitSettings{
		Limit:  cfg.SubmitRateLimitPerMinute,
		Window: time.Minute,
	})

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.PayoutRoutes(payoutHandlers, cfg.AuthJWKSURL, cfg.InternalAPIKey))

	// Wire up the consumer: bind gateway status events to the reconciler.
	gatewayConsumer := app.NewGatewayEventConsumer(reconciler)
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; gateway events limited to webhooks and polling\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		gatewayBindings := map[string]func([]byte) bool{
			"gateway.status.aeronpay": gatewayConsumer.HandleMessage,
			"gateway.status.sevapay":  gatewayConsumer.HandleMessage,
			"gateway.status.katla":    gatewayConsumer.HandleMessage,
			"gateway.status.p2i":      gatewayConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings("gateway.events", cfg.GatewayEventQueue, gatewayBindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"gateway consumer start failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"gateway event consumer started\"")
	}

	// Start the stale-PENDING sweep.
	poller := app.NewPendingPoller(repository, reconciler, cfg.PendingSweepSchedule, time.Duration(cfg.PendingStaleAfterSeconds)*time.Second)
	if err := poller.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"pending sweep start failed\" err=%v", err)
	}

	// Start the HTTP server.
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

	<-poller.Stop().Done()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
