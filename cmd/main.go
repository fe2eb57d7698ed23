/**
 * @description
 * This is the main entry point for the ledger-service. It initializes every
 * component — configuration, the PostgreSQL pool, the RabbitMQ producer and
 * consumer, the optional Redis idempotency guard, the repository, the policy
 * engine, and the core service — wires them together, and runs until
 * signalled to stop.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/app, internal/config, internal/domain, internal/policy,
 *   internal/store: Internal packages for the service.
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

	"github.com/chamahub/ledger-service/internal/app"
	"github.com/chamahub/ledger-service/internal/config"
	"github.com/chamahub/ledger-service/internal/domain"
	"github.com/chamahub/ledger-service/internal/policy"
	"github.com/chamahub/ledger-service/internal/store"
	rmrabbit "github.com/chamahub/ledger-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind pgbouncer.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for domain events. Publishing is
	// fire-and-forget, so an unreachable broker degrades to the fallback.
	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Optional Redis client for the gateway idempotency guard. The database's
	// unique external-reference index is the correctness backstop, so a
	// missing or unreachable Redis only loses the cheap duplicate drop.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; gateway idempotency guard disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; gateway idempotency guard disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; gateway idempotency guard disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Resolve the archetype policies with config overrides applied once.
	policyEngine := policy.NewEngine()
	overrides := []policy.Override{
		{
			Archetype:          domain.ArchetypeChama,
			MaxLoanMultiplier:  cfg.ChamaMaxLoanMultiplier,
			GuarantorsRequired: cfg.ChamaGuarantorsRequired,
			AnnualInterestRate: cfg.ChamaAnnualInterestRate,
		},
		{
			Archetype:          domain.ArchetypeSacco,
			MaxLoanMultiplier:  cfg.SaccoMaxLoanMultiplier,
			GuarantorsRequired: cfg.SaccoGuarantorsRequired,
			AnnualInterestRate: cfg.SaccoAnnualInterestRate,
		},
		{
			Archetype:          domain.ArchetypeTableBanking,
			AnnualInterestRate: cfg.TableBankingAnnualRate,
		},
		{
			Archetype:          domain.ArchetypeInvestmentClub,
			MaxLoanMultiplier:  cfg.InvestmentClubMaxLoanMultiple,
			AnnualInterestRate: cfg.InvestmentClubAnnualRate,
		},
	}
	if err := policyEngine.ApplyOverrides(overrides); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"policy overrides failed\" err=%v", err)
	}

	loanSettings := domain.LoanSettings{
		ProcessingFeePercent: cfg.ProcessingFeePercent,
		LateFeePercent:       cfg.LateFeePercent,
		MinTermMonths:        cfg.MinLoanTermMonths,
		MaxTermMonths:        cfg.MaxLoanTermMonths,
	}

	// Initialize the core ledger service with its dependencies.
	ledgerService := app.NewService(repository, policyEngine, producer, loanSettings, cfg.LedgerEventsExchange, cfg.DefaultCurrency)
	if redisClient != nil {
		ledgerService.SetIdempotencyGuard(
			app.NewRedisIdempotencyGuard(redisClient, cfg.RedisIdempotencyPref, 24*time.Hour),
		)
	}

	// Wire up the gateway confirmation consumer.
	gatewayConsumer := app.NewGatewayConfirmationConsumer(ledgerService)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	gatewayBindings := map[string]func([]byte) bool{
		"gateway.deposit.confirmed":    gatewayConsumer.HandleMessage,
		"gateway.withdrawal.confirmed": gatewayConsumer.HandleMessage,
	}

	if err := rabbitConsumer.ConsumeWithBindings(cfg.GatewayExchange, cfg.GatewayQueue, gatewayBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"gateway consumer start failed\" err=%v", err)
	}

	// Liveness and readiness endpoint.
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := dbpool.Ping(pingCtx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

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

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
