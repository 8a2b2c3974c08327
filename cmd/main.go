/**
 * @description
 * This is the main entry point for the payment oracle service. It is
 * responsible for initializing all components: configuration, database
 * connection, the source-chain verifier, the target-chain client, the
 * repository, the core application service, and the HTTP server. It wires
 * everything together, starts the background watcher and expiry sweeper, and
 * runs until interrupted.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Rate-limit backing store.
 * - github.com/gagliardetto/solana-go: Source-chain key types.
 * - github.com/centrifuge/go-substrate-rpc-client/v4/signature: Target-chain signing key.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/solanaclient, pkg/substrateclient: Chain clients.
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

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/paybridge/oracle-service/internal/api"
	"github.com/paybridge/oracle-service/internal/app"
	"github.com/paybridge/oracle-service/internal/config"
	"github.com/paybridge/oracle-service/internal/store"
	"github.com/paybridge/oracle-service/pkg/solanaclient"
	"github.com/paybridge/oracle-service/pkg/substrateclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"invalid configuration\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting oracle-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	repository := store.NewPostgresRepository(dbpool)
	if err := store.EnsureSchema(context.Background(), dbpool); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
	}

	// Optional Redis connection for distributed rate limiting.
	var limiter *app.RedisRateLimiter
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Source-chain verifier.
	mint, err := solana.PublicKeyFromBase58(cfg.TokenMint)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"invalid token mint\" err=%v", err)
	}
	receiver, err := solana.PublicKeyFromBase58(cfg.ReceiverTokenAccount)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"invalid receiver token account\" err=%v", err)
	}
	verifier := solanaclient.New(solanaclient.Config{
		RPCURL:           cfg.SolanaRPCURL,
		WSURL:            cfg.SolanaWSURL,
		TokenMint:        mint,
		ReceiverAccount:  receiver,
		MinConfirmations: cfg.MinConfirmations,
	})

	// Target-chain client.
	signer, err := signature.KeyringPairFromSecret(cfg.SubstrateSeed, 42)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"invalid substrate seed\" err=%v", err)
	}
	selectors, err := loadSelectors(cfg)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"invalid contract selectors\" err=%v", err)
	}
	connManager := substrateclient.NewConnManager(cfg.SubstrateEndpointList(), cfg.ConnTimeout(), cfg.ConnCooldown())
	targetClient, err := substrateclient.NewClient(connManager, substrateclient.Config{
		Signer:          signer,
		ContractAddress: cfg.ContractAddress,
		Selectors:       selectors,
		GasRefTime:      cfg.GasRefTime,
		GasProofSize:    cfg.GasProofSize,
	})
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"target chain client init failed\" err=%v", err)
	}

	// Core application service and API handlers.
	oracleService := app.NewService(repository, verifier, targetClient, verifier.ReceiverAccount(), cfg.PaymentTTL())
	paymentHandlers := api.NewPaymentHandlers(oracleService)

	router := api.PaymentRoutes(paymentHandlers, limiter, api.RouterConfig{
		APIKey:          cfg.APIKey,
		RateLimit:       cfg.RateLimitPerWindow,
		RateLimitWindow: cfg.RateLimitWindow(),
	})

	// Background workers share one cancellation scope with the server.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	watcher := app.NewWatcher(verifier, verifier, targetClient, cfg.WatcherFetchAttempts, cfg.WatcherFetchDelay())
	go func() {
		if err := watcher.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Printf("level=error component=watcher msg=\"watcher stopped\" err=%v", err)
		}
	}()
	go app.RunExpirySweeper(workerCtx, repository, cfg.SweepInterval())

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

	cancelWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

func loadSelectors(cfg config.Config) (substrateclient.Selectors, error) {
	var sels substrateclient.Selectors
	var err error
	if sels.IsProcessed, err = substrateclient.ParseSelector(cfg.SelectorIsProcessed); err != nil {
		return sels, err
	}
	if sels.ConfirmPayment, err = substrateclient.ParseSelector(cfg.SelectorConfirmPayment); err != nil {
		return sels, err
	}
	if sels.CreditUnits, err = substrateclient.ParseSelector(cfg.SelectorCreditUnits); err != nil {
		return sels, err
	}
	return sels, nil
}
