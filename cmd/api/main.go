package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/estatia/backend/internal/admin"
	"github.com/estatia/backend/internal/config"
	"github.com/estatia/backend/internal/database"
	"github.com/estatia/backend/internal/events"
	"github.com/estatia/backend/internal/gate"
	"github.com/estatia/backend/internal/handlers"
	"github.com/estatia/backend/internal/invoker"
	"github.com/estatia/backend/internal/metrics"
	"github.com/estatia/backend/internal/middleware"
	"github.com/estatia/backend/internal/registry"
	"github.com/estatia/backend/internal/usagelog"
	"github.com/estatia/backend/internal/wallet"
	ws "github.com/estatia/backend/internal/websocket"
)

func main() {
	// .env is optional; real deployments set env vars directly
	_ = godotenv.Load()

	cfg := loadConfig()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}

	// ---------- Persistence ----------
	// Backends in preference order: Supabase (production), Postgres
	// (self-hosted), memory (local development). The Supabase client covers
	// wallets, the tool catalog, the usage log and transactions in one go.
	var (
		walletStore  wallet.Store
		registryStore registry.Store
		usageSink    usagelog.Sink
		txStore      invoker.TransactionStore
		usageReader  admin.UsageReader
		executor     invoker.RemoteExecutor
		supaStatus   = "not configured"
	)

	if os.Getenv("SUPABASE_URL") != "" {
		sc, err := database.NewSupabaseClient()
		if err != nil {
			log.Fatalf("Failed to initialize Supabase client: %v", err)
		}
		walletStore = sc
		registryStore = sc
		usageSink = sc
		txStore = sc
		usageReader = sc
		executor = database.NewEdgeFunctionExecutor(sc)
		supaStatus = "connected"
		log.Println("[API] Storage backend: Supabase")
	} else if dsn := os.Getenv("WALLET_DATABASE_URL"); dsn != "" {
		pg, err := wallet.NewPostgresStore(dsn)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		walletStore = pg
		log.Println("[API] Storage backend: Postgres (wallets) + memory (catalog, usage)")
	}

	if walletStore == nil {
		walletStore = wallet.NewMemoryStore()
		log.Println("[API] ⚠️ Storage backend: in-memory (data lost on restart)")
	}
	if usageSink == nil {
		sink := usagelog.NewMemorySink()
		usageSink = sink
		usageReader = sink
	}
	if txStore == nil {
		txStore = invoker.NewMemoryTransactionStore()
	}
	if executor == nil {
		executor = &invoker.StubExecutor{
			Output: json.RawMessage(`{"status":"stub","note":"no remote executor configured"}`),
		}
		log.Println("[API] ⚠️ No remote executor configured, using stub")
	}
	// Per-tool circuit breakers so a failing backend stops costing
	// debit/refund churn.
	breakered := invoker.NewBreakerExecutor(executor, nil)
	executor = breakered

	// ---------- Daily usage counters ----------
	var counter gate.UsageCounter
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		counter = gate.NewRedisCounter(&redisAdapter{client: redisClient}, cfg.Redis.KeyPrefix)
		log.Printf("[API] Daily limits backed by Redis at %s", cfg.Redis.Addr)
	} else {
		counter = gate.NewMemoryCounter()
	}

	// ---------- Events ----------
	var bus events.EventEmitter
	var localBus *events.EventBus
	var pubsubBus *events.PubSubEventBus
	if cfg.Events.PubSubProject != "" {
		pb, err := events.NewPubSubEventBus(cfg.Events.PubSubProject, cfg.Events.PubSubTopic)
		if err != nil {
			log.Fatalf("Failed to initialize Pub/Sub event bus: %v", err)
		}
		pubsubBus = pb
		bus = pb
		localBus = pb.EventBus
	} else {
		localBus = events.NewEventBus()
		bus = localBus
	}

	// ---------- Core services ----------
	m := metrics.New()

	reg := registry.NewToolRegistry(registryStore)
	wallets := wallet.NewWalletStore(walletStore, cfg.Wallet.DefaultBalance)
	creditGate := gate.NewCreditGate(reg, wallets, counter)
	usageLogger := usagelog.NewLogger(usageSink, cfg.Invoker.UsageLogBuffer)

	toolInvoker := invoker.NewToolInvoker(invoker.Config{
		Gate:     creditGate,
		Wallets:  wallets,
		TxStore:  txStore,
		Usage:    usageLogger,
		Executor: executor,
		Counter:  counter,
		Bus:      bus,
		Metrics:  m,
		Timeout:  time.Duration(cfg.Invoker.RemoteTimeoutSeconds) * time.Second,
	})

	controlSurface := admin.NewControlSurface(reg, wallets, usageReader, bus)
	controlSurface.Alerts().SetDenialRateRule(cfg.Alerting.DenialRateThreshold, cfg.Alerting.MinAttempts)

	alertCtx, stopAlerts := context.WithCancel(context.Background())
	defer stopAlerts()
	go controlSurface.RunAlertLoop(alertCtx, time.Duration(cfg.Alerting.EvalIntervalSeconds)*time.Second)

	alertStream := ws.NewAlertStream(localBus)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		MaxCallsPerMinute: cfg.Limits.MaxCallsPerMinute,
		BurstSize:         cfg.Limits.BurstSize,
	})

	// ---------- Routes ----------
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "healthy",
			"service":  "estatia-ai-tools",
			"tools":    reg.Count(),
			"supabase": supaStatus,
			"breakers": breakered.States(),
		})
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/ws/alerts", alertStream.HandleWebSocket)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.UserMiddleware)
	api.Use(rateLimiter.Middleware)

	api.HandleFunc("/tools", handlers.HandleListTools(reg)).Methods("GET")
	api.HandleFunc("/tools/{toolName}/invoke", handlers.HandleInvokeTool(toolInvoker)).Methods("POST")
	api.HandleFunc("/tools/{toolName}/access", handlers.HandleCheckAccess(toolInvoker)).Methods("GET")
	api.HandleFunc("/wallet", handlers.HandleGetWallet(wallets)).Methods("GET")
	api.HandleFunc("/wallet/topup", handlers.HandleTopUpWallet(wallets, bus)).Methods("POST")

	adminAPI := router.PathPrefix("/api/v1/admin").Subrouter()
	if hashes := os.Getenv("ADMIN_KEY_HASHES"); hashes != "" {
		adminAuth := middleware.NewAdminAuth(strings.Split(hashes, ","))
		adminAPI.Use(adminAuth.Middleware)
	} else {
		log.Println("[API] ⚠️ ADMIN_KEY_HASHES not set, admin endpoints are open")
	}
	adminAPI.HandleFunc("/tools/{toolName}/enabled", handlers.HandleSetToolEnabled(controlSurface)).Methods("PUT")
	adminAPI.HandleFunc("/tools/{toolName}/cost", handlers.HandleSetToolCost(controlSurface)).Methods("PUT")
	adminAPI.HandleFunc("/tools/{toolName}/daily-limit", handlers.HandleSetToolDailyLimit(controlSurface)).Methods("PUT")
	adminAPI.HandleFunc("/wallets/{userID}/suspend", handlers.HandleSuspendWallet(controlSurface)).Methods("POST")
	adminAPI.HandleFunc("/wallets/{userID}/reactivate", handlers.HandleReactivateWallet(controlSurface)).Methods("POST")
	adminAPI.HandleFunc("/usage/{toolName}", handlers.HandleUsageSummary(controlSurface)).Methods("GET")
	adminAPI.HandleFunc("/alerts", handlers.HandleListAlerts(controlSurface)).Methods("GET")
	adminAPI.HandleFunc("/alerts/{alertID}/ack", handlers.HandleAcknowledgeAlert(controlSurface)).Methods("POST")

	router.Use(corsMiddleware)
	router.Use(loggingMiddleware)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // tool invocations can run long
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown (Cloud Run sends SIGTERM)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}

		stopAlerts()
		usageLogger.Close()
		if pubsubBus != nil {
			pubsubBus.Close()
		}
		if redisClient != nil {
			redisClient.Close()
		}
	}()

	log.Printf("🚀 Estatia AI tools API starting on port %s", port)
	log.Printf("📊 Health check: http://localhost:%s/health", port)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	log.Println("Server stopped")
}

func loadConfig() *config.Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Printf("[API] Config file %s not loaded (%v), using defaults", path, err)
		return config.Default()
	}
	return cfg
}

// redisAdapter bridges go-redis to the narrow client interface the gate's
// daily counter needs.
type redisAdapter struct {
	client *redis.Client
}

func (a *redisAdapter) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := a.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (a *redisAdapter) GetInt(ctx context.Context, key string) (int64, error) {
	n, err := a.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Middleware

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		// Cloud Run compatible JSON log line
		log.Printf(`{"method":"%s","path":"%s","duration_ms":%d}`,
			r.Method,
			r.URL.Path,
			time.Since(start).Milliseconds(),
		)
	})
}
