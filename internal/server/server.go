package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"shopfront/internal/auth"
	"shopfront/internal/config"
	"shopfront/internal/database"
	"shopfront/internal/events"
	"shopfront/internal/idempotency"
	"shopfront/internal/logger"
	"shopfront/internal/metrics"
	custommiddleware "shopfront/internal/middleware"
	"shopfront/internal/repository"
	"shopfront/internal/service"
	"shopfront/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	*http.Server
	config  *config.Config
	logger  *zap.Logger
	db      database.Service
	redis   redis.UniversalClient
	users   service.UserService
	hub     *events.Hub
	relay   *events.Relay
	kafka   *events.KafkaPublisher
	metrics *metrics.Metrics

	stopRelay context.CancelFunc
	relayDone sync.WaitGroup
}

func NewServer(cfg *config.Config, log *zap.Logger, db database.Service, rdb redis.UniversalClient) *Server {
	sqlDB := db.DB()
	m := metrics.New()

	// Create router
	router := chi.NewRouter()

	// Add basic middleware
	for _, mw := range custommiddleware.DefaultMiddlewareStack() {
		router.Use(mw)
	}
	router.Use(custommiddleware.CORSMiddleware(cfg.Server.AllowedOrigins, cfg.Server.IsDevelopment()))
	router.Use(custommiddleware.LoggingMiddleware(logger.Component(log, "http")))
	router.Use(m.Middleware)
	router.Use(custommiddleware.ErrorHandlingMiddleware(log))

	// Initialize repositories
	userRepo := repository.NewUserRepository(sqlDB)
	refreshTokenRepo := repository.NewRefreshTokenRepository(sqlDB)
	productRepo := repository.NewProductRepository(sqlDB)
	cartRepo := repository.NewCartRepository(sqlDB)
	outboxRepo := repository.NewOutboxRepository(sqlDB)
	orderRepos := service.OrderRepositories{
		Carts:    cartRepo,
		Products: productRepo,
		Orders:   repository.NewOrderRepository(sqlDB),
		History:  repository.NewHistoryRepository(sqlDB),
		Outbox:   outboxRepo,
	}

	tx := database.NewTxRunner(sqlDB, cfg.Database.TxMaxRetries, logger.Component(log, "tx"))
	tokens := auth.NewTokenManager(cfg.JWT)

	// Initialize services
	userService := service.NewUserService(userRepo, refreshTokenRepo, tokens, logger.Component(log, "users"))
	catalogService := service.NewCatalogService(productRepo, logger.Component(log, "catalog"))
	cartService := service.NewCartService(cartRepo, productRepo, logger.Component(log, "cart"))
	orderService := service.NewOrderService(tx, orderRepos, cfg.Kafka.Topic, m, logger.Component(log, "orders"))
	adminService := service.NewAdminService(tx, userRepo, refreshTokenRepo, orderRepos, cfg.Kafka.Topic, m, logger.Component(log, "admin"))

	// Event delivery: every outbox row goes to Kafka (when configured) and then the admin feed
	hub := events.NewHub(cfg.Server.AllowedOrigins, logger.Component(log, "hub"))
	publishers := []events.Publisher{}
	var kafkaPublisher *events.KafkaPublisher
	if cfg.Kafka.Enabled() {
		kafkaPublisher = events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka))
		publishers = append(publishers, kafkaPublisher)
	}
	publishers = append(publishers, hub)
	relay := events.NewRelay(tx, outboxRepo, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, m, logger.Component(log, "relay"), publishers...)

	// Initialize handlers
	var idem transport.IdempotencyStore
	if rdb != nil {
		idem = idempotency.NewStore(rdb, idempotency.DefaultTTL)
	}
	authHandler := transport.NewAuthHandler(userService, log)
	productHandler := transport.NewProductHandler(catalogService, log)
	cartHandler := transport.NewCartHandler(cartService, log)
	orderHandler := transport.NewOrderHandler(orderService, idem, log)
	adminHandler := transport.NewAdminHandler(adminService, catalogService, hub, log)

	// Create auth middleware
	authMiddleware := custommiddleware.AuthMiddleware(tokens, log)
	adminMiddleware := custommiddleware.RequireAdmin(log)

	s := &Server{
		config:  cfg,
		logger:  log,
		db:      db,
		redis:   rdb,
		users:   userService,
		hub:     hub,
		relay:   relay,
		kafka:   kafkaPublisher,
		metrics: m,
	}

	// Operational endpoints
	router.Get("/health", s.health)
	router.Handle("/metrics", m.Handler())

	// Register routes
	router.Group(func(r chi.Router) {
		if rdb != nil {
			r.Use(custommiddleware.RateLimitMiddleware(rdb, custommiddleware.RateLimitConfig{
				RequestsPerWindow: cfg.RateLimit.Requests,
				Window:            time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
				KeyPrefix:         "ratelimit",
			}, log))
		}
		authHandler.RegisterRoutes(r, authMiddleware)
		productHandler.RegisterRoutes(r)
		cartHandler.RegisterRoutes(r, authMiddleware)
		orderHandler.RegisterRoutes(r, authMiddleware)
		adminHandler.RegisterRoutes(r, authMiddleware, adminMiddleware)
	})

	s.Server = &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Bootstrap seeds the configured administrator, if any
func (s *Server) Bootstrap(ctx context.Context) error {
	admin := s.config.Admin
	if admin.Email == "" || admin.Password == "" {
		return nil
	}
	if err := s.users.EnsureAdmin(ctx, admin.Email, admin.Password); err != nil {
		return fmt.Errorf("failed to bootstrap admin: %w", err)
	}
	s.logger.Info("Bootstrap admin ensured", zap.String("email", admin.Email))
	return nil
}

// StartRelay runs the outbox relay until Close is called
func (s *Server) StartRelay() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopRelay = cancel
	s.relayDone.Add(1)
	go func() {
		defer s.relayDone.Done()
		s.relay.Run(ctx)
	}()
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{"status": "ok"}

	dbHealth := s.db.Health()
	body["database"] = dbHealth
	if dbHealth["status"] != "up" {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}

	if version, err := database.MigrationVersion(s.db.DB()); err == nil {
		body["migration_version"] = version
	}

	if s.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx).Err(); err != nil {
			body["redis"] = "down"
			body["status"] = "degraded"
		} else {
			body["redis"] = "up"
		}
	}

	body["feed_clients"] = s.hub.Clients()
	custommiddleware.RespondWithJSON(w, status, body)
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	// Drain the relay before tearing down what it writes to
	if s.stopRelay != nil {
		s.stopRelay()
		s.relayDone.Wait()
	}

	s.hub.Close()

	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.logger.Error("Failed to close kafka writer", zap.Error(err))
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Failed to close redis client", zap.Error(err))
		}
	}

	// Close database connection
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	s.logger.Sync()
	return nil
}
