package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rrens/codeshare/internal/access"
	"github.com/Rrens/codeshare/internal/api"
	"github.com/Rrens/codeshare/internal/assist"
	"github.com/Rrens/codeshare/internal/collab"
	"github.com/Rrens/codeshare/internal/config"
	"github.com/Rrens/codeshare/internal/domain"
	"github.com/Rrens/codeshare/internal/repository/mongo"
	"github.com/Rrens/codeshare/internal/repository/postgres"
	"github.com/Rrens/codeshare/internal/repository/redis"
	"github.com/Rrens/codeshare/internal/repository/sqlstore"
	"github.com/Rrens/codeshare/internal/security"
	"github.com/Rrens/codeshare/internal/service"
	"github.com/Rrens/codeshare/internal/ws"
	"github.com/joho/godotenv"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// store is the persistence backend picked by store.driver
type store struct {
	workspaces domain.WorkspaceRepository
	users      domain.UserRepository
	close      func()
}

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	closeLogs := setupLogger(cfg.Logging)
	defer closeLogs()

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("store", cfg.Store.Driver).
		Msg("Starting codeshare server")

	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Failed to open workspace store")
	}
	defer st.close()

	// Initialize Redis
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	grants := redis.NewGrantStore(redisClient)
	presence := redis.NewPresence(redisClient)
	rateLimiter := redis.NewRateLimiter(
		redisClient,
		cfg.Security.RateLimit.RequestsPerMinute,
		cfg.Security.RateLimit.Burst,
	)

	jwtManager := security.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)
	gate := access.NewGate(grants, cfg.Share.GrantTTL)

	// Collaboration core
	locks := collab.NewKeyLock()
	registry := collab.NewRegistry(collab.RegistryConfig{
		Store:    st.workspaces,
		Gate:     gate,
		Locks:    locks,
		Presence: presence,
	})
	controller := collab.NewVersionController(registry, collab.ControllerConfig{
		Store:          st.workspaces,
		Gate:           gate,
		Policy:         collab.LastWriterWins{},
		PersistTimeout: cfg.Collab.PersistTimeout,
		HistoryLimit:   cfg.Collab.HistoryLimit,
	})
	socket := ws.NewHandler(jwtManager, registry, controller, cfg.WebSocket)

	// Services
	authService := service.NewAuthService(st.users, jwtManager)
	workspaceService := service.NewWorkspaceService(service.WorkspaceServiceConfig{
		Workspaces: st.workspaces,
		Users:      st.users,
		Gate:       gate,
		Rooms:      registry,
		Grants:     grants,
		Presence:   presence,
	})

	var analyzer assist.Analyzer
	if cfg.Assist.Gemini.APIKey != "" {
		gemini := assist.NewGemini(cfg.Assist.Gemini)
		log.Info().Str("model", gemini.Model()).Msg("Registering Gemini code assistant")
		analyzer = gemini
	} else {
		log.Warn().Msg("Gemini API key is empty, code assistant disabled")
	}

	router := api.NewRouter(api.Deps{
		AuthService:      authService,
		WorkspaceService: workspaceService,
		Verifier:         jwtManager,
		Limiter:          rateLimiter,
		Analyzer:         analyzer,
		Store:            st.workspaces,
		Registry:         registry,
		Socket:           socket,
		RequestTimeout:   cfg.Server.MiddlewareTimeout,
		AllowedOrigins:   cfg.WebSocket.AllowedOrigins,
	})

	// Create HTTP server. Sockets reset their own deadlines after the upgrade.
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown does not wait for hijacked connections, so close sockets first
	if err := socket.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Socket connections did not drain")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Database.AutoMigrate {
			if err := postgres.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsPath); err != nil {
				return nil, err
			}
		}
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return &store{
			workspaces: postgres.NewWorkspaceRepository(db),
			users:      postgres.NewUserRepository(db),
			close:      db.Close,
		}, nil

	case "mongo":
		db, err := mongo.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		return &store{
			workspaces: mongo.NewWorkspaceRepository(db),
			users:      mongo.NewUserRepository(db),
			close:      func() { _ = db.Close() },
		}, nil

	case "sqlite", "mysql":
		db, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.Store.Driver), cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		return &store{
			workspaces: sqlstore.NewWorkspaceRepository(db),
			users:      sqlstore.NewUserRepository(db),
			close:      func() { _ = db.Close() },
		}, nil
	}

	return nil, fmt.Errorf("unsupported store driver: %q", cfg.Store.Driver)
}

func setupLogger(cfg config.LoggingConfig) (closer func()) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = os.Stderr
	if os.Getenv("ENV") != "production" || cfg.Format == "console" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	if cfg.File == "" {
		log.Logger = log.Output(console)
		return func() {}
	}

	rotated, err := rotatelogs.New(
		cfg.File+".%Y%m%d",
		rotatelogs.WithLinkName(cfg.File),
		rotatelogs.WithMaxAge(cfg.MaxAge),
		rotatelogs.WithRotationTime(cfg.RotationTime),
	)
	if err != nil {
		log.Logger = log.Output(console)
		log.Error().Err(err).Str("file", cfg.File).Msg("Failed to open log file, logging to stderr only")
		return func() {}
	}

	log.Logger = log.Output(zerolog.MultiLevelWriter(console, rotated))
	return func() { _ = rotated.Close() }
}
