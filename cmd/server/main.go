package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	skybridge "github.com/skybridge-io/skybridge"
	apiecho "github.com/skybridge-io/skybridge/api/echo"
	"github.com/skybridge-io/skybridge/config"
	"github.com/skybridge-io/skybridge/internal/audit"
	"github.com/skybridge-io/skybridge/internal/metrics"
	"github.com/skybridge-io/skybridge/internal/provider"
	"github.com/skybridge-io/skybridge/internal/secrets"
	"github.com/skybridge-io/skybridge/internal/statetoken"
	"github.com/skybridge-io/skybridge/middleware"
	"github.com/skybridge-io/skybridge/mongodb"
	"github.com/skybridge-io/skybridge/tracing"
)

var rootCmd = &cobra.Command{
	Use:   "skybridge-server",
	Short: "skybridge-server runs the cloud-storage OAuth integration service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Server exited with error")
	}
}

//nolint:funlen
func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("mongo_db_name", cfg.MongoDBName).
		Str("otel_service", cfg.OtelServiceName).
		Msg("Starting skybridge server")

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		return err
	}

	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		return err
	}
	db := mongodb.GetDB()

	integrationRepo, err := mongodb.NewIntegrationRepositoryMongo(ctx, db)
	if err != nil {
		return err
	}
	providerRegistry, err := mongodb.NewProviderRegistryMongo(ctx, db)
	if err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	stateCodec, err := statetoken.NewCodec(
		[]byte(cfg.StateTokenSecret), time.Duration(cfg.StateTokenTTLMin)*time.Minute)
	if err != nil {
		return err
	}
	cipher, err := secrets.NewCipher([]byte(cfg.EncryptionKey))
	if err != nil {
		return err
	}

	metrics.InitCustomMetrics(prometheus.DefaultRegisterer)

	service := skybridge.NewOAuthService(
		integrationRepo, providerRegistry, stateCodec, cipher,
		audit.NewLogger(), provider.NewFactory(nil), cfg.PublicCallbackURL)

	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(cfg.OtelServiceName))
	e.Use(echomw.Recover())

	authn := middleware.NewAuthenticator([]byte(cfg.JWTSecretKey)).Middleware()
	limiter := middleware.NewRateLimiter(redisClient,
		cfg.CallbackRateLimit, time.Duration(cfg.CallbackRateWindowMin)*time.Minute)
	api := apiecho.NewIntegrationAPI(service, providerRegistry)
	api.RegisterRoutes(e, authn, middleware.RequireTenantOwner(), limiter.Middleware())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		if err := mongodb.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	// Backstop sweeper for callbacks that never arrive.
	sweeperCtx, stopSweeper := context.WithCancel(ctx)
	go runPendingSweeper(sweeperCtx, service, time.Duration(cfg.PendingSweepIntervalMin)*time.Minute)

	go func() {
		log.Info().Msgf("HTTP server listening on port %s", cfg.HTTPPort)
		if err := e.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Msgf("Received signal: %v. Shutting down server...", sig)

	stopSweeper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("TracerProvider shutdown error")
	}
	if err := redisClient.Close(); err != nil {
		log.Error().Err(err).Msg("Redis client close error")
	}
	providerRegistry.Stop()
	mongodb.CloseMongoDB(shutdownCtx)

	log.Info().Msg("Server gracefully stopped.")
	return nil
}

// runPendingSweeper periodically expires integrations stuck in PENDING.
func runPendingSweeper(ctx context.Context, service *skybridge.OAuthService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := service.ExpireStalePending(ctx); err != nil {
				log.Error().Err(err).Msg("Pending sweep failed")
			}
		}
	}
}
