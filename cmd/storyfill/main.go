// Command storyfill runs the StoryFill game server: it loads
// configuration, wires the room store, event bus, rate limiter,
// template catalogue and narration facade together, registers the HTTP
// command surface and WebSocket hub, and serves until an interrupt
// triggers a graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"storyfill/internal/api"
	"storyfill/internal/bus"
	"storyfill/internal/config"
	"storyfill/internal/health"
	"storyfill/internal/hub"
	"storyfill/internal/logging"
	"storyfill/internal/middleware"
	"storyfill/internal/moderation"
	"storyfill/internal/narration"
	"storyfill/internal/ratelimit"
	"storyfill/internal/room"
	"storyfill/internal/templates"
	"storyfill/internal/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	ctx := context.Background()
	logging.Info(ctx, "starting storyfill", zap.String("go_env", cfg.GoEnv), zap.String("port", cfg.Port))

	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "storyfill", cfg.OtelCollectorAddr)
		if err != nil {
			logging.Error(ctx, "tracing disabled: failed to initialize", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	var redisClient *redis.Client
	var eventBus *bus.Bus
	if cfg.RedisEnabled {
		eventBus, err = bus.NewWithRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Error(ctx, "failed to connect event bus to redis, falling back to in-process only", zap.Error(err))
			eventBus = bus.New()
		} else {
			redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		}
	} else {
		eventBus = bus.New()
	}
	defer eventBus.Close()

	limiter, err := ratelimit.New(ratelimit.Config{
		CreateRoom:   cfg.RateLimitIPCreateRoom,
		JoinRoom:     cfg.RateLimitIPJoinRoom,
		SubmitBurst:  cfg.RateLimitSubmitBurst,
		SubmitWindow: cfg.RateLimitSubmitWindow,
	}, redisClient)
	if err != nil {
		logging.Error(ctx, "failed to initialize rate limiter", zap.Error(err))
		os.Exit(1)
	}

	catalogue, err := templates.LoadFromFile(cfg.TemplatesFile)
	if err != nil {
		logging.Error(ctx, "failed to load template catalogue", zap.Error(err))
		os.Exit(1)
	}

	moderationChecker := moderation.Default()

	narrationBaseURL := os.Getenv("NARRATION_PROVIDER_URL")
	var narrationProvider narration.Provider
	var narrationPinger health.Pinger
	if narrationBaseURL != "" {
		p := narration.NewHTTPProvider(narrationBaseURL)
		narrationProvider = p
		narrationPinger = p
	} else {
		narrationProvider = noopNarrationProvider{}
	}
	narrationFacade := narration.New(narrationProvider)

	roomCfg := room.Config{
		MinPlayersToStart: cfg.MinPlayersToStart,
		MaxPlayersPerRoom: cfg.MaxPlayersPerRoom,
		PromptsPerPlayer:  cfg.PromptsPerPlayer,
		ShareTTL:          cfg.ShareTTL,
	}
	store := room.NewStore(eventBus, cfg.RoomTTL, cfg.DisconnectGrace)
	defer store.Stop()

	publicBase := os.Getenv("PUBLIC_BASE_URL")
	if publicBase == "" {
		publicBase = "http://localhost:3000"
	}

	apiServer := api.NewServer(store, catalogue, limiter, narrationFacade, moderationChecker, api.Config{
		RoomConfig: roomCfg,
		PublicBase: publicBase,
	})
	wsHub := hub.New(store, cfg.AllowedOrigins, cfg.DisconnectGrace, cfg.SocketIdleTimeout)
	healthHandler := health.NewHandler(eventBus, narrationPinger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("storyfill"))
	router.Use(middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = cfg.AllowedOrigins
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsCfg))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	v1 := router.Group("/v1")
	apiServer.RegisterRoutes(v1)
	v1.GET("/ws", wsHub.ServeWs)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "http server failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown", zap.Error(err))
	}
	logging.Info(ctx, "server exited")
}

// noopNarrationProvider declines every narration request, used when no
// NARRATION_PROVIDER_URL is configured so the feature degrades to
// "blocked" rather than the server failing to start.
type noopNarrationProvider struct{}

var errNarrationUnconfigured = fmt.Errorf("%w: no provider configured", narration.ErrBlocked)

func (noopNarrationProvider) Synthesize(ctx context.Context, fingerprint, text string) (string, error) {
	return "", errNarrationUnconfigured
}
