package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/aws"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/backend"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/config"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/email"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/events"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/handlers"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/idempotency"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/newsletter"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/ratelimit"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/session"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/subscriptions"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/telemetry"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/users"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/log"
	"github.com/imrishuroy/go-idempotent-newsletter/pkg/utils"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the YAML configuration file")
	pflag.Parse()

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		fatal("failed to load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration", err)
	}

	log.InitStructureLogConfig(log.Options{Level: cfg.Log.Level, AddSource: &cfg.Log.AddSource})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		fatal("failed to set up tracing", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	store, err := backend.Open(ctx, cfg)
	if err != nil {
		fatal("failed to open storage", err)
	}
	defer store.Close()

	handlerCfg, cleanup, err := buildHandlerConfig(ctx, cfg, store)
	if err != nil {
		fatal("failed to build handlers", err)
	}
	defer cleanup()

	r, err := handlers.NewRouter(handlerCfg)
	if err != nil {
		fatal("failed to build router", err)
	}

	// if RUN_LOCAL is true, run a local HTTP server for development.
	if cfg.RunLocal {
		if err := serveLocal(ctx, cfg, r, handlerCfg.RateLimiter); err != nil {
			fatal("local server failed", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.StartWithOptions(func(ctx context.Context, req lambdaevents.APIGatewayProxyRequest) (lambdaevents.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	}, lambda.WithContext(ctx))
}

func buildHandlerConfig(ctx context.Context, cfg config.Config, store *backend.Backend) (handlers.HandlerConfig, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	sender, err := buildSender(cfg, store)
	if err != nil {
		return handlers.HandlerConfig{}, cleanup, err
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.NATS.URL != "" {
		nc, err := events.ConnectNATS(ctx, events.NATSConfig{
			URL:           cfg.NATS.URL,
			Timeout:       cfg.NATS.Timeout,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Name:          cfg.Telemetry.ServiceName,
		})
		if err != nil {
			// events are best effort, the service runs without them
			slog.WarnContext(ctx, "NATS unavailable, domain events disabled", "error", err)
		} else {
			publisher = nc
			closers = append(closers, func() { _ = nc.Close() })
		}
	}

	var metrics newsletter.Metrics
	if cfg.Metrics.Enabled {
		metrics = aws.NewMetricsRecorder(store.AWS.CloudWatch, cfg.Metrics.Namespace)
	}

	sessions, closeSessions, err := buildSessionStore(ctx, cfg)
	if err != nil {
		return handlers.HandlerConfig{}, cleanup, err
	}
	closers = append(closers, closeSessions)

	userSvc := users.NewService(store.Users)
	if cfg.Admin.Username != "" && cfg.Admin.Password != "" {
		if err := userSvc.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
			return handlers.HandlerConfig{}, cleanup, err
		}
	}

	dedup := idempotency.NewDeduplicator(store.Idempotency, utils.NewRetryConfig(
		cfg.Idempotency.PollAttempts,
		cfg.Idempotency.PollBaseDelay,
		cfg.Idempotency.PollMaxDelay,
	))

	var limiter *ratelimit.Store
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewStore(cfg.RateLimit.Rate, cfg.RateLimit.Burst, ratelimit.WithIdleTTL(cfg.RateLimit.TTL))
	}

	return handlers.HandlerConfig{
		Coordinator: subscriptions.NewCoordinator(store.Subscriptions, sender, publisher, cfg.BaseURL,
			subscriptions.WithSendTimeout(cfg.Email.ConfirmationTimeout),
		),
		Publisher:    newsletter.NewPublisher(dedup, newsletter.NewFanout(store.Subscriptions, sender), metrics, publisher),
		Users:        userSvc,
		Sessions:     sessions,
		CookieName:   cfg.Session.CookieName,
		CookieSecure: cfg.Session.Secure,
		SessionTTL:   cfg.Session.TTL,
		RateLimiter:  limiter,

		TrustedProxies: cfg.TrustedProxies,
	}, cleanup, nil
}

func buildSender(cfg config.Config, store *backend.Backend) (email.Sender, error) {
	switch cfg.Email.Transport {
	case config.TransportHTTP:
		return email.NewHTTPClient(email.HTTPConfig{
			BaseURL:    cfg.Email.BaseURL,
			Sender:     cfg.Email.Sender,
			AuthToken:  cfg.Email.AuthToken,
			Timeout:    cfg.Email.Timeout,
			MaxRetries: 3,
		}), nil
	case config.TransportSQS:
		return email.NewQueueSender(aws.NewPublisher(store.AWS.SQS, cfg.Email.QueueURL)), nil
	default:
		return nil, fmt.Errorf("unknown email transport %q", cfg.Email.Transport)
	}
}

func buildSessionStore(ctx context.Context, cfg config.Config) (session.Store, func(), error) {
	if cfg.Redis.Addr == "" {
		slog.WarnContext(ctx, "redis not configured, sessions are kept in memory")
		return session.NewMemoryStore(cfg.Session.TTL), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, func() {}, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}

	return session.NewRedisStore(rdb, cfg.Session.TTL, session.WithPrefix(cfg.Session.CookieName)),
		func() { _ = rdb.Close() }, nil
}

func serveLocal(ctx context.Context, cfg config.Config, r *gin.Engine, limiter *ratelimit.Store) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           otelhttp.NewHandler(r, "newsletter-api"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.InfoContext(gctx, "running local server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("shutting down local server")
		return srv.Shutdown(shutdownCtx)
	})

	if limiter != nil {
		g.Go(func() error { return limiter.RunJanitor(gctx) })
	}

	return g.Wait()
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
