// server runs the greenhouse authentication API over HTTP (gin) and gRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"serreconnect/backend/internal/audit"
	auditrepo "serreconnect/backend/internal/audit/repository"
	"serreconnect/backend/internal/config"
	"serreconnect/backend/internal/db"
	healthhandler "serreconnect/backend/internal/health/handler"
	identityhandler "serreconnect/backend/internal/identity/handler"
	identityrepo "serreconnect/backend/internal/identity/repository"
	identityservice "serreconnect/backend/internal/identity/service"
	"serreconnect/backend/internal/logger"
	"serreconnect/backend/internal/metrics"
	"serreconnect/backend/internal/security"
	"serreconnect/backend/internal/server"
	"serreconnect/backend/internal/server/httpapi"
	sessionrepo "serreconnect/backend/internal/session/repository"
	sessionservice "serreconnect/backend/internal/session/service"
	"serreconnect/backend/internal/telemetry"
	otelsetup "serreconnect/backend/internal/telemetry/otel"
	"serreconnect/backend/internal/telemetry/producer"
)

const (
	serviceName     = "serreconnect-auth"
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("server exited", zap.Error(err))
	}
}

// stores groups the persistence backends selected by SESSION_STORE.
type stores struct {
	identities identityrepo.Repository
	sessions   sessionrepo.Repository
	audit      *auditrepo.PostgresRepository
	pingers    map[string]healthhandler.Pinger
	close      func()
}

func openStores(ctx context.Context, cfg *config.Config, zl *zap.Logger) (*stores, error) {
	if cfg.SessionStore == config.SessionStoreMemory {
		zl.Warn("using in-memory stores; sessions and identities are lost on restart")
		sessions := sessionrepo.NewMemoryRepository()
		return &stores{
			identities: identityrepo.NewMemoryRepository(),
			sessions:   sessions,
			pingers:    map[string]healthhandler.Pinger{"sessions": sessions},
			close:      func() {},
		}, nil
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	s := &stores{
		identities: identityrepo.NewPostgresRepository(pool),
		sessions:   sessionrepo.NewPostgresRepository(pool),
		audit:      auditrepo.NewPostgresRepository(pool),
		pingers:    map[string]healthhandler.Pinger{"postgres": healthhandler.PingerFunc(pool.Ping)},
		close:      pool.Close,
	}
	if cfg.SessionStore == config.SessionStoreRedis {
		client, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		redisSessions := sessionrepo.NewRedisRepository(client, "")
		s.sessions = redisSessions
		s.pingers["redis"] = redisSessions
		s.close = func() {
			_ = client.Close()
			pool.Close()
		}
	}
	return s, nil
}

func newRedisClient(ctx context.Context, rawURL string) (*red.Client, error) {
	opts, err := red.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	client := red.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// newCodec passes only the key material the configured algorithm uses.
func newCodec(cfg *config.Config) (*security.TokenCodec, error) {
	opts := security.CodecOptions{
		Algorithm: cfg.JWTAlgorithm,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		TTL:       cfg.AccessTTL(),
	}
	if cfg.UsesHMAC() {
		opts.Secret = cfg.JWTSecret
	} else {
		opts.PrivateKey = cfg.JWTPrivateKey
		opts.PublicKey = cfg.JWTPublicKey
	}
	return security.NewTokenCodec(opts)
}

// newEventSink picks Kafka when brokers are configured, else writes audit rows directly.
// It returns nil when neither is available.
func newEventSink(cfg *config.Config, st *stores, zl *zap.Logger) (telemetry.EventEmitter, func()) {
	if p := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.SessionEventsTopic, zl); p != nil {
		zl.Info("session events go to kafka", zap.String("topic", cfg.SessionEventsTopic))
		return p, func() { _ = p.Close() }
	}
	if st.audit != nil {
		return audit.NewLogger(st.audit, zl), func() {}
	}
	return nil, func() {}
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	providers, err := otelsetup.NewProviders(ctx, otelsetup.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		Insecure:    cfg.OTLPInsecure,
		Logger:      zl,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()

	st, err := openStores(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer st.close()

	codec, err := newCodec(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	authMetrics, err := metrics.NewAuthMetrics(reg)
	if err != nil {
		return err
	}
	httpMetrics, err := metrics.NewHTTPMetrics(reg)
	if err != nil {
		return err
	}

	sink, closeSink := newEventSink(cfg, st, zl)
	defer closeSink()
	events := telemetry.NewAsyncEmitter(sink, zl)

	validator := sessionservice.NewValidator(codec, st.sessions, st.identities, sessionservice.Options{
		InactivityTimeout: cfg.InactivityTimeout(),
		StoreTimeout:      cfg.StoreTimeout(),
		Logger:            zl,
		Events:            events,
		Metrics:           authMetrics,
	})
	authSvc := identityservice.NewAuthService(st.identities, st.sessions, security.NewHasher(cfg.BcryptCost), codec, identityservice.Options{
		StoreTimeout: cfg.StoreTimeout(),
		Logger:       zl,
		Events:       events,
		Metrics:      authMetrics,
	})
	checker := healthhandler.NewChecker(cfg.StoreTimeout(), st.pingers)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpDeps := httpapi.Deps{
		Auth:      authSvc,
		Validator: validator,
		Checker:   checker,
		Gatherer:  reg,
		Metrics:   httpMetrics,
		Logger:    zl,
	}
	if st.audit != nil {
		httpDeps.Audit = st.audit
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(httpDeps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := server.NewGRPCServer(server.Deps{
		Auth:      authSvc,
		Validator: validator,
		Health:    healthhandler.NewServer(checker, identityhandler.AuthServiceName),
		Logger:    zl,
	})
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		zl.Info("grpc server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zl.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			zl.Warn("http shutdown", zap.Error(err))
		}
		drainCtx, drainCancel := context.WithTimeout(shutdownCtx, telemetry.ShutdownDrainDuration)
		defer drainCancel()
		if err := events.Drain(drainCtx); err != nil {
			zl.Warn("session events not drained", zap.Error(err))
		}
		if err := providers.Shutdown(shutdownCtx); err != nil {
			zl.Warn("otel shutdown", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}
