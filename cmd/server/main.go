// Server runs the signature authorization HTTP API, the gRPC health endpoint and the expiry
// sweeper in one process.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"

	"docsign-engine/backend/internal/audit"
	auditrepo "docsign-engine/backend/internal/audit/repository"
	"docsign-engine/backend/internal/config"
	"docsign-engine/backend/internal/db"
	"docsign-engine/backend/internal/devotp"
	"docsign-engine/backend/internal/document"
	healthhandler "docsign-engine/backend/internal/health/handler"
	"docsign-engine/backend/internal/logger"
	"docsign-engine/backend/internal/mail"
	"docsign-engine/backend/internal/otp"
	otprepo "docsign-engine/backend/internal/otp/repository"
	"docsign-engine/backend/internal/policy/engine"
	"docsign-engine/backend/internal/ratelimit"
	"docsign-engine/backend/internal/security"
	"docsign-engine/backend/internal/server"
	"docsign-engine/backend/internal/server/middleware"
	sigrepo "docsign-engine/backend/internal/signature/repository"
	signinghandler "docsign-engine/backend/internal/signing/handler"
	"docsign-engine/backend/internal/signing/service"
	"docsign-engine/backend/internal/sweeper"
	"docsign-engine/backend/internal/telemetry"
	telemetryotel "docsign-engine/backend/internal/telemetry/otel"
	"docsign-engine/backend/internal/telemetry/producer"
)

const (
	accessTokenTTL      = 15 * time.Minute
	healthSyncInterval  = 10 * time.Second
	httpShutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "").Fatal("config", zap.Error(err))
	}
	log := logger.New(cfg.LogLevel, cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Insecure:    cfg.OTLPInsecure,
	}, logger.WithComponent(log, "otel"))
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn("otel shutdown", zap.Error(err))
		}
	}()

	repos, pool, err := openRepositories(ctx, cfg, log)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	tokens, err := tokenProvider(cfg, log)
	if err != nil {
		return err
	}

	// OTP_POLICY_FILE overrides the built-in issuance policy; OPA evaluates it either way.
	policy, err := engine.NewOPAEvaluatorFromFile(ctx, cfg.OTPPolicyFile, logger.WithComponent(log, "policy"))
	if err != nil {
		return err
	}

	mailer := mail.NewMailer(mailTransport(cfg, log), cfg.MailFrom, logger.WithComponent(log, "mail"))

	var dev devotp.Store
	if cfg.DevOTPEnabled && !cfg.IsProduction() {
		dev = devotp.NewMemoryStore()
		log.Warn("development OTP endpoint enabled")
	}

	otpOpts := []otp.Option{otp.WithLogger(logger.WithComponent(log, "otp"))}
	if dev != nil {
		otpOpts = append(otpOpts, otp.WithDevStore(dev))
	}
	otpManager := otp.NewManager(repos.challenges, security.NewHasher(cfg.OTPBcryptCost), mailer, policy, otp.Config{
		TTL:         cfg.OTPTTL(),
		Cooldown:    cfg.OTPCooldown(),
		MaxAttempts: cfg.OTPMaxAttempts,
		MaxIssues:   cfg.OTPMaxIssues,
		SendTimeout: cfg.MailSendTimeout(),
	}, otpOpts...)

	recorder := audit.NewRecorder(repos.audit, middleware.ActorFromContext, logger.WithComponent(log, "audit"))

	var emitters telemetry.Multi
	kafkaProducer := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.LifecycleKafkaTopic)
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		defer func() {
			if err := kafkaProducer.Close(); err != nil {
				log.Warn("kafka producer close", zap.Error(err))
			}
		}()
	}
	if cfg.OTLPEndpoint != "" {
		emitters = append(emitters, telemetryotel.NewEventEmitter(providers.LoggerProvider))
	}
	var events *telemetry.Async
	if len(emitters) > 0 {
		events = telemetry.NewAsync(emitters, logger.WithComponent(log, "telemetry"))
	}

	orchestrator := service.New(service.Deps{
		Requests:  repos.requests,
		OTP:       otpManager,
		Audit:     recorder,
		Documents: document.NewHTTPStore(cfg.DocumentFetchTimeout()),
		Tokens:    tokens,
		Notifier:  mailer,
		Events:    events,
		DevOTP:    dev,
		Log:       logger.WithComponent(log, "signing"),
	}, service.Config{
		DefaultTTL:    cfg.RequestDefaultTTL(),
		PublicBaseURL: cfg.PublicBaseURL,
		NoticeTimeout: cfg.MailSendTimeout(),
	})

	var pinger healthhandler.Pinger
	if pool != nil {
		pinger = pool
	}
	checker := healthhandler.NewChecker(pinger, policy)

	limiter, closeLimiter, err := rateLimiter(cfg, log)
	if err != nil {
		return err
	}
	defer closeLimiter()

	router := server.NewRouter(server.RouterDeps{
		Signing: signinghandler.New(orchestrator, signinghandler.Options{
			SecureCookies: cfg.IsProduction(),
			SessionTTL:    cfg.ViewerSessionTTL(),
		}, logger.WithComponent(log, "http")),
		Tokens:    tokens,
		Limiter:   limiter,
		Checker:   checker,
		EnableDev: dev != nil,
		Log:       logger.WithComponent(log, "http"),
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	healthServer := health.NewServer()
	grpcServer := server.NewGRPCServer(healthServer, logger.WithComponent(log, "grpc"))
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go checker.Watch(ctx, healthServer, healthSyncInterval)
		go func() {
			log.Info("grpc health server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	if interval := cfg.SweepInterval(); interval > 0 {
		sw := sweeper.New(repos.requests, orchestrator, cfg.SweepBatchSize, logger.WithComponent(log, "sweeper"))
		go sw.Run(ctx, interval)
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server failed", zap.Error(err))
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	if events != nil && !events.Drain(telemetry.ShutdownDrainDuration) {
		log.Warn("lifecycle events still in flight at shutdown")
	}
	log.Info("server stopped")
	return nil
}

type repositories struct {
	requests   sigrepo.Repository
	challenges otprepo.Repository
	audit      auditrepo.Repository
}

// openRepositories returns Postgres repositories when DATABASE_URL is set and in-memory ones otherwise.
func openRepositories(ctx context.Context, cfg *config.Config, log *zap.Logger) (repositories, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; using in-memory storage")
		return repositories{
			requests:   sigrepo.NewMemoryRepository(),
			challenges: otprepo.NewMemoryRepository(),
			audit:      auditrepo.NewMemoryRepository(),
		}, nil, nil
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolOptions)
	if err != nil {
		return repositories{}, nil, err
	}
	return repositories{
		requests:   sigrepo.NewPostgresRepository(pool),
		challenges: otprepo.NewPostgresRepository(pool),
		audit:      auditrepo.NewPostgresRepository(pool),
	}, pool, nil
}

// tokenProvider loads the configured key pair, or generates an ephemeral one outside production.
func tokenProvider(cfg *config.Config, log *zap.Logger) (*security.TokenProvider, error) {
	if cfg.JWTPrivateKey != "" && cfg.JWTPublicKey != "" {
		priv, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
		if err != nil {
			return nil, err
		}
		return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, accessTokenTTL, cfg.ViewerSessionTTL()), nil
	}
	if cfg.IsProduction() {
		return nil, errors.New("JWT keys are required in production")
	}
	log.Warn("JWT keys not set; using an ephemeral key pair")
	priv, pub, err := security.GenerateEphemeralKeyPair()
	if err != nil {
		return nil, err
	}
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, accessTokenTTL, cfg.ViewerSessionTTL()), nil
}

func mailTransport(cfg *config.Config, log *zap.Logger) mail.Transport {
	switch {
	case cfg.MailAPIURL != "":
		return mail.NewHTTPTransport(cfg.MailAPIKey, cfg.MailAPIURL)
	case cfg.SMTPHost != "":
		return &mail.SMTPTransport{Host: cfg.SMTPHost, Port: cfg.SMTPPort, Username: cfg.SMTPUser, Password: cfg.SMTPPass}
	default:
		log.Warn("no mail transport configured; emails are logged without their body")
		return mail.LogTransport{Log: logger.WithComponent(log, "mail")}
	}
}

// rateLimiter returns a Redis-backed limiter when REDIS_URL is set. A zero budget disables limiting.
func rateLimiter(cfg *config.Config, log *zap.Logger) (ratelimit.Limiter, func(), error) {
	if cfg.PublicRatePerMinute == 0 {
		return nil, func() {}, nil
	}
	if cfg.RedisURL == "" {
		return ratelimit.NewMemoryLimiter(cfg.PublicRatePerMinute, time.Minute), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	closeFn := func() {
		if err := client.Close(); err != nil {
			log.Warn("redis close", zap.Error(err))
		}
	}
	return ratelimit.NewRedisLimiter(client, cfg.PublicRatePerMinute, time.Minute), closeFn, nil
}
