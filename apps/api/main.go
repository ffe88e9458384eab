package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	classesrepo "github.com/upem-wims/wims-lti/domains/classes/be/repo"
	classesservice "github.com/upem-wims/wims-lti/domains/classes/be/service"
	credentialsrepo "github.com/upem-wims/wims-lti/domains/credentials/be/repo"
	credentialsservice "github.com/upem-wims/wims-lti/domains/credentials/be/service"
	launchhandler "github.com/upem-wims/wims-lti/domains/launch/be/handler"
	launchservice "github.com/upem-wims/wims-lti/domains/launch/be/service"
	platformlogging "github.com/upem-wims/wims-lti/platform/go/logging"
	"github.com/upem-wims/wims-lti/platform/go/lti"
	"github.com/upem-wims/wims-lti/platform/go/metrics"
	"github.com/upem-wims/wims-lti/platform/go/nonce"
	"github.com/upem-wims/wims-lti/platform/go/persistence"
	"github.com/upem-wims/wims-lti/platform/go/wims"
)

const defaultServerEmail = "webmaster@localhost"

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	DatabaseSchema  string        `env:"DATABASE_SCHEMA" envDefault:"wimslti"`
	AutoBootstrap   bool          `env:"AUTO_BOOTSTRAP" envDefault:"false"`
	PublicBaseURL   string        `env:"PUBLIC_BASE_URL"`
	PrivilegedRoles string        `env:"PRIVILEGED_ROLES" envDefault:"Instructor,Administrator"`
	LaunchMaxSkew   time.Duration `env:"LAUNCH_MAX_SKEW" envDefault:"5m"`
	WimsTimeout     time.Duration `env:"WIMS_TIMEOUT" envDefault:"10s"`
	WimsSessionTTL  time.Duration `env:"WIMS_SESSION_TTL" envDefault:"1m"`
	WimsLang        string        `env:"WIMS_LANG" envDefault:"en"`
	RedisAddr       string        `env:"REDIS_ADDR"`                                      // host:port or redis:// URL; in-process nonces when empty
	ServerEmail     string        `env:"SERVER_EMAIL" envDefault:"webmaster@localhost"` // contact of classes created without an instructor email
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "lti-api",
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	warnDefaults(logger, cfg)

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:      cfg.DatabaseURL,
		Schema:          cfg.DatabaseSchema,
		ApplicationName: "wimslti-api",
	})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if cfg.AutoBootstrap {
		if err := persistence.Bootstrap(ctx, pool, cfg.DatabaseSchema); err != nil {
			logger.Fatal("bootstrap schema", zap.Error(err))
		}
		logger.Info("schema bootstrapped", zap.String("schema", cfg.DatabaseSchema))
	}

	credentialStore, err := persistence.NewCredentialStore(ctx, pool)
	if err != nil {
		logger.Fatal("init credential store", zap.Error(err))
	}
	classStore, err := persistence.NewClassStore(ctx, pool)
	if err != nil {
		logger.Fatal("init class store", zap.Error(err))
	}

	m := metrics.New(nil)

	checks := readiness{"postgres": pool.Ping}
	var nonces lti.NonceStore
	if cfg.RedisAddr != "" {
		redisNonces, err := nonce.NewRedis(cfg.RedisAddr)
		if err != nil {
			logger.Fatal("init redis nonce store", zap.Error(err))
		}
		defer redisNonces.Close()
		checks["redis"] = redisNonces.Ping
		nonces = redisNonces
		logger.Info("using redis nonce store")
	} else {
		nonces = nonce.NewMemory(time.Minute)
		logger.Info("using in-process nonce store; run a single replica or set REDIS_ADDR")
	}

	var connector wims.Connector = wims.NewClient(wims.ClientConfig{
		Timeout: cfg.WimsTimeout,
		Metrics: m,
		Logger:  logger.Named("wims"),
	})
	if cfg.WimsSessionTTL > 0 {
		connector = wims.NewCachedConnector(connector, cfg.WimsSessionTTL)
	}

	credentialService := credentialsservice.New(credentialsrepo.NewPostgresRepository(credentialStore))
	resolver := classesservice.NewResolver(classesrepo.NewPostgresRepository(classStore), classesservice.Config{
		Privileged:    lti.ParseRoleSet(cfg.PrivilegedRoles),
		DefaultLang:   cfg.WimsLang,
		FallbackEmail: cfg.ServerEmail,
		Metrics:       m,
		Logger:        logger,
	})
	authenticator := lti.NewAuthenticator(nonces, cfg.LaunchMaxSkew)

	launchService := launchservice.New(credentialService, resolver, connector, authenticator, logger)
	launchHTTPHandler := launchhandler.New(launchService, logger, m, cfg.PublicBaseURL)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(logger, cfg.RequestTimeout, launchHTTPHandler, checks),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting lti api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// warnDefaults flags settings that work locally but are wrong in production.
func warnDefaults(logger *zap.Logger, cfg config) {
	if cfg.ServerEmail == defaultServerEmail {
		logger.Warn("SERVER_EMAIL is left at its default; classes created without an instructor email will use it",
			zap.String("server_email", cfg.ServerEmail))
	}
	if cfg.PublicBaseURL == "" {
		logger.Warn("PUBLIC_BASE_URL is not set; signatures are checked against the request host and forwarded headers")
	}
	if cfg.LaunchMaxSkew <= 0 {
		logger.Warn("LAUNCH_MAX_SKEW disabled; launches are not protected against replay")
	}
}
