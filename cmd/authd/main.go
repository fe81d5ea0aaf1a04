// Package main is the entry point for the authentication daemon.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/httpapi"
	"github.com/vyrodovalexey/avauth/internal/observability"
	"github.com/vyrodovalexey/avauth/internal/orchestrator"
	"github.com/vyrodovalexey/avauth/internal/provider"
	"github.com/vyrodovalexey/avauth/internal/provider/apikey"
	"github.com/vyrodovalexey/avauth/internal/provider/jwtauth"
	"github.com/vyrodovalexey/avauth/internal/provider/memory"
	"github.com/vyrodovalexey/avauth/internal/secrets"
	"github.com/vyrodovalexey/avauth/internal/security"
	"github.com/vyrodovalexey/avauth/internal/session"
	"github.com/vyrodovalexey/avauth/internal/validator"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)
	app := initApplication(cfg, logger)

	run(app, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("AVAUTH_CONFIG_PATH", "configs/avauth.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("AVAUTH_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("AVAUTH_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

func printVersion() {
	fmt.Printf("avauth version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// fatal logs the error and exits.
func fatal(logger observability.Logger, msg string, err error) {
	logger.Error(msg, observability.Error(err))
	_ = logger.Sync()
	os.Exit(1)
}

func loadAndValidateConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting avauth",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fatal(logger, "failed to load configuration", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		fatal(logger, "invalid configuration", err)
	}

	logger.Info("configuration loaded",
		observability.String("address", cfg.Server.Address),
		observability.String("session_backend", cfg.Session.Backend),
		observability.Int("providers", len(cfg.Providers)),
		observability.Int("rules", len(cfg.Validation.Rules)),
	)
	return cfg
}

// application holds all wired components.
type application struct {
	server       *httpapi.Server
	orchestrator *orchestrator.Orchestrator
	repository   session.Repository
	security     *security.DefaultService
	config       *config.Config
	store        *config.Store
}

func initApplication(cfg *config.Config, logger observability.Logger) *application {
	resolver := initResolver(logger)
	ctx := context.Background()

	sec := initSecurity(ctx, cfg, resolver, logger)
	repo := initRepository(ctx, cfg, resolver, logger)

	events := observability.NewRecordingLogger(logger)
	metrics := observability.NewMetrics("avauth")

	val := initValidator(cfg, sec, logger)
	mgr := initProviders(ctx, cfg, resolver, logger)

	store, err := config.NewStore(cfg)
	if err != nil {
		fatal(logger, "failed to build config store", err)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Providers:  mgr,
		Validator:  val,
		Repository: repo,
		Accounts:   accountStore(repo),
		Logger:     events,
		Metrics:    metrics,
		Security:   sec,
		Config:     store,
	})
	if err != nil {
		fatal(logger, "failed to create orchestrator", err)
	}

	server := httpapi.NewServer(
		&httpapi.ServerConfig{
			Address:      cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
			WriteTimeout: cfg.Server.WriteTimeout.Duration(),
			IdleTimeout:  120 * time.Second,
		},
		orch,
		sec,
		httpapi.WithServerLogger(logger),
	)

	return &application{
		server:       server,
		orchestrator: orch,
		repository:   repo,
		security:     sec,
		config:       cfg,
		store:        store,
	}
}

// initResolver enables the vault:// scheme when a Vault address is
// present in the environment.
func initResolver(logger observability.Logger) secrets.Resolver {
	opts := []secrets.Option{secrets.WithLogger(logger)}
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		client, err := secrets.NewVaultClient(addr, os.Getenv("VAULT_TOKEN"))
		if err != nil {
			fatal(logger, "failed to create vault client", err)
		}
		opts = append(opts, secrets.WithVaultClient(client))
		logger.Info("vault secret backend enabled", observability.String("address", addr))
	}
	return secrets.NewResolver(opts...)
}

// accountStore returns the repository's account surface when it has
// one; the redis backend stores sessions only.
func accountStore(repo session.Repository) session.AccountStore {
	if as, ok := repo.(session.AccountStore); ok {
		return as
	}
	return nil
}

func initSecurity(
	ctx context.Context, cfg *config.Config, resolver secrets.Resolver, logger observability.Logger,
) *security.DefaultService {
	key, err := resolver.Resolve(ctx, cfg.Security.EncryptionKey)
	if err != nil {
		fatal(logger, "failed to resolve encryption key", err)
	}
	keyBytes := []byte(key)
	if len(keyBytes) == 0 {
		// Ephemeral key: encrypted data will not survive a restart.
		keyBytes = make([]byte, 32)
		if _, err := rand.Read(keyBytes); err != nil {
			fatal(logger, "failed to generate encryption key", err)
		}
		logger.Warn("no encryption key configured, generated an ephemeral one")
	}

	sec, err := security.NewDefaultService(keyBytes,
		security.WithServiceLogger(logger),
		security.WithRateLimit(cfg.Security.RateLimit, cfg.Security.RateBurst),
		security.WithClientTTL(cfg.Security.LimiterExpiry.Duration()),
		security.WithMaxTimestampSkew(cfg.Security.MaxTimestampSkew.Duration()),
		security.WithSuspiciousAgents(cfg.Security.SuspiciousAgents),
	)
	if err != nil {
		fatal(logger, "failed to create security service", err)
	}
	return sec
}

func initRepository(
	ctx context.Context, cfg *config.Config, resolver secrets.Resolver, logger observability.Logger,
) session.Repository {
	if cfg.Session.Backend != "redis" {
		return session.NewMemoryRepository()
	}

	url, err := resolver.Resolve(ctx, cfg.Session.Redis.URL)
	if err != nil {
		fatal(logger, "failed to resolve redis URL", err)
	}
	repo, err := session.NewRedisRepository(&session.RedisConfig{
		URL:       url,
		KeyPrefix: cfg.Session.Redis.KeyPrefix,
		PoolSize:  cfg.Session.Redis.PoolSize,
	}, session.WithRedisLogger(logger))
	if err != nil {
		fatal(logger, "failed to connect to redis", err)
	}
	return repo
}

func initValidator(
	cfg *config.Config, sec security.Service, logger observability.Logger,
) *validator.Validator {
	val := validator.New(
		validator.WithLogger(logger),
		validator.WithSecurityService(sec),
		validator.WithMinSecretLength(cfg.Security.MinSecretLength),
		validator.WithPrometheusMetrics(validator.NewMetrics("avauth")),
	)

	for _, rc := range cfg.Validation.Rules {
		rule, err := validator.NewCELRule(rc.Name, rc.Priority, rc.Expression)
		if err != nil {
			fatal(logger, "failed to compile validation rule "+rc.Name, err)
		}
		val.AddRule(rule)
	}
	return val
}

func initProviders(
	ctx context.Context, cfg *config.Config, resolver secrets.Resolver, logger observability.Logger,
) *provider.Manager {
	mgr := provider.NewManager(
		provider.WithManagerLogger(logger),
		provider.WithManagerMetrics(provider.NewManagerMetrics("avauth")),
		provider.WithUnhealthyThreshold(cfg.Health.UnhealthyThreshold),
		provider.WithHealthCheckTimeout(cfg.Health.CheckTimeout.Duration()),
	)

	factories := newFactoryRegistry()
	for i := range cfg.Providers {
		pc := &cfg.Providers[i]

		settings, err := resolver.ResolveMap(ctx, pc.Settings)
		if err != nil {
			fatal(logger, "failed to resolve settings for provider "+pc.Name, err)
		}

		p, err := factories.Create(pc.Type, pc.Name, settings)
		if err != nil {
			fatal(logger, "failed to create provider "+pc.Name, err)
		}
		if err := p.Configure(settings); err != nil {
			fatal(logger, "failed to configure provider "+pc.Name, err)
		}

		opts := provider.DefaultRegisterOptions()
		if pc.Priority != "" {
			prio, err := provider.ParsePriority(pc.Priority)
			if err != nil {
				fatal(logger, "invalid priority for provider "+pc.Name, err)
			}
			opts.Priority = prio
		}
		opts.AutoEnable = pc.IsEnabled()
		if pc.FailoverEnabled != nil {
			opts.FailoverEnabled = *pc.FailoverEnabled
		}
		if pc.MaxRetries > 0 {
			opts.MaxRetries = pc.MaxRetries
		}
		opts.HealthCheckInterval = pc.HealthCheckInterval.Duration()
		opts.Metadata = pc.Metadata

		mgr.Register(p, &opts)
	}
	return mgr
}

// newFactoryRegistry registers the built-in mechanism families.
func newFactoryRegistry() *provider.FactoryRegistry {
	factories := provider.NewFactoryRegistry()

	factories.RegisterFactory("memory", func(name string, _ map[string]any) (provider.Authenticator, error) {
		return memory.New(name), nil
	})
	factories.RegisterFactory("jwt", func(name string, settings map[string]any) (provider.Authenticator, error) {
		key, _ := settings["signing_key"].(string)
		issuer, _ := settings["issuer"].(string)
		return jwtauth.New(name, issuer, []byte(key))
	})
	factories.RegisterFactory("apikey", func(name string, _ map[string]any) (provider.Authenticator, error) {
		return apikey.New(name, apikey.NewMemoryStore())
	})

	return factories
}

func run(app *application, configPath string, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := app.orchestrator.Initialize(ctx, 30*time.Second)
	for name, err := range results {
		if err != nil {
			logger.Warn("provider failed to initialize",
				observability.String("provider", name),
				observability.Error(err),
			)
		}
	}

	watcher := startConfigWatcher(ctx, app, configPath, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.server.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down",
			observability.String("signal", sig.String()),
		)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server exited", observability.Error(err))
		}
	}

	shutdown(app, watcher, logger)
}

// startConfigWatcher hot-reloads the runtime store on file changes.
// A watcher failure is not fatal; the daemon keeps the boot config.
func startConfigWatcher(
	ctx context.Context, app *application, configPath string, logger observability.Logger,
) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(cfg *config.Config) {
		if err := app.store.Replace(cfg); err != nil {
			logger.Error("failed to apply reloaded configuration", observability.Error(err))
		}
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("config watcher unavailable", observability.Error(err))
		return nil
	}
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start", observability.Error(err))
		return nil
	}
	return watcher
}

func shutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	shutdownTimeout := app.config.Server.ShutdownTimeout.Duration()
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}
	if err := app.server.Stop(ctx); err != nil {
		logger.Error("failed to stop HTTP server", observability.Error(err))
	}

	for name, err := range app.orchestrator.Shutdown(ctx, shutdownTimeout) {
		if err != nil {
			logger.Warn("provider failed to shut down",
				observability.String("provider", name),
				observability.Error(err),
			)
		}
	}

	_ = app.security.Close()
	if err := app.repository.Close(); err != nil {
		logger.Error("failed to close repository", observability.Error(err))
	}

	logger.Info("shutdown complete")
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
