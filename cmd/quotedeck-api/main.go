package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/auth"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/cache"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/config"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/database"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/logging"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/metrics"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/proposal"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/quotes"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/server"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

var (
	cfgFile      string
	openDatabase = database.Open
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quotedeck-api",
		Short: "QuoteDeck quote and proposal service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newSeedCommand(), newIssueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Rotated log file path")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("cache.redis_url"), "Redis URL for the estimate cache")
	cmd.PersistentFlags().String("template-path", defaults.GetString("proposal.template_path"), "Proposal template YAML file")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "cache.redis_url", "redis-url")
	bindFlag(cmd, "proposal.template_path", "template-path")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// application holds the wired services shared by every command.
type application struct {
	config   config.AppConfig
	logger   *zap.Logger
	users    *users.Service
	quotes   *quotes.Service
	realtime *server.RealtimeDispatcher
	registry *prometheus.Registry
	close    func()
}

func newApplication(ctx context.Context) (_ *application, err error) {
	var closers []func()
	closeAll := func() {
		for index := len(closers) - 1; index >= 0; index-- {
			closers[index]()
		}
	}
	defer func() {
		if err != nil {
			closeAll()
		}
	}()

	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFile)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	closers = append(closers, func() { _ = sqlDB.Close() })

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		return nil, err
	}

	templates, err := proposal.LoadProvider(appConfig.TemplatePath)
	if err != nil {
		return nil, err
	}

	var estimateCache quotes.EstimateCache
	if appConfig.RedisURL != "" {
		client, err := cache.NewRedisClient(appConfig.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, estimates will not be cached", zap.Error(err))
		}
		closers = append(closers, func() { _ = client.Close() })
		redisCache, err := cache.NewEstimateCache(client, appConfig.EstimateCacheTTL)
		if err != nil {
			return nil, err
		}
		estimateCache = redisCache
	}

	dispatcher := server.NewRealtimeDispatcher().WithRecorder(recorder)

	quoteService, err := quotes.NewService(quotes.ServiceConfig{
		Database:          db,
		Clock:             time.Now,
		IDProvider:        quotes.NewUUIDProvider(),
		Logger:            logger,
		Templates:         templates,
		EstimateCache:     estimateCache,
		Notifier:          dispatcher,
		Recorder:          recorder,
		ShareLinkHashCost: appConfig.ShareLinkBcryptCost,
		ShareLinkMaxDays:  appConfig.ShareLinkMaxDays,
	})
	if err != nil {
		return nil, err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now})
	if err != nil {
		return nil, err
	}

	return &application{
		config:   appConfig,
		logger:   logger,
		users:    userService,
		quotes:   quoteService,
		realtime: dispatcher,
		registry: registry,
		close: func() {
			closeAll()
			_ = logger.Sync()
		},
	}, nil
}

func runServer(ctx context.Context) error {
	app, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer app.close()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(app.config.SessionSigningKey),
		Issuer:        app.config.SessionIssuer,
		CookieName:    app.config.SessionCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Actors:           app.users,
		QuoteService:     app.quotes,
		Realtime:         app.realtime,
		MetricsHandler:   promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}),
		AllowedOrigins:   app.config.AllowedOrigins,
		Logger:           app.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    app.config.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server starting", zap.String("address", app.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
