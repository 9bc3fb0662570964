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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/sensorhub/internal/authkit"
	"github.com/tyemirov/sensorhub/internal/authkitpg"
	"github.com/tyemirov/sensorhub/internal/authkitredis"
	"github.com/tyemirov/sensorhub/internal/database"
	"github.com/tyemirov/sensorhub/internal/telemetry"
	"github.com/tyemirov/sensorhub/internal/web"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var subscribeMQTT = telemetry.SubscribeMQTT

var connectInflux = func(ctx context.Context, configuration telemetry.InfluxConfig, logger *zap.Logger) (telemetry.Sink, func(), error) {
	sink, err := telemetry.ConnectInflux(ctx, configuration, logger)
	if err != nil {
		return nil, nil, err
	}
	return sink, sink.Close, nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "sensorhub",
		Short:             "Telemetry backend with password login, bearer access tokens, and rotating refresh tokens",
		PersistentPreRunE: readConfigFile,
		PreRunE:           prepareServerConfig,
		RunE:              runServer,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().String("config", "", "Optional config file (yaml, toml, or json)")
	rootCmd.PersistentFlags().String("database_url", "", "Database URL (postgres:// or sqlite://; leave empty for in-memory stores)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database_url"))
	bindServerFlags(rootCmd)

	rootCmd.AddCommand(newUsersCommand(), newHashPasswordCommand())

	viper.SetEnvPrefix("SENSORHUB")
	viper.AutomaticEnv()

	return rootCmd
}

type storage struct {
	users        authkit.UserStore
	revocations  authkit.RevocationStore
	measurements telemetry.Store
	pingers      map[string]web.Pinger
	closers      []func()
}

func (backends *storage) Close() {
	for index := len(backends.closers) - 1; index >= 0; index-- {
		backends.closers[index]()
	}
}

func openStorage(ctx context.Context, appConfig AppConfig, clock authkit.Clock, logger *zap.Logger) (*storage, error) {
	backends := &storage{pingers: map[string]web.Pinger{}}

	if appConfig.DatabaseURL == "" {
		backends.users = authkit.NewMemoryUserStore()
		backends.revocations = authkit.NewMemoryRevocationStore()
		backends.measurements = telemetry.NewMemoryStore()
		logger.Warn("using in-memory stores; data is lost on restart",
			zap.String("code", "storage.memory"))
	} else {
		connection, err := database.Open(ctx, appConfig.DatabaseURL)
		if err != nil {
			return nil, err
		}
		backends.closers = append(backends.closers, func() { _ = connection.Close() })
		backends.pingers["database"] = connection

		userStore, userErr := authkit.NewDatabaseUserStore(ctx, connection)
		if userErr != nil {
			backends.Close()
			return nil, userErr
		}
		backends.users = userStore

		measurementStore, measurementErr := telemetry.NewDatabaseStore(ctx, connection)
		if measurementErr != nil {
			backends.Close()
			return nil, measurementErr
		}
		backends.measurements = measurementStore

		if connection.Driver == database.DriverPostgres && appConfig.RedisURL == "" {
			revocationStore, closePG, pgErr := authkitpg.Open(ctx, appConfig.DatabaseURL)
			if pgErr != nil {
				backends.Close()
				return nil, pgErr
			}
			backends.closers = append(backends.closers, closePG)
			backends.revocations = revocationStore.WithClock(clock)
			logger.Info("using postgres revocation store", zap.String("code", "storage.revocations.postgres"))
		} else if appConfig.RedisURL == "" {
			revocationStore, revocationErr := authkit.NewDatabaseRevocationStore(ctx, connection)
			if revocationErr != nil {
				backends.Close()
				return nil, revocationErr
			}
			backends.revocations = revocationStore.WithClock(clock)
			logger.Info("using database revocation store",
				zap.String("code", "storage.revocations.database"),
				zap.String("driver", revocationStore.Driver()))
		}
	}

	if appConfig.RedisURL != "" {
		revocationStore, client, redisErr := authkitredis.Open(ctx, appConfig.RedisURL)
		if redisErr != nil {
			backends.Close()
			return nil, redisErr
		}
		backends.closers = append(backends.closers, func() { _ = client.Close() })
		backends.revocations = revocationStore.WithClock(clock)
		logger.Info("using redis revocation store", zap.String("code", "storage.revocations.redis"))
	}
	if pinger, ok := backends.revocations.(web.Pinger); ok {
		backends.pingers["revocations"] = pinger
	}
	return backends, nil
}

func seedUsers(ctx context.Context, appConfig AppConfig, users authkit.UserStore, hasher *authkit.PasswordHasher, logger *zap.Logger) error {
	if appConfig.DefaultAdminPassword == defaultAdminPassword {
		logger.Warn("default admin password in use; change it before exposing the server",
			zap.String("code", "config.default_admin_password"),
			zap.String("username", appConfig.DefaultAdminUsername))
	}
	seeds := []authkit.SeedUser{{
		Username:    appConfig.DefaultAdminUsername,
		DisplayName: "Administrator",
		Password:    appConfig.DefaultAdminPassword,
	}}
	if appConfig.SeedFile != "" {
		fileSeeds, err := authkit.LoadSeedFile(appConfig.SeedFile)
		if err != nil {
			return err
		}
		seeds = append(seeds, fileSeeds...)
	}
	_, err := authkit.SeedUsers(ctx, users, hasher, seeds, logger)
	return err
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	appConfig, ok := contextValue.(AppConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	clock := authkit.NewSystemClock()
	backends, storageErr := openStorage(runCtx, appConfig, clock, logger)
	if storageErr != nil {
		return storageErr
	}
	defer backends.Close()

	hasher, hasherErr := authkit.NewPasswordHasher(authkit.DefaultPasswordHashConfig())
	if hasherErr != nil {
		return hasherErr
	}
	if err := seedUsers(runCtx, appConfig, backends.users, hasher, logger); err != nil {
		return err
	}

	metricsRecorder := authkit.NewCounterMetrics()
	authService, serviceErr := authkit.NewService(authkit.ServiceDependencies{
		Configuration: appConfig.Auth,
		Credentials:   backends.users,
		Revocations:   backends.revocations,
		Hasher:        hasher,
		Clock:         clock,
		Metrics:       metricsRecorder,
		Logger:        logger,
	})
	if serviceErr != nil {
		return serviceErr
	}

	janitor := authkit.NewRevocationJanitor(backends.revocations, clock, appConfig.PurgeInterval, logger)
	go janitor.Run(runCtx)

	var sinks []telemetry.Sink
	if appConfig.Influx.URL != "" {
		sink, closeSink, influxErr := connectInflux(runCtx, appConfig.Influx, logger)
		if influxErr != nil {
			return influxErr
		}
		defer closeSink()
		sinks = append(sinks, sink)
		logger.Info("mirroring measurements to influxdb",
			zap.String("code", "telemetry.influx.enabled"),
			zap.String("bucket", appConfig.Influx.Bucket))
	}

	telemetryService, telemetryErr := telemetry.NewService(telemetry.ServiceDependencies{
		Store:   backends.measurements,
		Sinks:   sinks,
		Clock:   clock,
		Metrics: metricsRecorder,
		Logger:  logger,
	})
	if telemetryErr != nil {
		return telemetryErr
	}

	if appConfig.MQTT.BrokerURL != "" {
		ingestor := telemetry.NewIngestor(telemetryService, authService, metricsRecorder, logger)
		stopMQTT, mqttErr := subscribeMQTT(appConfig.MQTT, ingestor.HandleMessage, logger)
		if mqttErr != nil {
			return mqttErr
		}
		defer stopMQTT()
	}

	userHandlers, handlersErr := web.NewUserHandlers(backends.users, hasher, authService, logger)
	if handlersErr != nil {
		return handlersErr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if appConfig.EnableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, appConfig.CORSAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	router.GET("/health", web.HandleHealth(logger, backends.pingers))
	authkit.MountAuthRoutes(router, authService)

	protected := router.Group("/api")
	protected.Use(authkit.RequireAccessToken(authService))
	telemetry.MountRoutes(protected, telemetryService)
	userHandlers.Mount(protected)

	server := &http.Server{
		Addr:              appConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-runCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", appConfig.ListenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
