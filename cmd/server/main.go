package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/rbacauth/internal/authkit"
	"github.com/tyemirov/rbacauth/internal/web"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildLogger = func() (*zap.Logger, error) {
	return zap.NewProduction()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "rbac-auth",
		Short:        "RBAC session service with short-lived access JWTs and rotating refresh tokens",
		PreRunE:      prepareServerConfig,
		RunE:         runServer,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("database_url", "", "Database URL for users and refresh tokens (postgres:// or sqlite://)")
	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for access JWT")
	rootCmd.Flags().String("jwt_issuer", defaultJWTIssuer, "Issuer claim of access JWT")
	rootCmd.Flags().Duration("access_ttl", authkit.DefaultAccessTTL, "Access token TTL")
	rootCmd.Flags().Duration("refresh_ttl", authkit.DefaultRefreshTTL, "Refresh token TTL")
	rootCmd.Flags().String("environment", "development", "Deployment environment; production enables Secure cookies")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("refresh_store", refreshStoreDatabase, "Refresh token backend: database, pgx, or redis")
	rootCmd.Flags().String("redis_url", "", "Redis URL when refresh_store is redis")
	rootCmd.Flags().Duration("sweep_interval", authkit.DefaultSweepInterval, "Interval between expired refresh token purges")
	rootCmd.Flags().Duration("request_timeout", defaultRequestTimeout, "Per-request deadline for store calls")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients (sets SameSite=None cookies)")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database_url"))
	for _, name := range []string{
		"listen_addr",
		"jwt_signing_key",
		"jwt_issuer",
		"access_ttl",
		"refresh_ttl",
		"environment",
		"cookie_domain",
		"refresh_store",
		"redis_url",
		"sweep_interval",
		"request_timeout",
		"enable_cors",
		"cors_allowed_origins",
	} {
		_ = viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newCreateUserCommand())
	return rootCmd
}

const (
	defaultJWTIssuer      = "rbac-auth"
	defaultRequestTimeout = 5 * time.Second
	environmentProduction = "production"

	refreshStoreDatabase = "database"
	refreshStorePgx      = "pgx"
	refreshStoreRedis    = "redis"

	configCodeMissingJWTSigningKey    = "config.missing_jwt_signing_key"
	configCodeMissingDatabaseURL      = "config.missing_database_url"
	configCodeInvalidAccessTTL        = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeUnsupportedRefreshStore = "config.unsupported_refresh_store"
	configCodeMissingRedisURL         = "config.missing_redis_url"
	configCodeMissingCORSOrigins      = "config.missing_cors_allowed_origins"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeStoreInit               = "config.store_init"
)

// AppConfig is the validated process configuration.
type AppConfig struct {
	Server             authkit.ServerConfig
	ListenAddr         string
	DatabaseURL        string
	RefreshStore       string
	RedisURL           string
	SweepInterval      time.Duration
	RequestTimeout     time.Duration
	EnableCORS         bool
	CORSAllowedOrigins []string
}

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	appConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, appConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads flags and APP_* variables through viper and validates them.
func LoadServerConfig() (AppConfig, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return AppConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	databaseURL := strings.TrimSpace(viper.GetString("database_url"))
	if databaseURL == "" {
		return AppConfig{}, configError(configCodeMissingDatabaseURL, "database_url must be provided")
	}

	accessTTL := viper.GetDuration("access_ttl")
	if !viper.IsSet("access_ttl") {
		accessTTL = authkit.DefaultAccessTTL
	}
	if accessTTL <= 0 {
		return AppConfig{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if !viper.IsSet("refresh_ttl") {
		refreshTTL = authkit.DefaultRefreshTTL
	}
	if refreshTTL <= 0 {
		return AppConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	refreshStore := strings.ToLower(strings.TrimSpace(viper.GetString("refresh_store")))
	if refreshStore == "" {
		refreshStore = refreshStoreDatabase
	}
	redisURL := strings.TrimSpace(viper.GetString("redis_url"))
	switch refreshStore {
	case refreshStoreDatabase, refreshStorePgx:
	case refreshStoreRedis:
		if redisURL == "" {
			return AppConfig{}, configError(configCodeMissingRedisURL, "redis_url must be provided when refresh_store is redis")
		}
	default:
		return AppConfig{}, configError(configCodeUnsupportedRefreshStore, fmt.Sprintf("refresh_store %q is not one of database, pgx, redis", refreshStore))
	}

	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	if enableCORS && len(corsAllowedOrigins) == 0 {
		return AppConfig{}, configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}

	jwtIssuer := strings.TrimSpace(viper.GetString("jwt_issuer"))
	if jwtIssuer == "" {
		jwtIssuer = defaultJWTIssuer
	}
	listenAddr := viper.GetString("listen_addr")
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	requestTimeout := viper.GetDuration("request_timeout")
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	production := strings.EqualFold(strings.TrimSpace(viper.GetString("environment")), environmentProduction)
	sameSite := http.SameSiteLaxMode
	if enableCORS {
		sameSite = http.SameSiteNoneMode
	}

	return AppConfig{
		Server: authkit.ServerConfig{
			JWTSigningKey: []byte(jwtSigningKey),
			JWTIssuer:     jwtIssuer,
			CookieDomain:  viper.GetString("cookie_domain"),
			AccessTTL:     accessTTL,
			RefreshTTL:    refreshTTL,
			SameSiteMode:  sameSite,
			// Browsers drop SameSite=None cookies that are not Secure.
			SecureCookies: production || enableCORS,
		}.WithDefaults(),
		ListenAddr:         listenAddr,
		DatabaseURL:        databaseURL,
		RefreshStore:       refreshStore,
		RedisURL:           redisURL,
		SweepInterval:      viper.GetDuration("sweep_interval"),
		RequestTimeout:     requestTimeout,
		EnableCORS:         enableCORS,
		CORSAllowedOrigins: corsAllowedOrigins,
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := buildLogger()
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
	serverConfig := appConfig.Server

	runCtx, stopSignals := signal.NotifyContext(commandContext, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	stores, storesErr := openStores(runCtx, appConfig, logger)
	if storesErr != nil {
		return fmt.Errorf("%s: %w", configCodeStoreInit, storesErr)
	}
	defer stores.close()

	clock := authkit.NewSystemClock()
	metricsRecorder := authkit.NewCounterMetrics()
	hasher := authkit.NewBcryptHasher(authkit.DefaultBcryptCost)

	codec, codecErr := authkit.NewTokenCodec(serverConfig.JWTSigningKey, serverConfig.JWTIssuer, serverConfig.AccessTTL, clock)
	if codecErr != nil {
		return codecErr
	}
	sessions, sessionsErr := authkit.NewSessionManager(authkit.SessionManagerConfig{
		Users:         stores.users,
		RefreshTokens: stores.refreshTokens,
		Codec:         codec,
		Hasher:        hasher,
		Clock:         clock,
		Logger:        logger,
		Metrics:       metricsRecorder,
		RefreshTTL:    serverConfig.RefreshTTL,
	})
	if sessionsErr != nil {
		return sessionsErr
	}
	registry := authkit.NewUserRegistry(stores.users, hasher, clock, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(authkit.RecoveryHandler(logger))
	router.Use(zapLoggerMiddleware(logger))
	router.Use(requestTimeoutMiddleware(appConfig.RequestTimeout))

	if appConfig.EnableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, appConfig.CORSAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	router.GET("/healthz", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authkit.MountAuthRoutes(router, authkit.RouteDependencies{
		Config:   serverConfig,
		Sessions: sessions,
		Registry: registry,
		Codec:    codec,
		Logger:   logger,
	})
	web.MountUserRoutes(router, web.UserRouteDependencies{
		Codec:            codec,
		AccessCookieName: serverConfig.AccessCookieName,
		Registry:         registry,
		Sessions:         sessions,
		Logger:           logger,
	})

	sweeper := authkit.NewExpiredTokenSweeper(stores.purger, appConfig.SweepInterval, clock, logger, metricsRecorder)
	go sweeper.Run(runCtx)

	server := &http.Server{
		Addr:              appConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-runCtx.Done()
		graceCtx, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", appConfig.ListenAddr),
		zap.String("refresh_store", appConfig.RefreshStore),
		zap.Bool("secure_cookies", serverConfig.SecureCookies))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	logger.Info("server stopped", zap.Any("metrics", metricsRecorder.Snapshot()))
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

// requestTimeoutMiddleware bounds every store call made while serving a request.
func requestTimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		requestCtx, cancel := context.WithTimeout(contextGin.Request.Context(), timeout)
		defer cancel()
		contextGin.Request = contextGin.Request.WithContext(requestCtx)
		contextGin.Next()
	}
}
