package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/studyloop/drift/internal/auth"
	"github.com/studyloop/drift/internal/config"
	"github.com/studyloop/drift/internal/database"
	"github.com/studyloop/drift/internal/listings"
	"github.com/studyloop/drift/internal/logging"
	"github.com/studyloop/drift/internal/posts"
	"github.com/studyloop/drift/internal/rooms"
	"github.com/studyloop/drift/internal/server"
	"github.com/studyloop/drift/internal/store/sqlitestore"
	"github.com/studyloop/drift/internal/threads"
	"github.com/studyloop/drift/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "drift-api",
		Short: "Drift study backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("identity-issuer", defaults.GetString("auth.issuer"), "Trusted identity provider issuer")
	cmd.PersistentFlags().String("identity-jwks-url", defaults.GetString("auth.jwks_url"), "Identity provider JWKS URL")
	cmd.PersistentFlags().String("identity-audience", defaults.GetString("auth.audience"), "Expected identity token audience")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("listings-base-url", defaults.GetString("listings.base_url"), "Event listings API base URL")
	cmd.PersistentFlags().String("listings-location", defaults.GetString("listings.location"), "Default event listings location")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "auth.issuer", "identity-issuer")
	bindFlag(cmd, "auth.jwks_url", "identity-jwks-url")
	bindFlag(cmd, "auth.audience", "identity-audience")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "listings.base_url", "listings-base-url")
	bindFlag(cmd, "listings.location", "listings-location")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	identityVerifier, err := auth.NewIdentityVerifier(auth.IdentityVerifierConfig{
		Audience:       appConfig.IdentityAudience,
		JWKSURL:        appConfig.IdentityJWKSURL,
		AllowedIssuers: []string{appConfig.IdentityIssuer},
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	documents, err := sqlitestore.New(sqlitestore.Config{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	profiles, err := users.NewResolver(users.ResolverConfig{
		Store:  documents,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	postsService, err := posts.NewService(posts.ServiceConfig{
		Store:  documents,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	threadsEngine, err := threads.NewEngine(threads.EngineConfig{
		Store:    documents,
		Profiles: profiles,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	roomsService, err := rooms.NewService(rooms.ServiceConfig{
		Store:  documents,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	listingsFetcher, err := listings.NewHTTPFetcher(appConfig.ListingsBaseURL, nil)
	if err != nil {
		return err
	}

	listingsService, err := listings.NewService(listings.ServiceConfig{
		Fetcher:     listingsFetcher,
		Database:    db,
		Location:    appConfig.ListingsLocation,
		TTL:         appConfig.CacheTTL,
		MaxAttempts: appConfig.RetryMaxAttempts,
		RetryDelay:  appConfig.RetryDelay,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier:     identityVerifier,
		TokenManager: tokenManager,
		Posts:        postsService,
		Threads:      threadsEngine,
		Rooms:        roomsService,
		Listings:     listingsService,
		Profiles:     profiles,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
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
