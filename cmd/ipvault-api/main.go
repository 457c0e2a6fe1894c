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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/ipvault/internal/activity"
	"github.com/MarcoPoloResearchLab/ipvault/internal/auth"
	"github.com/MarcoPoloResearchLab/ipvault/internal/config"
	"github.com/MarcoPoloResearchLab/ipvault/internal/database"
	"github.com/MarcoPoloResearchLab/ipvault/internal/datastore"
	"github.com/MarcoPoloResearchLab/ipvault/internal/identity"
	"github.com/MarcoPoloResearchLab/ipvault/internal/ipdata"
	"github.com/MarcoPoloResearchLab/ipvault/internal/logging"
	"github.com/MarcoPoloResearchLab/ipvault/internal/server"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ipvault-api",
		Short: "IP portfolio backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newMigrateCommand(), newTokenCommand())

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
	cmd.PersistentFlags().String("auth-issuer", defaults.GetString("auth.issuer"), "Expected session token issuer")
	cmd.PersistentFlags().String("cookie-name", defaults.GetString("auth.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Issued token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.issuer", "auth-issuer")
	bindFlag(cmd, "auth.cookie_name", "cookie-name")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema and data migrations, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := openDatabase(appConfig, logger)
			if err != nil {
				return err
			}
			defer closeDatabase(db, logger)
			logger.Info("migrations applied", zap.String("driver", appConfig.DatabaseDriver))
			return nil
		},
	}
}

func newTokenCommand() *cobra.Command {
	var (
		userID string
		email  string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueSessionToken(userID, email)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires %s\n", token, expiresAt.Format(time.RFC3339))
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "User identifier placed in the token")
	cmd.Flags().StringVar(&email, "email", "", "User email placed in the token")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func loadRuntime() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func openDatabase(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, error) {
	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db, logger); err != nil {
		closeDatabase(db, logger)
		return nil, err
	}
	return db, nil
}

func closeDatabase(db *gorm.DB, logger *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("database close failed", zap.Error(err))
	}
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := openDatabase(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDatabase(db, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := datastore.NewMetrics(registry)
	if err != nil {
		return err
	}
	ids := datastore.NewUUIDProvider()

	activityTable, err := datastore.NewGormTable[ipdata.ActivityLog](datastore.GormTableConfig{
		Database:   db,
		IDProvider: ids,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}
	activityLogger, err := activity.NewLogger(activity.Config{
		Table:      activityTable,
		Identity:   identity.NewSession(),
		Logger:     logger,
		Registerer: registry,
	})
	if err != nil {
		return err
	}
	defer activityLogger.Wait()

	resolver, err := identity.NewResolver(identity.ResolverConfig{Database: db})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Resolver:         resolver,
		Database:         db,
		Activity:         activityLogger,
		Realtime:         server.NewRealtimeDispatcher(),
		IDProvider:       ids,
		Metrics:          metrics,
		Gatherer:         registry,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("driver", appConfig.DatabaseDriver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
