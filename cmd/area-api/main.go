package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arealabs/area/internal/area"
	"github.com/arealabs/area/internal/auth"
	"github.com/arealabs/area/internal/config"
	"github.com/arealabs/area/internal/database"
	"github.com/arealabs/area/internal/engine"
	"github.com/arealabs/area/internal/logging"
	"github.com/arealabs/area/internal/providers"
	"github.com/arealabs/area/internal/registry"
	"github.com/arealabs/area/internal/server"
	"github.com/arealabs/area/internal/services"
	"github.com/arealabs/area/internal/users"
	"github.com/arealabs/area/internal/webhook"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "area-api",
		Short: "AREA automation backend service",
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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Duration("poll-interval", defaults.GetDuration("poll.interval"), "Trigger poll interval")
	cmd.PersistentFlags().Duration("adapter-timeout", defaults.GetDuration("poll.adapter_timeout"), "Per-call provider timeout")
	cmd.PersistentFlags().String("webhook-host", defaults.GetString("webhook.host"), "Public base URL for webhook delivery")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("webhook-secret", "", "Webhook secret key (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "poll.interval", "poll-interval")
	bindFlag(cmd, "poll.adapter_timeout", "adapter-timeout")
	bindFlag(cmd, "webhook.host", "webhook-host")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "webhook.secret", "webhook-secret")
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

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.TokenTTL,
	})

	catalog := registry.New(providers.All(appConfig.Providers))

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	credentialStore, err := services.NewStore(services.StoreConfig{
		Database: db,
		Registry: catalog,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	dispatcher, err := engine.NewDispatcher(engine.DispatcherConfig{
		Registry:    catalog,
		Credentials: credentialStore,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	signer, err := webhook.NewSigner([]byte(appConfig.WebhookSecret), appConfig.WebhookHost)
	if err != nil {
		return err
	}

	areaService, err := area.NewService(area.ServiceConfig{
		Database:    db,
		Registry:    catalog,
		Credentials: credentialStore,
		Logger:      logger,
		WebhookURL:  signer.URL,
	})
	if err != nil {
		return err
	}

	receiver, err := webhook.NewReceiver(webhook.ReceiverConfig{
		Signer:     signer,
		Areas:      areaService,
		Registry:   catalog,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	evaluator, err := engine.New(engine.Config{
		Areas:          areaService,
		Registry:       catalog,
		Credentials:    credentialStore,
		Dispatcher:     dispatcher,
		Logger:         logger,
		PollInterval:   appConfig.PollInterval,
		AdapterTimeout: appConfig.AdapterTimeout,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Users:       usersService,
		Tokens:      tokenManager,
		Credentials: credentialStore,
		Areas:       areaService,
		Webhooks:    receiver,
		Logger:      logger,
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

	evaluator.Start()
	defer evaluator.Stop()

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
