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

	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/config"
	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/database"
	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/game"
	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/live"
	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/roster"
	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/scheduler"
	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/server"
	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	serviceName        = "lettuce-api"
	shutdownTimeout    = 10 * time.Second
	sessionClockLeeway = 30 * time.Second
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Lettuce grid game backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newSeedCommand(), newTokenCommand())

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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("webhook-url", defaults.GetString("notifier.webhook_url"), "Chat webhook URL for game notifications")
	cmd.PersistentFlags().String("drop-schedule", defaults.GetString("schedule.drop"), "Cron spec (with seconds) for the lettuce drop")
	cmd.PersistentFlags().String("otel-endpoint", defaults.GetString("otel.endpoint"), "OTLP/HTTP trace endpoint")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "tauth.signing_secret", "signing-secret")
	bindFlag(cmd, "notifier.webhook_url", "webhook-url")
	bindFlag(cmd, "schedule.drop", "drop-schedule")
	bindFlag(cmd, "otel.endpoint", "otel-endpoint")
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

func newSeedCommand() *cobra.Command {
	var rosterPath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Register the players listed in a roster file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), rosterPath)
		},
	}
	cmd.Flags().StringVar(&rosterPath, "file", "roster.yaml", "Path to the roster YAML file")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var sessionIdentity auth.SessionIdentity
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for a player account",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.TAuthSigningKey),
				Issuer:        appConfig.TAuthIssuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(sessionIdentity)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires: %s\n", token, expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionIdentity.UserID, "user-id", "", "Chat account id of the player")
	cmd.Flags().StringVar(&sessionIdentity.DisplayName, "name", "", "Display name carried in the session")
	cmd.Flags().StringVar(&sessionIdentity.AvatarURL, "avatar-url", "", "Avatar URL carried in the session")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func openDatabase(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(database.Options{
		Driver:     appConfig.DatabaseDriver,
		Path:       appConfig.DatabasePath,
		DSN:        appConfig.DatabaseDSN,
		GridHeight: appConfig.GridHeight,
		Logger:     logging.Component(logger, "database"),
	})
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

func runSeed(ctx context.Context, rosterPath string) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	file, err := roster.Load(rosterPath)
	if err != nil {
		return err
	}
	db, closeDB, err := openDatabase(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	engine, err := game.NewEngine(game.EngineConfig{
		Database:   db,
		GridWidth:  appConfig.GridWidth,
		GridHeight: appConfig.GridHeight,
		IDProvider: game.NewUUIDProvider(),
		Logger:     logging.Component(logger, "game"),
	})
	if err != nil {
		return err
	}
	result, err := roster.Seed(ctx, engine, file, logging.Component(logger, "roster"))
	if err != nil {
		return err
	}
	logger.Info("roster seeded",
		zap.String("file", rosterPath),
		zap.Int("registered", result.Registered),
		zap.Int("skipped", result.Skipped))
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

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, appConfig.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	db, closeDB, err := openDatabase(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	hub := live.NewHub(live.HubConfig{Logger: logging.Component(logger, "live")})

	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{
		Sender: notify.NewWebhookSender(notify.WebhookConfig{
			URL:    appConfig.WebhookURL,
			Logger: logging.Component(logger, "webhook"),
		}),
		Live:           hub,
		QueueSize:      appConfig.NotifierQueueSize,
		DebounceWindow: appConfig.DebounceWindow,
		PreviewBaseURL: appConfig.PreviewBaseURL,
		Logger:         logging.Component(logger, "notify"),
	})
	if err != nil {
		return err
	}

	engine, err := game.NewEngine(game.EngineConfig{
		Database:   db,
		GridWidth:  appConfig.GridWidth,
		GridHeight: appConfig.GridHeight,
		IDProvider: game.NewUUIDProvider(),
		Notifier:   dispatcher,
		Logger:     logging.Component(logger, "game"),
	})
	if err != nil {
		return err
	}

	jobs := scheduler.New(scheduler.Config{Logger: logging.Component(logger, "scheduler")})
	if err := jobs.Register(scheduler.JobLettuceDrop, appConfig.DropSchedule, scheduler.DropJob(engine)); err != nil {
		return err
	}
	if appConfig.PlayerCountSchedule != "" {
		if err := jobs.Register(scheduler.JobPlayerCountLog, appConfig.PlayerCountSchedule, scheduler.PlayerCountJob(hub, engine)); err != nil {
			return err
		}
	}
	engine.AttachDropTrigger(jobs)

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
		Leeway:        sessionClockLeeway,
	})
	if err != nil {
		return err
	}

	identityService, err := identity.NewService(identity.ServiceConfig{
		Directory: engine,
		Logger:    logging.Component(logger, "identity"),
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Engine:           engine,
		SessionValidator: validator,
		Identity:         identityService,
		Hub:              hub,
		Logger:           logging.Component(logger, "http"),
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

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		return dispatcher.Run(groupCtx)
	})
	group.Go(func() error {
		return jobs.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
