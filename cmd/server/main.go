// Package main provides the provisioning gateway entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yourorg/provision-gateway/internal/version"
	"github.com/yourorg/provision-gateway/pkg/api"
	"github.com/yourorg/provision-gateway/pkg/audit"
	"github.com/yourorg/provision-gateway/pkg/auth"
	"github.com/yourorg/provision-gateway/pkg/config"
	"github.com/yourorg/provision-gateway/pkg/db"
	"github.com/yourorg/provision-gateway/pkg/device"
	"github.com/yourorg/provision-gateway/pkg/metrics"
	"github.com/yourorg/provision-gateway/pkg/provision"
	"github.com/yourorg/provision-gateway/pkg/render"
	"github.com/yourorg/provision-gateway/pkg/template"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "provision-gateway",
		Short: "Device auto-provisioning gateway",
		Long:  `Serves rendered configuration files to VoIP phones and ATAs.`,
	}
)

var (
	migrationsDir string

	tokenSubject string
	tokenScopes  []string
	tokenExpiry  time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "", "directory of versioned .sql files applied after auto-migration")

	tokenIssueCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject")
	tokenIssueCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{auth.ScopeProvision}, "granted scopes")
	tokenIssueCmd.Flags().DurationVar(&tokenExpiry, "expiry", 0, "token lifetime (default auth.token_expiry)")
	_ = tokenIssueCmd.MarkFlagRequired("subject")
	tokenCmd.AddCommand(tokenIssueCmd)

	templatesCmd.AddCommand(templatesImportCmd)
	deviceCmd.AddCommand(deviceResetCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(deviceCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the provisioning server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrations()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetInfo().String())
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a signed bearer token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTokenIssue()
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage template documents",
}

var templatesImportCmd = &cobra.Command{
	Use:   "import PATH...",
	Short: "Import template documents from JSON or YAML files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTemplatesImport(args)
	},
}

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Device maintenance",
}

var deviceResetCmd = &cobra.Command{
	Use:   "reset-attempts MAC_OR_IDENTIFIER",
	Short: "Zero the provisioning attempt counter of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDeviceReset(args[0])
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader.SetConfigPath(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize logger
	logger, err := createLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting provisioning gateway",
		zap.String("version", version.Version))

	// Initialize relational store
	database, err := db.NewConnection(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, "", logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Initialize template store
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, closeBackend, err := openTemplateStore(ctx, cfg, database, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	templateStore, err := template.NewCachedStore(backend, cfg.Templates.CacheConfig)
	if err != nil {
		return fmt.Errorf("failed to create template cache: %w", err)
	}
	defer templateStore.Close()

	// Initialize auth
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenExpiry)
	if cfg.Auth.APIKey == "" && cfg.Auth.JWTSecret == "" {
		logger.Warn("no API key or JWT secret configured, downloads are unauthenticated")
	}
	authenticator := auth.NewAuthenticator(&cfg.Auth.Config, jwtManager, logger)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// Initialize audit mirror (optional)
	var sink audit.Sink
	var mirror *audit.Mirror
	if cfg.Quickwit.Enabled {
		quickwitClient := audit.NewQuickwitClient(&cfg.Quickwit, logger)
		mirror = audit.NewMirror(quickwitClient, &cfg.Quickwit, logger)
		sink = mirror

		indexCtx, indexCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := mirror.EnsureIndex(indexCtx); err != nil {
			logger.Warn("failed to ensure audit index", zap.Error(err))
		}
		indexCancel()
	}

	renderer, err := render.NewRenderer(logger)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}

	deviceStore := device.NewStore(database.DB(), logger)
	service := provision.NewService(provision.Deps{
		Auth:    authenticator,
		Devices: device.NewResolver(deviceStore, cfg.Timeouts.DeviceLookup, logger),
		Updater: deviceStore,
		Templates: template.NewResolver(templateStore, template.ResolverOptions{
			AllowExtensionFallback: cfg.Templates.AllowExtensionFallback,
			Timeout:                cfg.Timeouts.TemplateLookup,
		}, logger),
		Renderer: renderer,
		Recorder: audit.NewRecorder(database.DB(), sink, m, logger),
		Metrics:  m,
	}, provision.Timeouts{SideEffect: cfg.Timeouts.SideEffect}, logger)

	server := api.NewServer(&cfg.Server, &api.Dependencies{
		Logger:      logger,
		Provisioner: service,
		Auth:        auth.NewMiddleware(jwtManager, logger),
		Metrics:     m,
		Checks: []api.ReadinessCheck{
			{Name: "database", Check: database.Ping},
			{Name: "templates", Check: templateStore.Ping},
		},
	})

	// Run returns after in-flight requests have drained and the mirror has
	// flushed, so the deferred closes above never race a request.
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func() error
	if mirror != nil {
		cleanup = append(cleanup, mirror.Close)
	}

	err = server.Run(sigCtx, cleanup...)
	logger.Info("provisioning gateway stopped")
	return err
}

func runMigrations() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := createLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	database, err := db.NewConnection(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	return db.RunMigrations(database, migrationsDir, logger)
}

func runTokenIssue() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	expiry := tokenExpiry
	if expiry <= 0 {
		expiry = cfg.Auth.TokenExpiry
	}

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenExpiry)
	token, err := jwtManager.GenerateAPIToken(tokenSubject, tokenScopes, expiry)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runTemplatesImport(paths []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := createLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	var database *db.Connection
	if cfg.Templates.Backend == config.TemplateBackendDatabase {
		database, err = db.NewConnection(&cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		if err := database.AutoMigrate(); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	store, closeStore, err := openTemplateStore(ctx, cfg, database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := template.NewImporter(store, logger).Import(ctx, paths...)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d template(s)\n", n)
	return nil
}

func runDeviceReset(key string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := createLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	database, err := db.NewConnection(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	d, err := device.NewStore(database.DB(), logger).ResetAttempts(context.Background(), strings.TrimSpace(key))
	if err != nil {
		return fmt.Errorf("failed to reset attempts: %w", err)
	}

	fmt.Printf("Reset attempts for %s (%s)\n", d.Identifier, d.MACAddress)
	return nil
}

// openTemplateStore returns the configured template backend and its
// release function
func openTemplateStore(ctx context.Context, cfg *config.Config, database *db.Connection, logger *zap.Logger) (template.Store, func(), error) {
	switch cfg.Templates.Backend {
	case config.TemplateBackendDatabase:
		return template.NewSQLStore(database.DB(), logger), func() {}, nil
	case "", config.TemplateBackendMongo:
		store, err := template.NewMongoStore(ctx, &cfg.MongoDB, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to template store: %w", err)
		}
		return store, func() {
			if err := store.Close(context.Background()); err != nil {
				logger.Warn("failed to disconnect template store", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported template backend %q", cfg.Templates.Backend)
	}
}

func createLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()

	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		var zapLevel zapcore.Level
		if err := zapLevel.UnmarshalText([]byte(cfg.Level)); err == nil {
			zapConfig.Level.SetLevel(zapLevel)
		}
	}

	return zapConfig.Build()
}
