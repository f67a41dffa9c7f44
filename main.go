package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/dbower44022/CRMExtender-sub005/pkg/catalog"
	"github.com/dbower44022/CRMExtender-sub005/pkg/config"
	"github.com/dbower44022/CRMExtender-sub005/pkg/database"
	"github.com/dbower44022/CRMExtender-sub005/pkg/handlers"
	"github.com/dbower44022/CRMExtender-sub005/pkg/identity"
	"github.com/dbower44022/CRMExtender-sub005/pkg/logging"
	"github.com/dbower44022/CRMExtender-sub005/pkg/repositories"
	"github.com/dbower44022/CRMExtender-sub005/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load("config.yaml", Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Duration("query_timeout", cfg.Engine.QueryTimeout()),
		zap.Int("row_cap", cfg.Engine.RowCap()))

	ctx := context.Background()

	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// The virtual schema and identity registry load once per process; type
	// registration is rare and goes through the repository plus a restart or
	// reload.
	types, err := repositories.LoadAllEntityTypes(ctx, db)
	if err != nil {
		logger.Fatal("Failed to load entity types", zap.Error(err))
	}
	cat := catalog.New(types)
	ids := identity.NewRegistry()
	for _, et := range types {
		ids.Load(et)
	}
	logger.Info("Virtual schema loaded", zap.Int("entity_types", len(types)))

	translator := services.NewTranslator(cat, ids, logger)
	registryGen := services.NewRegistryGenerator(cat, logger)
	preview := services.NewPreviewResolver(cat, ids, logger)
	executor := services.NewExecutor(repositories.NewQueryRunner(), &cfg.Engine, logger)
	traceback := services.NewTraceBackResolver(cat, repositories.NewRecordRepository(), logger)
	notifier := services.NewSchemaNotifier(logger)

	dataSources := services.NewDataSourceService(
		repositories.NewDataSourceRepository(),
		translator, registryGen, preview, executor, traceback, notifier,
		services.OpenPermissions{}, logger,
	)

	mux := http.NewServeMux()
	tenant := handlers.NewTenantMiddleware(database.NewScopeFunc(db), logger)

	handlers.NewHealthHandler(cfg).RegisterRoutes(mux)
	handlers.NewDataSourceHandler(dataSources, logger).RegisterRoutes(mux, tenant)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting data source engine", zap.String("addr", addr), zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
