// Package di wires the application together with google/wire
package di

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/engramdb/engram/application/migration"
	"github.com/engramdb/engram/application/services"
	domainconfig "github.com/engramdb/engram/domain/config"
	"github.com/engramdb/engram/infrastructure/config"
	"github.com/engramdb/engram/infrastructure/persistence"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	"github.com/engramdb/engram/interfaces/http/rest"
	"github.com/engramdb/engram/interfaces/http/rest/handlers"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
	"github.com/engramdb/engram/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config        *config.Config
	Logger        *zap.Logger
	Store         abstractions.GraphStore
	Memories      *services.MemoryService
	Relationships *services.RelationshipService
	Migrator      *migration.Manager
	Metrics       *observability.Metrics
	Server        *http.Server
}

// ProvideLogger creates the process logger
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

// ProvideDomainConfig derives graph behavior limits from server configuration
func ProvideDomainConfig(cfg *config.Config) (*domainconfig.DomainConfig, error) {
	domainCfg := domainconfig.DefaultDomainConfig()
	domainCfg.AllowCycles = cfg.AllowCycles
	if err := domainCfg.Validate(); err != nil {
		return nil, err
	}
	return domainCfg, nil
}

// ProvideMetrics creates the Prometheus registry and instruments
func ProvideMetrics() *observability.Metrics {
	return observability.NewMetrics()
}

// ProvideStore builds the configured storage engine. The store is created
// unconnected; main connects it and initializes the schema before serving.
func ProvideStore(cfg *config.Config, domainCfg *domainconfig.DomainConfig, logger *zap.Logger) (abstractions.GraphStore, error) {
	return persistence.NewGraphStore(cfg.Backend, domainCfg, logger)
}

// ProvideMemoryService creates the memory use cases
func ProvideMemoryService(store abstractions.GraphStore, cfg *config.Config, domainCfg *domainconfig.DomainConfig, logger *zap.Logger, metrics *observability.Metrics) *services.MemoryService {
	return services.NewMemoryService(store, cfg.Backend.Type, domainCfg, logger, metrics)
}

// ProvideRelationshipService creates the relationship use cases
func ProvideRelationshipService(store abstractions.GraphStore, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) *services.RelationshipService {
	return services.NewRelationshipService(store, cfg.Backend.Type, logger, metrics)
}

// ProvideMigrationManager creates the migration manager
func ProvideMigrationManager(logger *zap.Logger, metrics *observability.Metrics) *migration.Manager {
	return migration.NewManager(logger, metrics)
}

// ProvideErrorHandler creates the HTTP error handler; development environments
// get error details in responses
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *pkgerrors.ErrorHandler {
	return pkgerrors.NewErrorHandler(logger, cfg.IsDevelopment())
}

// ProvideMemoryHandler creates the memory HTTP handler
func ProvideMemoryHandler(service *services.MemoryService, store abstractions.GraphStore, errorHandler *pkgerrors.ErrorHandler) *handlers.MemoryHandler {
	return handlers.NewMemoryHandler(service, store, errorHandler)
}

// ProvideRelationshipHandler creates the relationship HTTP handler
func ProvideRelationshipHandler(service *services.RelationshipService, store abstractions.GraphStore, errorHandler *pkgerrors.ErrorHandler) *handlers.RelationshipHandler {
	return handlers.NewRelationshipHandler(service, store, errorHandler)
}

// ProvideAdminHandler creates the admin HTTP handler
func ProvideAdminHandler(store abstractions.GraphStore, migrator *migration.Manager, errorHandler *pkgerrors.ErrorHandler, logger *zap.Logger) *handlers.AdminHandler {
	return handlers.NewAdminHandler(store, migrator, errorHandler, logger)
}

// ProvideRouter creates the configured route tree
func ProvideRouter(
	memories *handlers.MemoryHandler,
	relationships *handlers.RelationshipHandler,
	admin *handlers.AdminHandler,
	cfg *config.Config,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *rest.Router {
	return rest.NewRouter(memories, relationships, admin, logger, metrics, cfg.JWTSecret, cfg.CORSOrigins)
}

// ProvideHTTPServer creates the HTTP server with sane timeouts
func ProvideHTTPServer(router *rest.Router, cfg *config.Config) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
