//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/engramdb/engram/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideDomainConfig,
	ProvideMetrics,
	ProvideStore,
	ProvideMemoryService,
	ProvideRelationshipService,
	ProvideMigrationManager,
	ProvideErrorHandler,
	ProvideMemoryHandler,
	ProvideRelationshipHandler,
	ProvideAdminHandler,
	ProvideRouter,
	ProvideHTTPServer,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil // Wire will replace this
}
