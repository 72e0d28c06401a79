// Package persistence selects and constructs storage engines.
package persistence

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/engramdb/engram/domain/config"
	"github.com/engramdb/engram/infrastructure/persistence/abstractions"
	"github.com/engramdb/engram/infrastructure/persistence/dynamodb"
	"github.com/engramdb/engram/infrastructure/persistence/remote"
	"github.com/engramdb/engram/infrastructure/persistence/sqlite"
	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

// Backend type names accepted by the selector
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
	BackendRemote   = "remote"
)

// BackendConfig describes one storage backend. Fields are engine-specific:
// Path for sqlite, Table/Region/Endpoint for dynamodb, Endpoint/Token for
// remote.
type BackendConfig struct {
	Type     string `json:"type"`
	Path     string `json:"path,omitempty"`
	Table    string `json:"table,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Token    string `json:"token,omitempty"`
}

// NewGraphStore builds an unconnected engine from a backend config. An
// unknown type is a Validation error.
func NewGraphStore(cfg BackendConfig, domainCfg *config.DomainConfig, logger *zap.Logger) (abstractions.GraphStore, error) {
	switch cfg.Type {
	case BackendSQLite:
		if cfg.Path == "" {
			return nil, pkgerrors.NewValidationError("sqlite backend requires a path")
		}
		return sqlite.New(cfg.Path, domainCfg, logger), nil

	case BackendDynamoDB:
		if cfg.Table == "" {
			return nil, pkgerrors.NewValidationError("dynamodb backend requires a table")
		}
		return dynamodb.New(dynamodb.Options{
			Table:    cfg.Table,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		}, domainCfg, logger), nil

	case BackendRemote:
		if cfg.Endpoint == "" {
			return nil, pkgerrors.NewValidationError("remote backend requires an endpoint")
		}
		return remote.New(remote.Options{
			BaseURL: cfg.Endpoint,
			Token:   cfg.Token,
		}, logger), nil

	default:
		return nil, pkgerrors.NewValidationError(
			fmt.Sprintf("unknown backend type %q (expected sqlite, dynamodb, or remote)", cfg.Type))
	}
}
