package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-engine/pkg/adapters/datasource"
)

// DatabaseRegistration is the set of coordinates the teacher's
// project/datasource-UUID-scoped DatasourceAdapterFactory needs, resolved
// from the core's flat database_id.
type DatabaseRegistration struct {
	DatasourceType string
	Config         map[string]any
	ProjectID      uuid.UUID
	DatasourceID   uuid.UUID
	UserID         string
}

// DatabaseRegistry resolves a database_id to the coordinates needed to
// build a live schema discoverer or query executor. Concrete
// implementations back this with whatever store tracks registered
// datasources; the core itself is agnostic to that store's shape.
type DatabaseRegistry interface {
	Resolve(ctx context.Context, databaseID string) (DatabaseRegistration, error)
}

// AdapterBridge implements both selector.SchemaProvider and refiner.Executor
// over a DatabaseRegistry + datasource.DatasourceAdapterFactory, so the
// selector and refiner packages never need to know about project/datasource
// UUIDs or the registry that tracks them.
type AdapterBridge struct {
	registry DatabaseRegistry
	factory  datasource.DatasourceAdapterFactory
}

// NewAdapterBridge wires a DatabaseRegistry and DatasourceAdapterFactory into
// a single value passable as both selector.New's SchemaProvider and
// refiner.New's Executor argument.
func NewAdapterBridge(registry DatabaseRegistry, factory datasource.DatasourceAdapterFactory) *AdapterBridge {
	return &AdapterBridge{registry: registry, factory: factory}
}

// SchemaDiscoverer satisfies selector.SchemaProvider.
func (b *AdapterBridge) SchemaDiscoverer(ctx context.Context, databaseID string) (datasource.SchemaDiscoverer, error) {
	reg, err := b.registry.Resolve(ctx, databaseID)
	if err != nil {
		return nil, fmt.Errorf("resolve database registration: %w", err)
	}
	return b.factory.NewSchemaDiscoverer(ctx, reg.DatasourceType, reg.Config, reg.ProjectID, reg.DatasourceID, reg.UserID)
}

// QueryExecutor satisfies refiner.Executor.
func (b *AdapterBridge) QueryExecutor(ctx context.Context, databaseID string) (datasource.QueryExecutor, error) {
	reg, err := b.registry.Resolve(ctx, databaseID)
	if err != nil {
		return nil, fmt.Errorf("resolve database registration: %w", err)
	}
	return b.factory.NewQueryExecutor(ctx, reg.DatasourceType, reg.Config, reg.ProjectID, reg.DatasourceID, reg.UserID)
}
