package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/openfroyo/polsync/pkg/engine"
	"github.com/openfroyo/polsync/pkg/schema"
)

// Object is a stored sandbox resource.
type Object struct {
	ID             string                `json:"id"`
	ResourceType   string                `json:"resource_type"`
	ContainerField string                `json:"container_field,omitempty"`
	ContainerValue string                `json:"container_value,omitempty"`
	Name           string                `json:"name"`
	Payload        engine.RemoteResource `json:"payload"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Container returns the object's container selector.
func (o *Object) Container() engine.ContainerSelector {
	return engine.ContainerSelector{Field: o.ContainerField, Value: o.ContainerValue}
}

// ObjectFilter narrows ListObjects.
type ObjectFilter struct {
	ResourceType string
	Container    engine.ContainerSelector
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	// Status keeps only runs with this status when set.
	Status engine.RunStatus

	// Limit caps the number of runs returned, newest first. Zero means 20.
	Limit int
}

// Store is the persistence interface of the sandbox. It stands in for the
// remote management API and journals batch runs.
type Store interface {
	engine.Journal

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Transactions
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Objects
	Client(s *schema.ResourceSchema) engine.Client
	ListObjects(ctx context.Context, filter ObjectFilter) ([]*Object, error)

	// Runs
	GetRun(ctx context.Context, id string) (*engine.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*engine.Run, error)
}
