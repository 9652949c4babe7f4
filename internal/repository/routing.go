package repository

import (
	"context"

	"go.uber.org/zap"

	"github.com/storesync/client/internal/models"
	"github.com/storesync/client/internal/remote"
)

// SourceSelector reports which backend the entity repositories should
// target. Satisfied by the datasource manager.
type SourceSelector interface {
	DataSource() models.DataSource
}

// RemoteAPI is the slice of the remote client the entity repositories
// use.
type RemoteAPI interface {
	List(ctx context.Context, resource string) ([]models.Record, error)
	Get(ctx context.Context, resource, id string) (models.Record, error)
	Create(ctx context.Context, resource string, record any) (models.Record, error)
	Update(ctx context.Context, resource, id string, record any) (models.Record, error)
	Delete(ctx context.Context, resource, id string) error
}

// shouldFallBack reports whether a remote failure warrants retrying the
// operation against the local replica. Auth and data errors surface to
// the caller; only transport and server faults degrade to local.
func shouldFallBack(err error) bool {
	kind := remote.KindOf(err)
	return kind == remote.KindConnectivity || kind == remote.KindServer
}

func logFallback(log *zap.Logger, resource, op string, err error) {
	log.Warn("remote unavailable, serving from local replica",
		zap.String("resource", resource),
		zap.String("operation", op),
		zap.Error(err),
	)
}
