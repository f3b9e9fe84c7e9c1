package files

import (
	"context"
	"time"

	"github.com/secfiles/filevault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, file *models.StoredFile) error
	GetByID(ctx context.Context, id string) (*models.StoredFile, error)
	// UpdateStatus moves a file between lifecycle states. The update is
	// guarded by the current status in SQL so concurrent retries cannot
	// produce an illegal transition; a guard miss returns
	// common.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, from, to models.FileStatus, threatLabel string) error
	// SoftDelete marks the row deleted and stamps deleted_at; rows are
	// never physically removed.
	SoftDelete(ctx context.Context, id string) error
	// RecordAccess bumps the download counter and last-access metadata.
	RecordAccess(ctx context.Context, id string, actorID string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*models.StoredFile, error)
	// ListPendingOlderThan returns pending files whose last update is older
	// than the cutoff, for scanner re-tries.
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.StoredFile, error)
}
