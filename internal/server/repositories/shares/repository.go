package shares

import (
	"context"

	"github.com/secfiles/filevault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, grant *models.ShareGrant) error
	GetByToken(ctx context.Context, token string) (*models.ShareGrant, error)
	// Consume is the only download-count mutator: a single conditional
	// update that increments the counter while the grant is active, not
	// expired, and below its max. Returns the updated grant, or
	// common.ErrGrantNotConsumable when no usable row matched; two
	// concurrent consumers of a grant with one remaining download cannot
	// both succeed.
	Consume(ctx context.Context, token string) (*models.ShareGrant, error)
	// Revoke clears active irreversibly. Idempotent: revoking an already
	// revoked grant succeeds without touching revoked_at again.
	Revoke(ctx context.Context, token string) error
	// DeactivateByFile bulk-revokes all grants for a file; called in the
	// same transaction as the file's soft delete.
	DeactivateByFile(ctx context.Context, fileID string) error
	ListByFile(ctx context.Context, fileID string) ([]*models.ShareGrant, error)
}
