package shares

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/secfiles/filevault/internal/common"
	"github.com/secfiles/filevault/internal/dbx"
	"github.com/secfiles/filevault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const grantColumns = `token, file_id, issuer_id, expires_at, max_downloads,
	download_count, password_salt, password_verifier, allow_download, active,
	created_at, revoked_at, last_access_at`

func (r *PostgresRepository) Create(ctx context.Context, grant *models.ShareGrant) error {
	query := `
		INSERT INTO share_grants (token, file_id, issuer_id, expires_at,
			max_downloads, password_salt, password_verifier, allow_download, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
	`
	res, err := r.db.ExecContext(ctx, query,
		grant.Token, grant.FileID, grant.IssuerID, grant.ExpiresAt,
		grant.MaxDownloads, grant.PasswordSalt, grant.PasswordVerifier, grant.AllowDownload)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*models.ShareGrant, error) {
	query := `SELECT ` + grantColumns + ` FROM share_grants WHERE token=$1`

	g, err := scanGrant(r.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select grant: %w", err)
	}
	return g, nil
}

// Consume increments the download counter in one conditional update. The
// predicates mirror the usability invariant (active, unexpired, count below
// max, download allowed); losing the race to the last remaining download
// means matching zero rows, which surfaces as ErrGrantNotConsumable.
func (r *PostgresRepository) Consume(ctx context.Context, token string) (*models.ShareGrant, error) {
	query := `
		UPDATE share_grants
		SET download_count = download_count + 1, last_access_at = now()
		WHERE token=$1
			AND active
			AND now() < expires_at
			AND download_count < max_downloads
			AND allow_download
		RETURNING ` + grantColumns

	g, err := scanGrant(r.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrGrantNotConsumable
		}
		return nil, fmt.Errorf("failed to consume grant: %w", err)
	}
	return g, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, token string) error {
	// revoked_at is written once; repeating the call leaves it untouched
	query := `
		UPDATE share_grants
		SET active = FALSE, revoked_at = COALESCE(revoked_at, now())
		WHERE token=$1
	`
	res, err := r.db.ExecContext(ctx, query, token)
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) DeactivateByFile(ctx context.Context, fileID string) error {
	query := `
		UPDATE share_grants
		SET active = FALSE, revoked_at = COALESCE(revoked_at, now())
		WHERE file_id=$1 AND active
	`
	if _, err := r.db.ExecContext(ctx, query, fileID); err != nil {
		return fmt.Errorf("failed to deactivate grants: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByFile(ctx context.Context, fileID string) ([]*models.ShareGrant, error) {
	query := `SELECT ` + grantColumns + ` FROM share_grants
		WHERE file_id=$1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to select grants: %w", err)
	}
	defer rows.Close()

	var result []*models.ShareGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (*models.ShareGrant, error) {
	var g models.ShareGrant
	err := row.Scan(&g.Token, &g.FileID, &g.IssuerID, &g.ExpiresAt, &g.MaxDownloads,
		&g.DownloadCount, &g.PasswordSalt, &g.PasswordVerifier, &g.AllowDownload, &g.Active,
		&g.CreatedAt, &g.RevokedAt, &g.LastAccessAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}
