package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/secfiles/filevault/internal/common"
	"github.com/secfiles/filevault/internal/dbx"
	"github.com/secfiles/filevault/internal/server/models"
)

// PostgresRepository implements file storage over a dbx.DBTX (*sql.DB or
// *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const fileColumns = `id, owner_id, name, content_type, size, storage_key,
	encrypted_key, nonce, digest, status, threat_label, download_count,
	last_access_at, last_access_by, created_at, updated_at, deleted_at`

func (r *PostgresRepository) Create(ctx context.Context, file *models.StoredFile) error {
	query := `
		INSERT INTO files (id, owner_id, name, content_type, size, storage_key,
			encrypted_key, nonce, digest, status, threat_label)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING;
	`
	res, err := r.db.ExecContext(ctx, query,
		file.ID, file.OwnerID, file.Name, file.ContentType, file.Size, file.StorageKey,
		file.EncryptedKey, file.Nonce, file.Digest, file.Status, file.ThreatLabel)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	// 0 rows means the same upload attempt was already committed; retries
	// must not create duplicate rows.
	if n > 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.StoredFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id=$1`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return f, nil
}

// UpdateStatus applies from → to atomically; the WHERE clause on the
// current status is the single serializing point for concurrent scan
// retries against the same record.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from, to models.FileStatus, threatLabel string) error {
	if !from.CanTransition(to) {
		return common.ErrInvalidTransition
	}
	query := `
		UPDATE files SET status=$1, threat_label=$2, updated_at=now()
		WHERE id=$3 AND status=$4
	`
	res, err := r.db.ExecContext(ctx, query, to, threatLabel, id, from)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrInvalidTransition
	}
	return nil
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, id string) error {
	query := `
		UPDATE files SET status=$1, deleted_at=now(), updated_at=now()
		WHERE id=$2 AND status IN ($3, $4)
	`
	res, err := r.db.ExecContext(ctx, query,
		models.FileStatusDeleted, id, models.FileStatusClean, models.FileStatusQuarantined)
	if err != nil {
		return fmt.Errorf("failed to soft-delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrInvalidTransition
	}
	return nil
}

func (r *PostgresRepository) RecordAccess(ctx context.Context, id string, actorID string) error {
	query := `
		UPDATE files SET download_count = download_count + 1,
			last_access_at=now(), last_access_by=$1, updated_at=now()
		WHERE id=$2
	`
	res, err := r.db.ExecContext(ctx, query, actorID, id)
	if err != nil {
		return fmt.Errorf("failed to record access: %w", err)
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

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.StoredFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files
		WHERE owner_id=$1 AND deleted_at IS NULL ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

func (r *PostgresRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.StoredFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files
		WHERE status=$1 AND updated_at < $2 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, models.FileStatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.StoredFile, error) {
	var f models.StoredFile
	var actor sql.NullString
	err := row.Scan(&f.ID, &f.OwnerID, &f.Name, &f.ContentType, &f.Size, &f.StorageKey,
		&f.EncryptedKey, &f.Nonce, &f.Digest, &f.Status, &f.ThreatLabel, &f.DownloadCount,
		&f.LastAccessAt, &actor, &f.CreatedAt, &f.UpdatedAt, &f.DeletedAt)
	if err != nil {
		return nil, err
	}
	f.LastAccessBy = actor.String
	return &f, nil
}

func collectFiles(rows *sql.Rows) ([]*models.StoredFile, error) {
	var result []*models.StoredFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
