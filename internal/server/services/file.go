package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/secfiles/filevault/internal/common"
	"github.com/secfiles/filevault/internal/cryptox"
	"github.com/secfiles/filevault/internal/dbx"
	"github.com/secfiles/filevault/internal/hashx"
	"github.com/secfiles/filevault/internal/logging"
	sc "github.com/secfiles/filevault/internal/server/config"
	"github.com/secfiles/filevault/internal/server/models"
	"github.com/secfiles/filevault/internal/server/repositories/repomanager"
	"github.com/secfiles/filevault/internal/server/scan"
	"github.com/secfiles/filevault/internal/server/storage"
	"github.com/secfiles/filevault/internal/server/validation"
)

// FileService owns the StoredFile lifecycle: create → encrypt → scan →
// persist → quarantine/available → soft-delete. Every decision it makes is
// recorded in the audit trail, whatever the outcome.
type FileService struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	validator *validation.Validator
	scanner   scan.Scanner
	blobs     storage.BlobStore
	audit     *AuditService
	logger    logging.Logger
	config    *sc.Config
}

func NewFileService(db *sql.DB, repos repomanager.RepositoryManager, validator *validation.Validator,
	scanner scan.Scanner, blobs storage.BlobStore, audit *AuditService,
	logger logging.Logger, config *sc.Config) *FileService {
	return &FileService{
		db:        db,
		repos:     repos,
		validator: validator,
		scanner:   scanner,
		blobs:     blobs,
		audit:     audit,
		logger:    logger.With("module", "files"),
		config:    config,
	}
}

// Upload runs the strictly ordered ingest pipeline: validate → digest →
// encrypt → scan → commit. The digest is taken over plaintext exactly once
// here and never recomputed from ciphertext.
//
// Outcomes:
//   - validation failure: nothing persisted, ErrorValidation.
//   - scanner infected: row committed as quarantined, ErrThreatDetected.
//   - scanner unavailable after retries: row committed as pending
//     (fail-closed), the file and ErrScanUnavailable are both returned so
//     the caller knows it is not yet downloadable.
//   - clean: row committed as clean.
func (s *FileService) Upload(ctx context.Context, actor Actor, name, contentType string,
	data []byte, declaredSize int64) (*models.StoredFile, error) {

	res, err := s.validator.Validate(data, contentType, name, declaredSize)
	if err != nil {
		s.audit.Record(ctx, &models.AuditEvent{
			Category: models.AuditFile,
			Severity: models.SeverityMedium,
			ActorID:  actor.ID,
			Action:   "file.upload_rejected",
			Detail:   map[string]any{"name": name, "reason": err.Error()},
		})
		return nil, err
	}

	digest := hashx.SumSHA256(data)

	sealed, err := cryptox.Encrypt(data)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	verdict, err := s.scanner.Scan(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	file := &models.StoredFile{
		ID:           uuid.NewString(),
		OwnerID:      actor.ID,
		Name:         res.SanitizedName,
		ContentType:  contentType,
		Size:         declaredSize,
		StorageKey:   storage.NewStorageKey(),
		EncryptedKey: sealed.Key,
		Nonce:        sealed.Nonce,
		Digest:       digest,
	}

	switch verdict.Status {
	case scan.StatusClean:
		file.Status = models.FileStatusClean
	case scan.StatusInfected:
		file.Status = models.FileStatusQuarantined
		file.ThreatLabel = verdict.Threat
	case scan.StatusUnavailable:
		file.Status = models.FileStatusPending
	default:
		return nil, fmt.Errorf("%w: unknown verdict %q", common.ErrorInternal, verdict.Status)
	}

	if err := s.blobs.Put(ctx, file.StorageKey, sealed.Ciphertext); err != nil {
		return nil, err
	}

	if err := s.repos.Files(s.db).Create(ctx, file); err != nil {
		// no pending record may be left pointing at orphaned ciphertext,
		// even when the caller has already gone away
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), file.StorageKey); delErr != nil {
			s.logger.Error(ctx, "orphan ciphertext cleanup failed",
				"storage_key", file.StorageKey, "error", delErr.Error())
		}
		return nil, fmt.Errorf("commit file record: %w", err)
	}

	switch file.Status {
	case models.FileStatusQuarantined:
		s.audit.Record(ctx, &models.AuditEvent{
			Category:    models.AuditSecurity,
			Severity:    models.SeverityCritical,
			ActorID:     actor.ID,
			SubjectType: "file",
			SubjectID:   file.ID,
			Action:      "file.quarantined",
			Detail:      map[string]any{"name": file.Name, "threat": file.ThreatLabel},
			Incident:    true,
		})
		return file, common.ErrThreatDetected
	case models.FileStatusPending:
		s.audit.Record(ctx, &models.AuditEvent{
			Category:    models.AuditFile,
			Severity:    models.SeverityHigh,
			ActorID:     actor.ID,
			SubjectType: "file",
			SubjectID:   file.ID,
			Action:      "file.scan_unavailable",
			Detail:      map[string]any{"name": file.Name, "detail": verdict.Detail},
		})
		return file, common.ErrScanUnavailable
	default:
		s.audit.Record(ctx, &models.AuditEvent{
			Category:    models.AuditFile,
			Severity:    models.SeverityLow,
			ActorID:     actor.ID,
			SubjectType: "file",
			SubjectID:   file.ID,
			Action:      "file.uploaded",
			Detail:      map[string]any{"name": file.Name, "size": file.Size, "warnings": res.Warnings},
		})
		return file, nil
	}
}

// Download returns the decrypted content for the owner (or an admin).
// Quarantined files are denied for everyone, owner included.
func (s *FileService) Download(ctx context.Context, actor Actor, fileID string) (*models.StoredFile, []byte, error) {
	file, err := s.repos.Files(s.db).GetByID(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}

	if file.OwnerID != actor.ID && !actor.IsAdmin() {
		s.recordDenied(ctx, actor, file, "not owner")
		return nil, nil, common.ErrorForbidden
	}

	if !file.Downloadable() {
		s.recordDenied(ctx, actor, file, "status "+string(file.Status))
		switch file.Status {
		case models.FileStatusQuarantined:
			return nil, nil, common.ErrorForbidden
		case models.FileStatusPending:
			return nil, nil, common.ErrScanUnavailable
		default:
			return nil, nil, common.ErrorNotFound
		}
	}

	plaintext, err := s.fetchPlaintext(ctx, file)
	if err != nil {
		return nil, nil, err
	}

	if err := s.repos.Files(s.db).RecordAccess(ctx, file.ID, actor.ID); err != nil {
		return nil, nil, fmt.Errorf("record access: %w", err)
	}

	s.audit.Record(ctx, &models.AuditEvent{
		Category:    models.AuditFile,
		Severity:    models.SeverityLow,
		ActorID:     actor.ID,
		SubjectType: "file",
		SubjectID:   file.ID,
		Action:      "file.downloaded",
	})
	return file, plaintext, nil
}

// fetchPlaintext loads and opens the ciphertext blob and re-checks the
// ingest digest. Any mismatch is flagged for admin review and the content
// is never returned.
func (s *FileService) fetchPlaintext(ctx context.Context, file *models.StoredFile) ([]byte, error) {
	ciphertext, err := s.blobs.Get(ctx, file.StorageKey)
	if err != nil {
		return nil, err
	}

	plaintext, err := cryptox.Decrypt(ciphertext, file.EncryptedKey, file.Nonce)
	if err != nil {
		if errors.Is(err, common.ErrIntegrityViolation) {
			s.recordCorruption(ctx, file, "authentication tag mismatch")
		}
		return nil, err
	}

	if !hashx.Verify(plaintext, file.Digest) {
		s.recordCorruption(ctx, file, "plaintext digest mismatch")
		return nil, common.ErrIntegrityViolation
	}
	return plaintext, nil
}

// Get returns the record for the owner or an admin. It is a pure read:
// no access counter, no audit row, and quarantined metadata stays visible
// even though the content never is.
func (s *FileService) Get(ctx context.Context, actor Actor, fileID string) (*models.StoredFile, error) {
	file, err := s.repos.Files(s.db).GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.OwnerID != actor.ID && !actor.IsAdmin() {
		return nil, common.ErrorForbidden
	}
	return file, nil
}

// Status returns the lifecycle state visible to the owner or an admin.
func (s *FileService) Status(ctx context.Context, actor Actor, fileID string) (models.FileStatus, error) {
	file, err := s.Get(ctx, actor, fileID)
	if err != nil {
		return "", err
	}
	return file.Status, nil
}

// List returns the actor's non-deleted files.
func (s *FileService) List(ctx context.Context, actor Actor) ([]*models.StoredFile, error) {
	return s.repos.Files(s.db).ListByOwner(ctx, actor.ID)
}

// Delete soft-deletes the file and revokes all its share grants in a
// single transaction, so no active grant can outlive its file.
func (s *FileService) Delete(ctx context.Context, actor Actor, fileID string) error {
	file, err := s.repos.Files(s.db).GetByID(ctx, fileID)
	if err != nil {
		return err
	}
	if file.OwnerID != actor.ID && !actor.IsAdmin() {
		return common.ErrorForbidden
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Files(tx).SoftDelete(ctx, fileID); err != nil {
			return err
		}
		return s.repos.Shares(tx).DeactivateByFile(ctx, fileID)
	})
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}

	s.audit.Record(ctx, &models.AuditEvent{
		Category:    models.AuditFile,
		Severity:    models.SeverityMedium,
		ActorID:     actor.ID,
		SubjectType: "file",
		SubjectID:   fileID,
		Action:      "file.deleted",
	})
	return nil
}

// RetryPending re-screens files stuck in pending because the scanner was
// unavailable at ingest. Each attempt is audited; clean promotes, infected
// quarantines, unavailable leaves the record pending for the next sweep.
func (s *FileService) RetryPending(ctx context.Context) error {
	cutoff := nowFunc().Add(-s.config.PendingRetryAge)
	pending, err := s.repos.Files(s.db).ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, file := range pending {
		if err := s.rescan(ctx, file); err != nil {
			s.logger.Error(ctx, "pending rescan failed", "file_id", file.ID, "error", err.Error())
		}
	}
	return nil
}

func (s *FileService) rescan(ctx context.Context, file *models.StoredFile) error {
	plaintext, err := s.fetchPlaintext(ctx, file)
	if err != nil {
		return err
	}

	verdict, err := s.scanner.Scan(ctx, plaintext)
	if err != nil {
		return err
	}

	repo := s.repos.Files(s.db)
	switch verdict.Status {
	case scan.StatusClean:
		if err := repo.UpdateStatus(ctx, file.ID, models.FileStatusPending, models.FileStatusClean, ""); err != nil {
			return err
		}
		s.audit.Record(ctx, &models.AuditEvent{
			Category:    models.AuditFile,
			Severity:    models.SeverityLow,
			SubjectType: "file",
			SubjectID:   file.ID,
			Action:      "file.rescan_clean",
		})
	case scan.StatusInfected:
		if err := repo.UpdateStatus(ctx, file.ID, models.FileStatusPending, models.FileStatusQuarantined, verdict.Threat); err != nil {
			return err
		}
		s.audit.Record(ctx, &models.AuditEvent{
			Category:    models.AuditSecurity,
			Severity:    models.SeverityCritical,
			SubjectType: "file",
			SubjectID:   file.ID,
			Action:      "file.quarantined",
			Detail:      map[string]any{"threat": verdict.Threat},
			Incident:    true,
		})
	case scan.StatusUnavailable:
		s.audit.Record(ctx, &models.AuditEvent{
			Category:    models.AuditFile,
			Severity:    models.SeverityHigh,
			SubjectType: "file",
			SubjectID:   file.ID,
			Action:      "file.scan_unavailable",
			Detail:      map[string]any{"detail": verdict.Detail},
		})
	}
	return nil
}

func (s *FileService) recordDenied(ctx context.Context, actor Actor, file *models.StoredFile, reason string) {
	s.audit.Record(ctx, &models.AuditEvent{
		Category:    models.AuditSecurity,
		Severity:    models.SeverityMedium,
		ActorID:     actor.ID,
		SubjectType: "file",
		SubjectID:   file.ID,
		Action:      "file.download_denied",
		Detail:      map[string]any{"reason": reason},
		Incident:    true,
	})
}

func (s *FileService) recordCorruption(ctx context.Context, file *models.StoredFile, reason string) {
	s.audit.Record(ctx, &models.AuditEvent{
		Category:    models.AuditSecurity,
		Severity:    models.SeverityCritical,
		SubjectType: "file",
		SubjectID:   file.ID,
		Action:      "file.integrity_violation",
		Detail:      map[string]any{"reason": reason},
		Incident:    true,
	})
}
