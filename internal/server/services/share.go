package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/secfiles/filevault/internal/common"
	"github.com/secfiles/filevault/internal/logging"
	sc "github.com/secfiles/filevault/internal/server/config"
	"github.com/secfiles/filevault/internal/server/models"
	"github.com/secfiles/filevault/internal/server/repositories/repomanager"
)

// tokenBytes gives ~43 URL-safe characters, comfortably above the minimum
// needed to make guessing infeasible.
const tokenBytes = 32

// SharePolicy is the owner-supplied access policy for a new grant.
type SharePolicy struct {
	ExpiresIn     time.Duration
	MaxDownloads  int64
	Password      string
	AllowDownload bool
}

// SharePayload is what a successful anonymous access returns.
type SharePayload struct {
	Name        string
	ContentType string
	Data        []byte
}

// DenialError is a share denial with its precise reason. The reason is
// recorded in the audit trail and shown to owners/admins; anonymous
// callers unwrap to the generic common.ErrShareUnavailable.
type DenialError struct {
	Reason models.DenialReason
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("share denied: %s", e.Reason)
}

func (e *DenialError) Unwrap() error {
	return common.ErrShareUnavailable
}

// ShareService issues, validates, consumes and revokes share grants. It
// never accepts caller-supplied tokens.
type ShareService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	files  *FileService
	audit  *AuditService
	logger logging.Logger
	config *sc.Config
}

func NewShareService(db *sql.DB, repos repomanager.RepositoryManager,
	files *FileService, audit *AuditService, logger logging.Logger, config *sc.Config) *ShareService {
	return &ShareService{
		db:     db,
		repos:  repos,
		files:  files,
		audit:  audit,
		logger: logger.With("module", "shares"),
		config: config,
	}
}

// Issue creates a grant for a clean file the actor owns. Expiry and
// download caps are clamped against the configured maxima; violating them
// is a validation error, not a silent clamp.
func (s *ShareService) Issue(ctx context.Context, actor Actor, fileID string, policy SharePolicy) (*models.ShareGrant, error) {
	file, err := s.repos.Files(s.db).GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.OwnerID != actor.ID && !actor.IsAdmin() {
		return nil, common.ErrorForbidden
	}
	if !file.Downloadable() {
		return nil, fmt.Errorf("%w: file status %s cannot be shared", common.ErrorValidation, file.Status)
	}

	if policy.ExpiresIn <= 0 || policy.ExpiresIn > s.config.ShareMaxTTL {
		return nil, fmt.Errorf("%w: expiry must be within (0, %s]", common.ErrorValidation, s.config.ShareMaxTTL)
	}
	if policy.MaxDownloads <= 0 || policy.MaxDownloads > s.config.ShareMaxDownloads {
		return nil, fmt.Errorf("%w: max downloads must be within [1, %d]", common.ErrorValidation, s.config.ShareMaxDownloads)
	}

	token, err := common.MakeURLSafeToken(tokenBytes)
	if err != nil {
		return nil, common.ErrorInternal
	}

	grant := &models.ShareGrant{
		Token:         token,
		FileID:        fileID,
		IssuerID:      actor.ID,
		ExpiresAt:     nowFunc().Add(policy.ExpiresIn),
		MaxDownloads:  policy.MaxDownloads,
		AllowDownload: policy.AllowDownload,
		Active:        true,
	}

	if policy.Password != "" {
		grant.PasswordSalt = common.GenerateRandByteArray(16)
		grant.PasswordVerifier = passwordVerifier(policy.Password, grant.PasswordSalt)
	}

	if err := s.repos.Shares(s.db).Create(ctx, grant); err != nil {
		return nil, fmt.Errorf("create grant: %w", err)
	}

	s.audit.Record(ctx, &models.AuditEvent{
		Category:    models.AuditShare,
		Severity:    models.SeverityLow,
		ActorID:     actor.ID,
		SubjectType: "share",
		SubjectID:   shortToken(grant.Token),
		Action:      "share.issued",
		Detail: map[string]any{
			"file_id":        fileID,
			"expires_at":     grant.ExpiresAt,
			"max_downloads":  grant.MaxDownloads,
			"password":       grant.PasswordProtected(),
			"allow_download": grant.AllowDownload,
		},
	})
	return grant, nil
}

// Validate evaluates the grant checks in their fixed order: exists and
// active → not expired → count below max → download permission → password.
// The first failing check short-circuits with its specific reason; every
// denial is audited as a security incident.
func (s *ShareService) Validate(ctx context.Context, token, suppliedPassword, clientAddr string) (*models.ShareGrant, error) {
	grant, err := s.repos.Shares(s.db).GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// unknown tokens are guessing attempts; audit them without a grant subject
			s.recordDenial(ctx, token, clientAddr, "UNKNOWN_TOKEN")
			return nil, common.ErrShareUnavailable
		}
		return nil, err
	}

	if reason, ok := s.checkGrant(grant, suppliedPassword); !ok {
		s.recordDenial(ctx, token, clientAddr, string(reason))
		return nil, &DenialError{Reason: reason}
	}
	return grant, nil
}

func (s *ShareService) checkGrant(grant *models.ShareGrant, suppliedPassword string) (models.DenialReason, bool) {
	now := nowFunc()
	if !grant.Usable(now) {
		switch {
		case !grant.Active:
			return models.DenialRevoked, false
		case !now.Before(grant.ExpiresAt):
			return models.DenialExpired, false
		case grant.DownloadCount >= grant.MaxDownloads:
			return models.DenialExhausted, false
		default:
			return models.DenialDownloadDisabled, false
		}
	}
	if grant.PasswordProtected() {
		candidate := passwordVerifier(suppliedPassword, grant.PasswordSalt)
		if subtle.ConstantTimeCompare(candidate, grant.PasswordVerifier) != 1 {
			return models.DenialBadPassword, false
		}
	}
	return "", true
}

// Access validates the token, consumes one download atomically, and
// returns the decrypted content. Two concurrent calls against a grant
// with one remaining download cannot both succeed: the conditional
// consume update in the repository serializes them, and the loser is
// denied with the reason a re-read reveals.
func (s *ShareService) Access(ctx context.Context, token, suppliedPassword, clientAddr string) (*SharePayload, error) {
	_, err := s.Validate(ctx, token, suppliedPassword, clientAddr)
	if err != nil {
		return nil, err
	}

	consumed, err := s.repos.Shares(s.db).Consume(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrGrantNotConsumable) {
			reason := s.lateDenialReason(ctx, token)
			s.recordDenial(ctx, token, clientAddr, string(reason))
			return nil, &DenialError{Reason: reason}
		}
		return nil, err
	}

	file, err := s.repos.Files(s.db).GetByID(ctx, consumed.FileID)
	if err != nil {
		return nil, err
	}
	if !file.Downloadable() {
		// a grant pointing at a non-clean file should not exist; treat it
		// as an incident, not a routine denial
		s.audit.Record(ctx, &models.AuditEvent{
			Category:    models.AuditSecurity,
			Severity:    models.SeverityHigh,
			SubjectType: "share",
			SubjectID:   shortToken(token),
			Action:      "share.blocked_file_access",
			Detail:      map[string]any{"file_id": file.ID, "status": string(file.Status)},
			ClientAddr:  clientAddr,
			Incident:    true,
		})
		return nil, common.ErrShareUnavailable
	}

	plaintext, err := s.files.fetchPlaintext(ctx, file)
	if err != nil {
		return nil, err
	}

	if err := s.repos.Files(s.db).RecordAccess(ctx, file.ID, "share:"+shortToken(token)); err != nil {
		s.logger.Error(ctx, "file access bookkeeping failed", "file_id", file.ID, "error", err.Error())
	}

	s.audit.Record(ctx, &models.AuditEvent{
		Category:    models.AuditShare,
		Severity:    models.SeverityLow,
		SubjectType: "share",
		SubjectID:   shortToken(token),
		Action:      "share.accessed",
		Detail:      map[string]any{"file_id": file.ID, "downloads": consumed.DownloadCount},
		ClientAddr:  clientAddr,
	})

	return &SharePayload{Name: file.Name, ContentType: file.ContentType, Data: plaintext}, nil
}

// lateDenialReason re-reads a grant that lost the consume race to report
// why: the state of the row is authoritative, never the stale pre-read.
func (s *ShareService) lateDenialReason(ctx context.Context, token string) models.DenialReason {
	grant, err := s.repos.Shares(s.db).GetByToken(ctx, token)
	if err != nil {
		return models.DenialRevoked
	}
	if reason, ok := s.checkGrant(grant, ""); !ok && reason != models.DenialBadPassword {
		return reason
	}
	return models.DenialExhausted
}

// Revoke clears active irreversibly; revoking twice succeeds with no
// error the second time.
func (s *ShareService) Revoke(ctx context.Context, actor Actor, token string) error {
	grant, err := s.repos.Shares(s.db).GetByToken(ctx, token)
	if err != nil {
		return err
	}
	if grant.IssuerID != actor.ID && !actor.IsAdmin() {
		return common.ErrorForbidden
	}

	if err := s.repos.Shares(s.db).Revoke(ctx, token); err != nil {
		return err
	}

	s.audit.Record(ctx, &models.AuditEvent{
		Category:    models.AuditShare,
		Severity:    models.SeverityLow,
		ActorID:     actor.ID,
		SubjectType: "share",
		SubjectID:   shortToken(token),
		Action:      "share.revoked",
	})
	return nil
}

// ListForFile returns all grants for the file, for its owner or an admin.
func (s *ShareService) ListForFile(ctx context.Context, actor Actor, fileID string) ([]*models.ShareGrant, error) {
	file, err := s.repos.Files(s.db).GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.OwnerID != actor.ID && !actor.IsAdmin() {
		return nil, common.ErrorForbidden
	}
	return s.repos.Shares(s.db).ListByFile(ctx, fileID)
}

func (s *ShareService) recordDenial(ctx context.Context, token, clientAddr, reason string) {
	s.audit.Record(ctx, &models.AuditEvent{
		Category:    models.AuditSecurity,
		Severity:    models.SeverityMedium,
		SubjectType: "share",
		SubjectID:   shortToken(token),
		Action:      "share.denied",
		Detail:      map[string]any{"reason": reason},
		ClientAddr:  clientAddr,
		Incident:    true,
	})
}

// passwordVerifier derives the argon2id verifier stored in place of the
// plaintext password.
func passwordVerifier(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
}

// shortToken truncates tokens before they reach the audit trail; audit
// rows must not store a replayable capability.
func shortToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
