package models

import "time"

// DenialReason explains why a share access was refused. Reasons are logged
// to the audit trail; anonymous callers only ever see a generic message.
type DenialReason string

const (
	DenialRevoked          DenialReason = "REVOKED"
	DenialExpired          DenialReason = "EXPIRED"
	DenialExhausted        DenialReason = "EXHAUSTED"
	DenialDownloadDisabled DenialReason = "DOWNLOAD_DISABLED"
	DenialBadPassword      DenialReason = "BAD_PASSWORD"
)

// ShareGrant is one externally reachable access capability for a
// StoredFile. The token is generated once and immutable; rows are kept
// for audit and never physically deleted.
type ShareGrant struct {
	// Token is a high-entropy URL-safe capability string.
	Token string
	// FileID references the shared StoredFile.
	FileID string
	// IssuerID is the owner who created the grant.
	IssuerID string

	ExpiresAt     time.Time
	MaxDownloads  int64
	DownloadCount int64

	// PasswordSalt/PasswordVerifier hold the argon2id verifier for
	// password-protected grants; both nil when unprotected. The plaintext
	// password is never stored.
	PasswordSalt     []byte
	PasswordVerifier []byte

	AllowDownload bool
	Active        bool

	CreatedAt time.Time
	// RevokedAt is set once; revocation is monotonic.
	RevokedAt *time.Time

	LastAccessAt *time.Time
}

// PasswordProtected reports whether access requires a password.
func (g *ShareGrant) PasswordProtected() bool {
	return len(g.PasswordVerifier) > 0
}

// Usable reports whether the grant could still admit a download at the
// given instant. The authoritative check is the conditional consume update
// in the repository; this is its read-side mirror.
func (g *ShareGrant) Usable(now time.Time) bool {
	return g.Active && now.Before(g.ExpiresAt) &&
		g.DownloadCount < g.MaxDownloads && g.AllowDownload
}
