// Package models defines server-side data models persisted in the database.
package models

import "time"

// FileStatus is the lifecycle state of a StoredFile.
type FileStatus string

const (
	FileStatusPending     FileStatus = "pending"
	FileStatusClean       FileStatus = "clean"
	FileStatusQuarantined FileStatus = "quarantined"
	FileStatusDeleted     FileStatus = "deleted"
)

// CanTransition reports whether s → to is a legal lifecycle move:
// pending → {clean, quarantined}; {clean, quarantined} → deleted.
// Deleted is terminal.
func (s FileStatus) CanTransition(to FileStatus) bool {
	switch s {
	case FileStatusPending:
		return to == FileStatusClean || to == FileStatusQuarantined
	case FileStatusClean, FileStatusQuarantined:
		return to == FileStatusDeleted
	default:
		return false
	}
}

// StoredFile describes one user-owned encrypted object. The ciphertext
// itself lives in blob storage under StorageKey; the row carries the key
// material and the plaintext digest taken once at ingest.
type StoredFile struct {
	// ID is an opaque UUID.
	ID string
	// OwnerID is the authenticated uploader.
	OwnerID string
	// Name is the sanitized original filename.
	Name string
	// ContentType is the declared (and signature-checked) MIME type.
	ContentType string
	// Size is the plaintext byte size.
	Size int64
	// StorageKey is the blob-storage key of the ciphertext.
	StorageKey string
	// EncryptedKey is the per-file symmetric key. Never logged.
	EncryptedKey []byte
	// Nonce is the AEAD nonce used to encrypt the contents.
	Nonce []byte
	// Digest is the hex SHA-256 of the plaintext, computed before
	// encryption and never recomputed from ciphertext.
	Digest string

	Status FileStatus
	// ThreatLabel is set when the scanner quarantined the file.
	ThreatLabel string

	DownloadCount int64
	LastAccessAt  *time.Time
	LastAccessBy  string

	CreatedAt time.Time
	UpdatedAt time.Time
	// DeletedAt is set on soft delete; rows are never physically purged.
	DeletedAt *time.Time
}

// Downloadable reports whether normal download paths may serve the file.
// Quarantined, pending and deleted files are never reachable this way.
func (f *StoredFile) Downloadable() bool {
	return f.Status == FileStatusClean
}
