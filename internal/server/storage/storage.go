// Package storage provides durable byte storage for ciphertext blobs,
// addressed by an opaque key.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BlobStore is the byte-storage boundary the file manager depends on.
// Implementations store ciphertext only; plaintext never reaches a blob.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// NewStorageKey returns a date-partitioned random object key.
func NewStorageKey() string {
	d := time.Now()
	return fmt.Sprintf("files/%d/%d/%d/%v", d.Year(), d.Month(), d.Day(), uuid.New())
}
