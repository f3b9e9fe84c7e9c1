package repomanager

import (
	"context"
	"database/sql"

	"github.com/secfiles/filevault/internal/dbx"
	"github.com/secfiles/filevault/internal/server/repositories/audit"
	"github.com/secfiles/filevault/internal/server/repositories/files"
	"github.com/secfiles/filevault/internal/server/repositories/shares"
)

// RepositoryManager hands out repositories bound to a DBTX, so the same
// repository code runs against either the pool or an open transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Files(db dbx.DBTX) files.Repository
	Shares(db dbx.DBTX) shares.Repository
	Audit(db dbx.DBTX) audit.Repository
}
