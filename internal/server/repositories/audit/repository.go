package audit

import (
	"context"
	"time"

	"github.com/secfiles/filevault/internal/server/models"
)

// Filter narrows audit retrieval. Zero values mean "any".
type Filter struct {
	Category     models.AuditCategory
	Severity     models.AuditSeverity
	ActorID      string
	IncidentOnly bool
	From         time.Time
	To           time.Time
	Limit        int
}

type Repository interface {
	// Insert appends one event. No update path exists for any field other
	// than the resolution pair.
	Insert(ctx context.Context, event *models.AuditEvent) error
	List(ctx context.Context, f Filter) ([]*models.AuditEvent, error)
	GetByID(ctx context.Context, id string) (*models.AuditEvent, error)
	// UpdateResolution mutates only resolution/resolution_note, and only
	// for incident-class events.
	UpdateResolution(ctx context.Context, id string, state models.ResolutionState, note string) error
}
