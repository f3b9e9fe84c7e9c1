package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/secfiles/filevault/internal/common"
	"github.com/secfiles/filevault/internal/logging"
	"github.com/secfiles/filevault/internal/server/models"
	auditrepo "github.com/secfiles/filevault/internal/server/repositories/audit"
	"github.com/secfiles/filevault/internal/server/repositories/repomanager"
)

// AuditService appends immutable event records for every security decision
// the other services make, and runs the resolution workflow for
// incident-class events.
type AuditService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	logger logging.Logger
}

func NewAuditService(db *sql.DB, repos repomanager.RepositoryManager, logger logging.Logger) *AuditService {
	return &AuditService{
		db:     db,
		repos:  repos,
		logger: logger.With("module", "audit"),
	}
}

// Record appends one event. It never surfaces a failure to the caller: a
// sink failure is retried once, then logged and escalated as a system
// incident, but the triggering operation's own result still stands.
func (s *AuditService) Record(ctx context.Context, e *models.AuditEvent) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Resolution == "" {
		if e.Incident {
			e.Resolution = models.ResolutionOpen
		} else {
			e.Resolution = models.ResolutionNone
		}
	}

	repo := s.repos.Audit(s.db)
	err := repo.Insert(ctx, e)
	if err != nil {
		err = repo.Insert(ctx, e)
	}
	if err == nil {
		return
	}

	s.logger.Error(ctx, "audit sink write failed", "action", e.Action, "error", err.Error())

	// best-effort escalation; if the sink is down this fails too and the
	// log line above is all that remains
	incident := &models.AuditEvent{
		ID:         uuid.NewString(),
		Category:   models.AuditSystem,
		Severity:   models.SeverityCritical,
		Action:     "audit.sink_failure",
		Detail:     map[string]any{"lost_action": e.Action, "error": err.Error()},
		Incident:   true,
		Resolution: models.ResolutionOpen,
	}
	_ = repo.Insert(ctx, incident)
}

// List returns filtered events. Privileged: only admins may read the
// trail.
func (s *AuditService) List(ctx context.Context, actor Actor, f auditrepo.Filter) ([]*models.AuditEvent, error) {
	if !actor.IsAdmin() {
		return nil, common.ErrorForbidden
	}
	return s.repos.Audit(s.db).List(ctx, f)
}

// Resolve advances an incident through open → investigating → resolved.
// Reopening a resolved incident is allowed only with a non-empty
// justification. Every change is itself recorded.
func (s *AuditService) Resolve(ctx context.Context, actor Actor, eventID string, to models.ResolutionState, note string) error {
	if !actor.IsAdmin() {
		return common.ErrorForbidden
	}

	repo := s.repos.Audit(s.db)
	event, err := repo.GetByID(ctx, eventID)
	if err != nil {
		return err
	}
	if !event.Incident {
		return fmt.Errorf("%w: event %s is not an incident", common.ErrorValidation, eventID)
	}
	if !event.Resolution.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, event.Resolution, to)
	}
	if event.Resolution == models.ResolutionResolved && to == models.ResolutionOpen && note == "" {
		return fmt.Errorf("%w: reopening requires a justification", common.ErrorValidation)
	}

	if err := repo.UpdateResolution(ctx, eventID, to, note); err != nil {
		return err
	}

	s.Record(ctx, &models.AuditEvent{
		Category:    models.AuditAdmin,
		Severity:    models.SeverityLow,
		ActorID:     actor.ID,
		SubjectType: "audit_event",
		SubjectID:   eventID,
		Action:      "incident.resolution_changed",
		Detail:      map[string]any{"from": string(event.Resolution), "to": string(to), "note": note},
	})
	return nil
}
