package models

import "time"

// AuditCategory classifies a security-relevant event.
type AuditCategory string

const (
	AuditAuth     AuditCategory = "auth"
	AuditFile     AuditCategory = "file"
	AuditShare    AuditCategory = "share"
	AuditAdmin    AuditCategory = "admin"
	AuditSecurity AuditCategory = "security"
	AuditSystem   AuditCategory = "system"
)

// AuditSeverity grades how serious an event is.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// ResolutionState tracks the incident workflow for security-incident-class
// events: open → investigating → resolved, one-way except for reopening
// with a justification.
type ResolutionState string

const (
	ResolutionNone          ResolutionState = "none"
	ResolutionOpen          ResolutionState = "open"
	ResolutionInvestigating ResolutionState = "investigating"
	ResolutionResolved      ResolutionState = "resolved"
)

// CanTransition reports whether s → to is a legal resolution move.
// Reopening (resolved → open) is allowed but requires a justification,
// which the service enforces.
func (s ResolutionState) CanTransition(to ResolutionState) bool {
	switch s {
	case ResolutionOpen:
		return to == ResolutionInvestigating || to == ResolutionResolved
	case ResolutionInvestigating:
		return to == ResolutionResolved
	case ResolutionResolved:
		return to == ResolutionOpen
	default:
		return false
	}
}

// AuditEvent is an immutable record of one security-relevant occurrence.
// Once written, every field other than Resolution/ResolutionNote is fixed;
// that append-only contract is what forensic reconstruction depends on.
type AuditEvent struct {
	ID       string
	Category AuditCategory
	Severity AuditSeverity

	// ActorID is empty for system-originated events.
	ActorID string
	// SubjectType/SubjectID identify the affected resource ("file",
	// "share", "audit_event").
	SubjectType string
	SubjectID   string
	// Action names what happened ("upload", "share.denied", ...).
	Action string
	// Detail is free-form structured context, stored as JSONB.
	Detail map[string]any
	// ClientAddr is the network origin of the triggering request.
	ClientAddr string

	// Incident marks security-incident-class events that enter the
	// resolution workflow.
	Incident       bool
	Resolution     ResolutionState
	ResolutionNote string

	CreatedAt time.Time
}
