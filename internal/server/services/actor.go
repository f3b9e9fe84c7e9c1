// Package services contains the server-side business logic: the file
// record manager, the share token service and the audit trail recorder.
package services

import (
	"time"

	"github.com/secfiles/filevault/internal/server/auth"
)

// nowFunc is a test seam for time-dependent policy checks.
var nowFunc = time.Now

// Actor is the already-authenticated identity supplied by the identity
// provider for every request.
type Actor struct {
	ID   string
	Role string
}

// IsAdmin reports whether the actor may bypass ownership checks and read
// the audit trail.
func (a Actor) IsAdmin() bool {
	return a.Role == auth.RoleAdmin
}
