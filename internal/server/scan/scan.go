// Package scan submits content to an external antivirus capability and
// interprets its verdicts. Unavailability is a first-class outcome: a
// scanner that cannot be reached never yields clean.
package scan

import "context"

// Status is the scanner's decision about a piece of content.
type Status string

const (
	StatusClean       Status = "clean"
	StatusInfected    Status = "infected"
	StatusUnavailable Status = "unavailable"
)

// Verdict is the interpreted outcome of one scan.
type Verdict struct {
	Status Status
	// Threat is the signature label for infected content.
	Threat string
	// Detail carries the transport error for unavailable verdicts.
	Detail string
}

// Scanner submits plaintext bytes for screening. Implementations must
// respect ctx cancellation and must report transport problems as an
// unavailable verdict rather than an error, so callers can apply the
// fail-closed retry policy uniformly. The returned error is reserved for
// programming mistakes (nil receiver, closed scanner).
type Scanner interface {
	Scan(ctx context.Context, data []byte) (Verdict, error)
}
