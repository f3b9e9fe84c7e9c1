package scan

import (
	"context"
	"time"

	"github.com/secfiles/filevault/internal/logging"
	"github.com/sethvargo/go-retry"
)

// Gateway wraps a Scanner with a bounded exponential-backoff retry on
// unavailable verdicts. Infected and clean verdicts are never retried.
type Gateway struct {
	scanner  Scanner
	attempts uint64
	base     time.Duration
	logger   logging.Logger
}

// NewGateway builds a gateway retrying up to attempts times with the given
// base backoff delay.
func NewGateway(scanner Scanner, attempts uint64, base time.Duration, logger logging.Logger) *Gateway {
	if attempts == 0 {
		attempts = 1
	}
	return &Gateway{
		scanner:  scanner,
		attempts: attempts,
		base:     base,
		logger:   logger.With("module", "scan_gateway"),
	}
}

// Scan submits data and retries only while the scanner is unavailable.
// When the retry budget is exhausted the final verdict is still
// unavailable: the caller must treat the content as unscanned, never as
// clean.
func (g *Gateway) Scan(ctx context.Context, data []byte) (Verdict, error) {
	var verdict Verdict

	backoff := retry.WithMaxRetries(g.attempts-1, retry.NewExponential(g.base))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		v, err := g.scanner.Scan(ctx, data)
		if err != nil {
			return err
		}
		verdict = v
		if v.Status == StatusUnavailable {
			g.logger.Warn(ctx, "scanner unavailable, will retry", "detail", v.Detail)
			return retry.RetryableError(errUnavailable)
		}
		return nil
	})

	if err != nil && verdict.Status != StatusUnavailable {
		// a non-retry error from the scanner itself
		return unavailable(err), nil
	}
	g.logger.Debug(ctx, "scan finished", "status", string(verdict.Status), "size", len(data))
	return verdict, nil
}

var errUnavailable = &unavailableError{}

type unavailableError struct{}

func (*unavailableError) Error() string { return "scanner unavailable" }
