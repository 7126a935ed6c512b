// Package retry provides the bounded probe loop shared by broker liveness
// detection, API readiness gating, and one-shot health checks.
package retry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Policy bounds a probe loop. No retry is unbounded.
type Policy struct {
	MaxAttempts       int
	Interval          time.Duration
	PerAttemptTimeout time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Interval <= 0 {
		p.Interval = 250 * time.Millisecond
	}
	if p.PerAttemptTimeout <= 0 {
		p.PerAttemptTimeout = 500 * time.Millisecond
	}
	return p
}

// Probe performs a single readiness check. A nil return means ready.
type Probe func(ctx context.Context) error

// ExhaustedError reports that every attempt in the budget failed.
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("not ready after %d attempts over %s: %v", e.Attempts, e.Elapsed.Round(time.Millisecond), e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do runs probe up to policy.MaxAttempts times, each attempt with its own
// timeout, waiting policy.Interval between attempts. Individual probe errors
// are swallowed and consume an attempt; a connection refused and a timeout
// are indistinguishable here. Only exhaustion (as *ExhaustedError) or
// cancellation of ctx surface as errors.
func Do(ctx context.Context, policy Policy, probe Probe) error {
	policy = policy.withDefaults()
	start := time.Now()

	var last error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "probe canceled")
		}

		attemptCtx, cancel := context.WithTimeout(ctx, policy.PerAttemptTimeout)
		err := probe(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		last = err

		if attempt == policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "probe canceled")
		case <-time.After(policy.Interval):
		}
	}

	// Cancellation during the final attempt is still cancellation, not
	// exhaustion.
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "probe canceled")
	}
	return &ExhaustedError{Attempts: policy.MaxAttempts, Elapsed: time.Since(start), Last: last}
}

// HTTPProbe returns a probe that GETs url and treats any 2xx as ready.
// Non-2xx statuses and transport failures both count as not-ready.
func HTTPProbe(url string) Probe {
	client := &http.Client{}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return errors.Wrap(err, "build probe request")
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return errors.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}
}

// TCPProbe returns a probe that succeeds when address accepts a connection.
func TCPProbe(address string) Probe {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return err
		}
		_ = conn.Close()
		return nil
	}
}
