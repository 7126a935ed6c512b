package retry

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDo_ExactlyMaxAttempts(t *testing.T) {
	attempts := 0
	probe := func(ctx context.Context) error {
		attempts++
		return errors.New("nope")
	}

	err := Do(context.Background(), Policy{MaxAttempts: 5, Interval: 10 * time.Millisecond, PerAttemptTimeout: 50 * time.Millisecond}, probe)
	require.Error(t, err)
	require.Equal(t, 5, attempts)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 5, exhausted.Attempts)
	require.Greater(t, exhausted.Elapsed, time.Duration(0))
}

func TestDo_StopsOnFirstSuccess(t *testing.T) {
	attempts := 0
	probe := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	}

	err := Do(context.Background(), Policy{MaxAttempts: 10, Interval: 5 * time.Millisecond}, probe)
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDo_ProbeErrorsAreSwallowed(t *testing.T) {
	// A refused connection and a timeout must be indistinguishable: both
	// consume an attempt, neither surfaces before exhaustion.
	sawTimeout := false
	probe := func(ctx context.Context) error {
		if !sawTimeout {
			sawTimeout = true
			<-ctx.Done() // simulate a probe that runs into its own timeout
			return ctx.Err()
		}
		return errors.New("connection refused")
	}

	err := Do(context.Background(), Policy{MaxAttempts: 2, Interval: 5 * time.Millisecond, PerAttemptTimeout: 20 * time.Millisecond}, probe)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 2, exhausted.Attempts)
}

func TestDo_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	probe := func(ctx context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("nope")
	}

	err := Do(ctx, Policy{MaxAttempts: 100, Interval: 10 * time.Millisecond}, probe)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	var exhausted *ExhaustedError
	require.False(t, errors.As(err, &exhausted))
	require.Less(t, attempts, 100)
}

func TestDo_CancellationDuringFinalAttemptIsNotExhaustion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	probe := func(context.Context) error {
		cancel() // caller gives up while the last attempt is in flight
		return errors.New("nope")
	}

	err := Do(ctx, Policy{MaxAttempts: 1, PerAttemptTimeout: 50 * time.Millisecond}, probe)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	var exhausted *ExhaustedError
	require.False(t, errors.As(err, &exhausted))
}

func TestHTTPProbe(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	probe := HTTPProbe(srv.URL)
	require.Error(t, probe(context.Background()))

	status = http.StatusOK
	require.NoError(t, probe(context.Background()))
}

func TestTCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	require.NoError(t, TCPProbe(addr)(context.Background()))

	require.NoError(t, ln.Close())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.Error(t, TCPProbe(addr)(ctx))
}
