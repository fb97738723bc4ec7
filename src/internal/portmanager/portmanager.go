// Package portmanager discovers and force-terminates processes listening on a TCP port.
package portmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultSettleDelay gives the OS time to release the socket after a kill.
	DefaultSettleDelay = 500 * time.Millisecond

	// DefaultReleaseTimeout bounds the post-settle wait for the listener to disappear.
	DefaultReleaseTimeout = 2 * time.Second

	releaseInitialInterval = 50 * time.Millisecond
	releaseMaxInterval     = 500 * time.Millisecond
)

// ErrProcessGone is returned by Inspector.Kill when the target no longer exists.
var ErrProcessGone = errors.New("process already exited")

// ReapResult summarizes a single Reap call.
type ReapResult struct {
	Port   int
	Found  []int
	Killed []int
	Failed []int
	// Settled is how long Reap waited for the socket to be released.
	Settled time.Duration
	// Released is false when a listener was still present after the release wait.
	Released bool
}

// Reaper frees a port by killing whatever is listening on it.
type Reaper struct {
	inspector      Inspector
	settleDelay    time.Duration
	releaseTimeout time.Duration
	selfPID        int
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithSettleDelay overrides the fixed pause after kills are issued.
func WithSettleDelay(d time.Duration) Option {
	return func(r *Reaper) { r.settleDelay = d }
}

// WithReleaseTimeout overrides how long Reap polls for the listener to go away
// after the settle delay. Zero disables polling.
func WithReleaseTimeout(d time.Duration) Option {
	return func(r *Reaper) { r.releaseTimeout = d }
}

// NewReaper creates a Reaper backed by the given inspector.
func NewReaper(inspector Inspector, opts ...Option) *Reaper {
	r := &Reaper{
		inspector:      inspector,
		settleDelay:    DefaultSettleDelay,
		releaseTimeout: DefaultReleaseTimeout,
		selfPID:        os.Getpid(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SettleDelay returns the configured settle delay.
func (r *Reaper) SettleDelay() time.Duration {
	return r.settleDelay
}

// Inspect returns the PIDs listening on port without killing anything.
// The supervisor's own PID is never included.
func (r *Reaper) Inspect(ctx context.Context, port int) ([]int, error) {
	pids, err := r.inspector.ListeningPIDs(ctx, port)
	if err != nil {
		return nil, fmt.Errorf("failed to query listeners on port %d: %w", port, err)
	}
	return r.filter(pids), nil
}

// Reap kills every process listening on port, then waits the settle delay.
// The settle delay applies on every call, even when nothing was found; the
// release poll only runs after kills were issued. Reap never fails: query
// errors are treated as "nothing listening" and kill errors are logged and
// reported in the result.
func (r *Reaper) Reap(ctx context.Context, port int) ReapResult {
	result := ReapResult{Port: port, Released: true}
	start := time.Now()

	pids, err := r.Inspect(ctx, port)
	switch {
	case err != nil:
		slog.Debug("port query failed, assuming no listener",
			slog.Int("port", port),
			slog.String("error", err.Error()))
	case len(pids) == 0:
		slog.Debug("no process listening on port", slog.Int("port", port))
	}
	if len(pids) == 0 {
		r.settle(ctx)
		result.Settled = time.Since(start)
		return result
	}
	result.Found = pids

	for _, pid := range pids {
		slog.Info("[API] Killing existing process on port",
			slog.Int("port", port),
			slog.Int("pid", pid))
		if err := r.inspector.Kill(ctx, pid); err != nil {
			if errors.Is(err, ErrProcessGone) {
				slog.Debug("process exited before kill", slog.Int("pid", pid))
			} else {
				slog.Warn("failed to kill process on port",
					slog.Int("port", port),
					slog.Int("pid", pid),
					slog.String("error", err.Error()))
			}
			result.Failed = append(result.Failed, pid)
			continue
		}
		result.Killed = append(result.Killed, pid)
	}

	start = time.Now()
	r.settle(ctx)
	result.Released = r.awaitRelease(ctx, port)
	result.Settled = time.Since(start)

	if !result.Released {
		slog.Warn("port still has a listener after reaping",
			slog.Int("port", port),
			slog.Duration("waited", result.Settled))
	}
	return result
}

// settle pauses for the settle delay so the OS can release the socket.
func (r *Reaper) settle(ctx context.Context) {
	if r.settleDelay <= 0 {
		return
	}
	timer := time.NewTimer(r.settleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// awaitRelease polls until nothing listens on port or the release timeout expires.
func (r *Reaper) awaitRelease(ctx context.Context, port int) bool {
	if r.releaseTimeout <= 0 {
		return true
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = releaseInitialInterval
	b.MaxInterval = releaseMaxInterval
	b.MaxElapsedTime = r.releaseTimeout

	operation := func() error {
		pids, err := r.Inspect(ctx, port)
		if err != nil {
			// Same policy as discovery: an unanswerable query means nothing to wait for.
			return nil
		}
		if len(pids) > 0 {
			return fmt.Errorf("port %d still held by %v", port, pids)
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(b, ctx)) == nil
}

// filter drops duplicates, invalid PIDs and our own PID.
func (r *Reaper) filter(pids []int) []int {
	out := make([]int, 0, len(pids))
	for _, pid := range pids {
		if pid <= 0 || slices.Contains(out, pid) {
			continue
		}
		if pid == r.selfPID {
			slog.Warn("refusing to kill own process", slog.Int("pid", pid))
			continue
		}
		out = append(out, pid)
	}
	return out
}

// PortAvailable reports whether port can be bound on localhost right now.
func PortAvailable(port int) bool {
	addr := fmt.Sprintf("localhost:%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	if err := listener.Close(); err != nil {
		slog.Debug("failed to close probe listener", slog.String("error", err.Error()))
	}
	return true
}
