// Package collector gathers per-remote manifests concurrently. Each
// remote is listed by one task under a hard wall-clock timeout; one
// remote failing never aborts the others. Transient failures retry
// with exponential backoff, expired credentials never do.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fef5002/clouds-detangler/pkg/detangle/logging"
	"github.com/fef5002/clouds-detangler/pkg/detangle/manifest"
	"github.com/fef5002/clouds-detangler/pkg/detangle/remote"
	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// ErrTimeout is the typed failure for a listing that exceeded its
// wall-clock budget. It is transient in the sense that a later run may
// succeed, but within one run the remote is recorded as failed.
var ErrTimeout = errors.New("collector: listing timed out")

// Options configures a collection run.
type Options struct {
	// Workers bounds the number of remotes listed concurrently.
	Workers int

	// Timeout is the hard wall-clock budget per remote listing.
	Timeout time.Duration

	// MaxRetries is how many times a transient failure is retried.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry.
	RetryBackoff time.Duration

	// Scope restricts listings to a sub-path within each remote.
	Scope string

	// HoldingPrefix is the in-remote holding area root. Records under
	// it are excluded from manifests so displaced copies parked by
	// earlier safe-mode runs never re-form duplicate groups.
	HoldingPrefix string
}

// withDefaults fills unset options.
func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	if o.HoldingPrefix == "" {
		o.HoldingPrefix = types.DefaultHoldingPrefix
	}
	return o
}

// Result is the outcome of collecting one remote: a manifest, or a
// typed failure, never both.
type Result struct {
	RemoteID string
	Manifest *types.RemoteManifest
	Warnings []types.IntegrityWarning
	Err      error
}

// Collector runs bounded-concurrency manifest collection and persists
// every successful snapshot.
type Collector struct {
	opts  Options
	store *manifest.Store
	now   func() time.Time
	log   *logging.Logger
}

// New creates a collector persisting into store. A nil store disables
// persistence, which tests use.
func New(store *manifest.Store, opts Options) *Collector {
	return &Collector{
		opts:  opts.withDefaults(),
		store: store,
		now:   time.Now,
		log:   logging.Get("collector"),
	}
}

// Collect lists every remote and returns one result per remote, in the
// order the remotes were given. Results are recorded independently:
// callers inspect each Err to distinguish partial from full success.
func (c *Collector) Collect(ctx context.Context, remotes []remote.Remote) []Result {
	results := make([]Result, len(remotes))
	sem := make(chan struct{}, c.opts.Workers)

	var wg sync.WaitGroup
	for i, r := range remotes {
		wg.Add(1)
		go func(i int, r remote.Remote) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = Result{RemoteID: r.ID(), Err: ctx.Err()}
				return
			}

			results[i] = c.collectOne(ctx, r)
		}(i, r)
	}
	wg.Wait()

	return results
}

// collectOne lists a single remote with retry and persists the manifest.
func (c *Collector) collectOne(ctx context.Context, r remote.Remote) Result {
	start := time.Now()
	c.log.Info("collecting remote", "remote", r.ID(), "timeout", c.opts.Timeout)

	records, err := c.listWithRetry(ctx, r)
	if err != nil {
		c.log.Error("collection failed", "remote", r.ID(), "error", err)
		return Result{RemoteID: r.ID(), Err: err}
	}
	records = dropHoldingArea(records, c.opts.HoldingPrefix)

	m, warnings, err := manifest.Build(r.ID(), c.now(), records)
	if err != nil {
		return Result{RemoteID: r.ID(), Err: err}
	}
	for _, w := range warnings {
		c.log.Warn("malformed listing record dropped", "remote", r.ID(), "reason", w.Reason)
	}

	if c.store != nil {
		if err := c.store.Put(m); err != nil {
			return Result{RemoteID: r.ID(), Err: fmt.Errorf("persisting manifest: %w", err)}
		}
	}

	c.log.Info("collected remote",
		"remote", r.ID(),
		"files", m.FileCount(),
		"bytes", m.TotalBytes(),
		"elapsed", time.Since(start).Round(time.Millisecond))

	return Result{RemoteID: r.ID(), Manifest: m, Warnings: warnings}
}

// listWithRetry runs the listing under the per-remote timeout,
// retrying transient failures with exponential backoff. AuthExpired is
// permanent until external remediation and returns immediately.
func (c *Collector) listWithRetry(ctx context.Context, r remote.Remote) ([]types.FileRecord, error) {
	backoff := c.opts.RetryBackoff

	for attempt := 0; ; attempt++ {
		listCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		records, err := r.List(listCtx, c.opts.Scope)
		cancel()

		if err == nil {
			return records, nil
		}

		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: remote %s after %s", ErrTimeout, r.ID(), c.opts.Timeout)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if errors.Is(err, remote.ErrAuthExpired) {
			return nil, fmt.Errorf("remote %s: %w", r.ID(), err)
		}
		if !remote.Retryable(err) || attempt >= c.opts.MaxRetries {
			return nil, fmt.Errorf("remote %s: %w", r.ID(), err)
		}

		c.log.Warn("transient listing failure, retrying",
			"remote", r.ID(), "attempt", attempt+1, "backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
}

// dropHoldingArea removes records living under the holding area
// prefix. They are displaced copies the executor already verified and
// logged; re-ingesting them would re-form their groups and make later
// plans target the holding area itself.
func dropHoldingArea(records []types.FileRecord, prefix string) []types.FileRecord {
	kept := make([]types.FileRecord, 0, len(records))
	for _, r := range records {
		if r.Path == prefix || strings.HasPrefix(r.Path, prefix+"/") {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// Partial reports whether a result set contains at least one failure
// alongside at least one success. Callers map this to exit code 1.
func Partial(results []Result) bool {
	var ok, failed bool
	for _, res := range results {
		if res.Err != nil {
			failed = true
		} else {
			ok = true
		}
	}
	return ok && failed
}
