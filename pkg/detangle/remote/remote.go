// Package remote defines the listing and mutation boundaries between
// the pipeline and external storage backends. Implementations surface
// typed failures so the collector and executor can tell transient
// trouble from permanent credential problems.
package remote

import (
	"context"
	"errors"

	"github.com/fef5002/clouds-detangler/pkg/detangle/types"
)

// Typed boundary failures. ErrUnavailable is transient and retryable;
// ErrAuthExpired is permanent until an operator reconnects the remote
// and is never retried automatically.
var (
	ErrNotFound    = errors.New("remote: path not found")
	ErrUnavailable = errors.New("remote: temporarily unavailable")
	ErrAuthExpired = errors.New("remote: authentication expired")
)

// Remote is one external storage backend with a stable id.
//
// List returns every file record under the configured scope. Stat
// re-fetches live metadata for a single path, including its content
// hash; the executor uses it for pre-flight and post-condition checks.
// Move and Delete are the mutation boundary and are only ever called
// by the executor.
type Remote interface {
	// ID returns the stable remote identifier.
	ID() string

	// List returns the records under scope, sorted by path. An empty
	// scope lists the whole remote.
	List(ctx context.Context, scope string) ([]types.FileRecord, error)

	// Stat returns the live record for a single path. It returns
	// ErrNotFound when the path no longer resolves.
	Stat(ctx context.Context, path string) (types.FileRecord, error)

	// Move relocates a file within the remote. It must not overwrite
	// an existing destination.
	Move(ctx context.Context, src, dst string) error

	// Delete permanently removes a file.
	Delete(ctx context.Context, path string) error
}

// Retryable reports whether an error is worth retrying with backoff.
// Auth expiry and missing paths are not; everything transient is.
func Retryable(err error) bool {
	if errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrUnavailable)
}
