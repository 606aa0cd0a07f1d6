package reference

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Source produces a validated [Store]. Implementations report a missing
// snapshot with [ErrSnapshotNotFound] and any unusable content with an error
// wrapping [ErrCorruptSnapshot].
type Source interface {
	Load(ctx context.Context) (*Store, error)
}

// Status describes the outcome of loading the reference store.
type Status int

const (
	// StatusPending means the store has not been loaded yet.
	StatusPending Status = iota
	// StatusLoaded means the store loaded (possibly with zero cases).
	StatusLoaded
	// StatusAbsent means no snapshot exists; calibration is disabled.
	StatusAbsent
	// StatusDegraded means the snapshot exists but could not be used.
	StatusDegraded
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusLoaded:
		return "loaded"
	case StatusAbsent:
		return "absent"
	case StatusDegraded:
		return "degraded"
	default:
		return "pending"
	}
}

// Open loads src and applies the degradation policy:
//
//   - missing snapshot: a warning is logged and (nil, nil) is returned.
//   - unusable snapshot: an error is logged and (nil, err) is returned; the
//     caller continues with the absent store.
//   - success: data-quality findings from [Store.Lint] are logged as warnings.
//
// Open never panics on bad data; a nil store is always safe to use.
func Open(ctx context.Context, src Source, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := src.Load(ctx)
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		logger.Warn("reference: snapshot not found, calibration disabled", "source", src, "err", err)
		return nil, nil
	case err != nil:
		logger.Error("reference: snapshot unusable, calibration disabled", "source", src, "err", err)
		return nil, err
	}
	for _, issue := range store.Lint() {
		logger.Warn("reference: "+issue.Message, "case_id", issue.CaseID)
	}
	logger.Info("reference: store loaded", "source", src, "cases", store.Len(), "dimensions", store.Dimensions())
	return store, nil
}

// Loader performs [Open] at most once and caches the outcome for the rest of
// the process. The cached *Store is never replaced or mutated.
//
// Loader is safe for concurrent use.
type Loader struct {
	src    Source
	logger *slog.Logger

	once   sync.Once
	store  *Store
	err    error
	status Status
	mu     sync.RWMutex
}

// NewLoader returns a Loader for src. A nil logger uses slog.Default().
func NewLoader(src Source, logger *slog.Logger) *Loader {
	return &Loader{src: src, logger: logger}
}

// Load returns the store, loading it on the first call. Later calls return
// the same store and error without touching the source again, even if ctx
// differs.
func (l *Loader) Load(ctx context.Context) (*Store, error) {
	l.once.Do(func() {
		store, err := Open(ctx, l.src, l.logger)
		status := StatusLoaded
		switch {
		case err != nil:
			status = StatusDegraded
		case store == nil:
			status = StatusAbsent
		}
		l.mu.Lock()
		l.store, l.err, l.status = store, err, status
		l.mu.Unlock()
	})
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store, l.err
}

// Status reports the load outcome without triggering a load.
func (l *Loader) Status() (Status, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status, l.store.Len()
}

// StaticSource serves an already built store. A nil Store is the absent store.
type StaticSource struct {
	Store *Store
}

// Load implements [Source].
func (s StaticSource) Load(context.Context) (*Store, error) { return s.Store, nil }

var (
	_ Source = StaticSource{}
	_ Source = (*Loader)(nil)
)
