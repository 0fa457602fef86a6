package connection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/cardpass-core/internal/reader"
)

// DefaultPollInterval is how often the Synchronizer compares the store with
// the registry.
const DefaultPollInterval = 5 * time.Second

// SyncDiff is the difference between the reader store and the registry.
// Added and Updated carry the stored configuration; the three sets are
// disjoint.
type SyncDiff struct {
	Added   []reader.Reader
	Updated []reader.Reader
	Removed []int

	// asOf is the registry revision the diff was computed against. Zero
	// applies the diff unconditionally.
	asOf uint64
}

// Empty reports whether the diff changes nothing.
func (d SyncDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// ComputeDiff compares the registry snapshot with the stored readers.
// Stored readers flagged deleted count as absent. Only fields that affect
// the connection mark a reader updated.
func ComputeDiff(snapshot map[int]reader.Reader, stored []reader.Reader) SyncDiff {
	var diff SyncDiff

	live := make(map[int]struct{}, len(stored))
	for _, r := range stored {
		if r.Deleted {
			continue
		}
		if _, dup := live[r.ID]; dup {
			continue
		}
		live[r.ID] = struct{}{}

		cur, ok := snapshot[r.ID]
		switch {
		case !ok:
			diff.Added = append(diff.Added, r)
		case cur.ConnectionChanged(r):
			diff.Updated = append(diff.Updated, r)
		}
	}

	for id := range snapshot {
		if _, ok := live[id]; !ok {
			diff.Removed = append(diff.Removed, id)
		}
	}
	sort.Ints(diff.Removed)
	return diff
}

// Synchronizer periodically reconciles the Manager's registry with the
// reader store, so changes made by other instances sharing the database take
// effect without a restart.
type Synchronizer struct {
	manager  *Manager
	repo     reader.Repository
	interval time.Duration

	stopOnce sync.Once
	stopped  atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}

	logger Logger
}

// NewSynchronizer creates a synchronizer. A non-positive interval selects
// DefaultPollInterval.
func NewSynchronizer(manager *Manager, repo reader.Repository, interval time.Duration) *Synchronizer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Synchronizer{
		manager:  manager,
		repo:     repo,
		interval: interval,
		done:     make(chan struct{}),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger. Call before Start.
func (s *Synchronizer) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Start launches the poll loop. The loop waits for the Manager's Ready
// signal before its first poll.
func (s *Synchronizer) Start(ctx context.Context) {
	if s.stopped.Load() {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop ends the poll loop and waits for it to exit. Safe to call multiple
// times, and before Start.
func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		if s.cancel == nil {
			close(s.done)
			return
		}
		s.cancel()
		<-s.done
	})
}

func (s *Synchronizer) loop(ctx context.Context) {
	defer close(s.done)

	select {
	case <-s.manager.Ready():
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Poll(ctx); err != nil {
				s.logger.Warn("reader sync poll failed", "error", err)
			}
		}
	}
}

// Poll runs one reconciliation cycle and returns the diff it applied. It
// does nothing until the Manager is ready.
func (s *Synchronizer) Poll(ctx context.Context) (diff SyncDiff, err error) {
	if !s.manager.IsReady() {
		return SyncDiff{}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync poll panic: %v", r)
		}
	}()

	snapshot, asOf := s.manager.readerSnapshot()

	stored, err := s.repo.ListAll(ctx)
	if err != nil {
		return SyncDiff{}, fmt.Errorf("listing readers: %w", err)
	}

	diff = ComputeDiff(snapshot, stored)
	diff.asOf = asOf
	if diff.Empty() {
		return diff, nil
	}

	s.logger.Info("reader configuration changed",
		"added", len(diff.Added),
		"updated", len(diff.Updated),
		"removed", len(diff.Removed),
	)
	s.manager.applySyncDiff(ctx, diff)
	return diff, nil
}
