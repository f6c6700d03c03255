package traversal

import (
	"context"
	"iter"
	"sync"
)

// broadcaster wakes every waiter on notify by closing the current channel.
type broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{ch: make(chan struct{})}
}

func (b *broadcaster) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

func (b *broadcaster) notify() {
	b.mu.Lock()
	close(b.ch)
	b.ch = make(chan struct{})
	b.mu.Unlock()
}

// Subscribe returns the progress snapshots of the current session, starting
// with the present one. Consecutive duplicates are dropped and intermediate
// states may be coalesced. The sequence ends when the session is exhausted,
// when a new session starts, or when ctx is done; subscribe again after
// QuickStart to follow the next session.
func (m *Manager) Subscribe(ctx context.Context) iter.Seq[Progress] {
	return func(yield func(Progress) bool) {
		var (
			last    Progress
			session uint64
			started bool
		)
		for {
			// take the channel before the snapshot so no change is missed
			changed := m.changes.wait()
			snap := m.Progress()

			if !started {
				session = snap.Session
				started = true
				if !yield(snap) {
					return
				}
				last = snap
			} else if snap.Session != session {
				return
			} else if snap != last {
				if !yield(snap) {
					return
				}
				last = snap
			}
			if snap.State == StateExhausted {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
		}
	}
}
