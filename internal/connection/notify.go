package connection

import (
	"sync"
	"sync/atomic"
)

// defaultSubscriberBuffer is used when Subscribe is called with a
// non-positive buffer size.
const defaultSubscriberBuffer = 64

// notifier fans notifications out to subscribers without ever blocking the
// publisher. A subscriber that falls behind loses notifications.
type notifier struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Notification
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[uint64]chan Notification)}
}

// subscribe registers a new subscriber. The returned cancel func removes it
// and closes its channel; it is safe to call more than once.
func (n *notifier) subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Notification, buffer)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			if c, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(c)
			}
			n.mu.Unlock()
		})
	}
	return ch, cancel
}

func (n *notifier) publish(note Notification) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.subs {
		select {
		case ch <- note:
		default:
			n.dropped.Add(1)
		}
	}
}

// close closes every subscriber channel. Later subscribers get a closed
// channel immediately.
func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}

func (n *notifier) count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}
