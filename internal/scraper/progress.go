package scraper

import "sync"

// Observer fans scraper progress out to a consumer without ever blocking
// the scraper. Intermediate updates may be dropped under back-pressure;
// terminal updates (complete, error) are always delivered, evicting the
// oldest queued token if the buffer is full.
type Observer struct {
	mu     sync.Mutex
	ch     chan Progress
	closed bool
}

// NewObserver creates an observer with the given buffer size (minimum 1).
func NewObserver(buffer int) *Observer {
	if buffer < 1 {
		buffer = 1
	}
	return &Observer{ch: make(chan Progress, buffer)}
}

// Publish queues a progress token. Safe to use as a ProgressFunc.
func (o *Observer) Publish(p Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}

	if !p.Stage.Terminal() {
		select {
		case o.ch <- p:
		default:
			// consumer is behind; drop this intermediate update
		}
		return
	}

	// Terminal token: make room by evicting stale updates.
	for {
		select {
		case o.ch <- p:
			return
		default:
			select {
			case <-o.ch:
			default:
			}
		}
	}
}

// Updates returns the channel the consumer drains.
func (o *Observer) Updates() <-chan Progress {
	return o.ch
}

// Close closes the update channel. Publish after Close is a no-op.
func (o *Observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}
