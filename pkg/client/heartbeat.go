package client

import (
	"sync"
	"time"
)

// heartbeat drives the ping timer and the dead connection timeout of one
// connection. Both are restarted together.
type heartbeat struct {
	interval  time.Duration
	afterFunc AfterFunc
	onPing    func()
	onTimeout func()

	mu      sync.Mutex
	ping    Timer
	timeout Timer
	stopped bool
}

func newHeartbeat(interval time.Duration, afterFunc AfterFunc, onPing, onTimeout func()) *heartbeat {
	return &heartbeat{
		interval:  interval,
		afterFunc: afterFunc,
		onPing:    onPing,
		onTimeout: onTimeout,
	}
}

// restart cancels both timers and arms them again. A zero interval never
// arms anything.
func (h *heartbeat) restart() {
	if h.interval <= 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return
	}
	h.clear()
	h.ping = h.afterFunc(h.interval, h.onPing)
	h.timeout = h.afterFunc(2*h.interval, h.onTimeout)
}

// stop cancels both timers for good
func (h *heartbeat) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopped = true
	h.clear()
}

func (h *heartbeat) clear() {
	if h.ping != nil {
		h.ping.Stop()
		h.ping = nil
	}
	if h.timeout != nil {
		h.timeout.Stop()
		h.timeout = nil
	}
}
