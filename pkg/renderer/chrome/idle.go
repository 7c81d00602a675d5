package chrome

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

// networkIdleEvent is the lifecycle event Chrome fires once a document has
// gone 500ms without network connections.
const networkIdleEvent = "networkIdle"

// idleWatcher records which loaders have reached network idle. observe runs
// on the chromedp event loop and must not block.
type idleWatcher struct {
	mu     sync.Mutex
	idle   map[cdp.LoaderID]bool
	notify chan struct{}
}

func newIdleWatcher() *idleWatcher {
	return &idleWatcher{
		idle:   make(map[cdp.LoaderID]bool),
		notify: make(chan struct{}, 1),
	}
}

func (w *idleWatcher) observe(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || e.Name != networkIdleEvent {
		return
	}

	w.mu.Lock()
	w.idle[e.LoaderID] = true
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// wait blocks until loader has reached network idle or ctx ends
func (w *idleWatcher) wait(ctx context.Context, loader cdp.LoaderID) error {
	for {
		w.mu.Lock()
		done := w.idle[loader]
		w.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-w.notify:
		case <-ctx.Done():
			return fmt.Errorf("waiting for network idle: %w", context.Cause(ctx))
		}
	}
}
