package browser

import (
	"context"
)

// CombineContext derives from ctx1 (which carries the CDP target) and is
// canceled when either ctx1 or ctx2 is done.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(ctx1)
	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
