package indicator

import (
	"context"
	"sync"
	"time"

	"rfidexec/scan"
)

// DefaultHold is how long an outcome stays shown before the indicator
// returns to Idle.
const DefaultHold = 3 * time.Second

// Observer shows each scan result on an Indicator and returns it to Idle
// after the hold time. Duplicate and dropped empty scans leave the
// indicator as it is. A hold of zero keeps the outcome until the next one.
type Observer struct {
	ind  Indicator
	hold time.Duration

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewObserver creates an Observer driving ind.
func NewObserver(ind Indicator, hold time.Duration) *Observer {
	return &Observer{ind: ind, hold: hold}
}

// ScanHandled implements scan.Observer.
func (o *Observer) ScanHandled(_ context.Context, res scan.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch res.State {
	case scan.StateDispatched:
		o.ind.Granted()
	case scan.StateMiss:
		o.ind.Denied()
	case scan.StateFailed:
		o.ind.Failed()
	default:
		return
	}
	o.scheduleIdle()
}

// scheduleIdle replaces any pending return to Idle. Callers hold mu.
func (o *Observer) scheduleIdle() {
	if o.timer != nil {
		o.timer.Stop()
	}
	o.gen++
	if o.hold <= 0 {
		return
	}

	gen := o.gen
	o.timer = time.AfterFunc(o.hold, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.gen == gen {
			o.ind.Idle()
		}
	})
}

// Stop cancels a pending return to Idle so the indicator can be shut down.
func (o *Observer) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
	}
	o.gen++
}
