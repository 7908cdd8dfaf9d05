package scan

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rfidexec/dispatch"
)

// State is the terminal state a scan reached in the loop.
type State int

const (
	StateDuplicate  State = iota // same code as the previous scan, ignored
	StateMiss                    // no translation configured
	StateDispatched              // command ran and exited zero
	StateFailed                  // command could not be launched or exited non-zero
	StateEmpty                   // zero-digit scan dropped by IgnoreEmpty
)

func (s State) String() string {
	switch s {
	case StateDuplicate:
		return "duplicate"
	case StateMiss:
		return "miss"
	case StateDispatched:
		return "dispatched"
	case StateFailed:
		return "failed"
	case StateEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Result describes how one scan was handled.
type Result struct {
	ID      uuid.UUID
	At      time.Time
	Code    string
	Length  int // digits received, may exceed len(Code)
	State   State
	Command string            // set for StateDispatched and StateFailed
	Outcome *dispatch.Outcome // set for StateDispatched and StateFailed
}

// Observer is notified after every handled scan. Implementations must not
// block for long; the loop waits for them.
type Observer interface {
	ScanHandled(ctx context.Context, res Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, res Result)

// ScanHandled implements Observer.
func (f ObserverFunc) ScanHandled(ctx context.Context, res Result) {
	f(ctx, res)
}

// Observers fans a result out to several observers in order.
type Observers []Observer

// ScanHandled implements Observer.
func (o Observers) ScanHandled(ctx context.Context, res Result) {
	for _, obs := range o {
		if obs != nil {
			obs.ScanHandled(ctx, res)
		}
	}
}
