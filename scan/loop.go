// Package scan turns decoded tag scans into command dispatches.
//
// A Loop owns all state shared between scans: the duplicate guard, the
// translation table and the dispatcher. It runs on a single goroutine and
// blocks in the decoder between scans:
//
//	WAIT_SCAN -> DECODED -> DUPLICATE | LOOKUP_MISS | DISPATCHED -> WAIT_SCAN
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"rfidexec/dispatch"
	"rfidexec/reader"
)

// Decoder yields one scan per call, blocking until it is complete.
type Decoder interface {
	Next(ctx context.Context) (reader.Scan, error)
}

// Table resolves a tag code to a command by exact match.
type Table interface {
	Lookup(code string) (string, bool)
}

// Dispatcher runs a command and reports how it went.
type Dispatcher interface {
	Dispatch(ctx context.Context, command string, env ...string) dispatch.Outcome
}

// Dependencies holds everything a Loop needs. Decoder, Table and Dispatcher
// are required.
type Dependencies struct {
	Decoder    Decoder
	Table      Table
	Dispatcher Dispatcher
	Observer   Observer
	Logger     *slog.Logger

	// MaxLength bounds the duplicate comparison; it should match the
	// decoder's limit.
	MaxLength int

	// IgnoreEmpty drops zero-digit scans before the duplicate guard.
	IgnoreEmpty bool
}

// Loop is the scan controller.
type Loop struct {
	decoder     Decoder
	table       Table
	dispatcher  Dispatcher
	observer    Observer
	guard       *Guard
	ignoreEmpty bool
	log         *slog.Logger

	now func() time.Time
}

// New creates a Loop.
func New(deps Dependencies) *Loop {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	observer := deps.Observer
	if observer == nil {
		observer = Observers(nil)
	}

	return &Loop{
		decoder:     deps.Decoder,
		table:       deps.Table,
		dispatcher:  deps.Dispatcher,
		observer:    observer,
		guard:       NewGuard(deps.MaxLength),
		ignoreEmpty: deps.IgnoreEmpty,
		log:         log.With("component", "scan"),
		now:         time.Now,
	}
}

// Run decodes and handles scans until ctx is cancelled or the device can no
// longer be read. Read errors that are not permanent end the scan in
// progress and the loop carries on; a scan cut short by a permanent error
// is still handled if it carried any digits.
func (l *Loop) Run(ctx context.Context) error {
	for {
		s, err := l.decoder.Next(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		switch {
		case err == nil:
			l.Handle(ctx, s)
		case reader.IsPermanent(err):
			if s.Length > 0 {
				l.Handle(ctx, s)
			}
			return fmt.Errorf("read tag: %w", err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			l.log.DebugContext(ctx, "scan ended by read error", "error", err, "digits", s.Length)
			l.Handle(ctx, s)
		}
	}
}

// Handle runs one decoded scan through the duplicate guard, the table and
// the dispatcher, then notifies the observer.
func (l *Loop) Handle(ctx context.Context, s reader.Scan) Result {
	res := Result{
		ID:     uuid.New(),
		At:     l.now(),
		Code:   s.Code,
		Length: s.Length,
	}

	if s.Truncated() {
		l.log.DebugContext(ctx, "tag code truncated", "code", s.Code, "digits", s.Length)
	}

	switch {
	case s.Length == 0 && l.ignoreEmpty:
		res.State = StateEmpty

	case l.guard.Duplicate(s.Code):
		l.log.DebugContext(ctx, "duplicate scan ignored", "code", s.Code)
		res.State = StateDuplicate

	default:
		command, ok := l.table.Lookup(s.Code)
		if !ok {
			l.log.DebugContext(ctx, "no translation", "code", s.Code)
			res.State = StateMiss
			break
		}

		out := l.dispatcher.Dispatch(ctx, command, "RFIDEXEC_TAG="+s.Code)
		res.Command = command
		res.Outcome = &out
		res.State = StateDispatched
		if !out.OK() {
			res.State = StateFailed
		}
	}

	l.observer.ScanHandled(ctx, res)
	return res
}

// LastCode returns the most recent code recorded by the duplicate guard.
func (l *Loop) LastCode() string {
	return l.guard.Last()
}
