package scan_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"rfidexec/dispatch"
	"rfidexec/reader"
	"rfidexec/scan"
	"rfidexec/table"
)

// scriptedDecoder returns the queued scans in order, then err.
type scriptedDecoder struct {
	scans []reader.Scan
	errs  []error // per-scan error, optional
	end   error
	calls int
}

func (d *scriptedDecoder) Next(ctx context.Context) (reader.Scan, error) {
	if err := ctx.Err(); err != nil {
		return reader.Scan{}, err
	}
	i := d.calls
	d.calls++
	if i >= len(d.scans) {
		if d.end != nil {
			return reader.Scan{}, d.end
		}
		return reader.Scan{}, reader.ErrDeviceClosed
	}
	var err error
	if i < len(d.errs) {
		err = d.errs[i]
	}
	return d.scans[i], err
}

// recordingDispatcher records every command it is asked to run.
type recordingDispatcher struct {
	commands []string
	env      [][]string
	outcome  dispatch.Outcome
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, command string, env ...string) dispatch.Outcome {
	r.commands = append(r.commands, command)
	r.env = append(r.env, env)
	out := r.outcome
	out.Command = command
	return out
}

func okOutcome() dispatch.Outcome {
	return dispatch.Outcome{Started: true, ExitCode: 0}
}

type harness struct {
	loop    *scan.Loop
	dec     *scriptedDecoder
	disp    *recordingDispatcher
	results []scan.Result
	logs    *bytes.Buffer
}

func newHarness(t *testing.T, entries []table.Entry, scans ...string) *harness {
	t.Helper()

	h := &harness{
		dec:  &scriptedDecoder{},
		disp: &recordingDispatcher{outcome: okOutcome()},
		logs: &bytes.Buffer{},
	}
	for _, s := range scans {
		h.dec.scans = append(h.dec.scans, reader.Scan{Code: s, Length: len(s)})
	}

	h.loop = scan.New(scan.Dependencies{
		Decoder:    h.dec,
		Table:      table.New(entries),
		Dispatcher: h.disp,
		Observer: scan.ObserverFunc(func(_ context.Context, res scan.Result) {
			h.results = append(h.results, res)
		}),
		Logger:    slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		MaxLength: reader.DefaultMaxLength,
	})
	return h
}

func (h *harness) run(t *testing.T) error {
	t.Helper()
	return h.loop.Run(context.Background())
}

func (h *harness) states() []scan.State {
	out := make([]scan.State, len(h.results))
	for i, r := range h.results {
		out[i] = r.State
	}
	return out
}

func equalStates(a, b []scan.State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var unlock = []table.Entry{{Code: "0098765432", Command: "/usr/bin/unlock-door"}}

// ── End to end ───────────────────────────────────────────────────────────────

func TestRun_KnownTagDispatchesOnce(t *testing.T) {
	h := newHarness(t, unlock, "0098765432")

	err := h.run(t)
	if !errors.Is(err, reader.ErrDeviceClosed) {
		t.Fatalf("expected loop to end with ErrDeviceClosed, got %v", err)
	}

	if len(h.disp.commands) != 1 || h.disp.commands[0] != "/usr/bin/unlock-door" {
		t.Fatalf("expected one dispatch of /usr/bin/unlock-door, got %v", h.disp.commands)
	}
	if got := h.disp.env[0]; len(got) != 1 || got[0] != "RFIDEXEC_TAG=0098765432" {
		t.Errorf("expected tag in command environment, got %v", got)
	}
	if !equalStates(h.states(), []scan.State{scan.StateDispatched}) {
		t.Errorf("unexpected states %v", h.states())
	}

	res := h.results[0]
	if res.Command != "/usr/bin/unlock-door" || res.Outcome == nil || !res.Outcome.OK() {
		t.Errorf("unexpected result %+v", res)
	}
	if res.ID == uuid.Nil || res.At.IsZero() {
		t.Error("expected result to carry an ID and a timestamp")
	}
}

func TestRun_SameTagThreeTimesDispatchesOnce(t *testing.T) {
	h := newHarness(t, unlock, "0098765432", "0098765432", "0098765432")
	_ = h.run(t)

	if len(h.disp.commands) != 1 {
		t.Errorf("expected exactly one dispatch, got %d", len(h.disp.commands))
	}
	want := []scan.State{scan.StateDispatched, scan.StateDuplicate, scan.StateDuplicate}
	if !equalStates(h.states(), want) {
		t.Errorf("expected %v, got %v", want, h.states())
	}
}

func TestRun_DifferentTagResetsGuard(t *testing.T) {
	entries := append([]table.Entry{{Code: "0012345678", Command: "/usr/bin/garage"}}, unlock...)
	h := newHarness(t, entries, "0098765432", "0098765432", "0012345678", "0098765432")
	_ = h.run(t)

	want := []string{"/usr/bin/unlock-door", "/usr/bin/garage", "/usr/bin/unlock-door"}
	if strings.Join(h.disp.commands, ",") != strings.Join(want, ",") {
		t.Errorf("expected dispatches %v, got %v", want, h.disp.commands)
	}
}

func TestRun_EmptyTableNeverDispatches(t *testing.T) {
	h := newHarness(t, nil, "0098765432")
	_ = h.run(t)

	if len(h.disp.commands) != 0 {
		t.Errorf("expected no dispatch, got %v", h.disp.commands)
	}
	if n := strings.Count(h.logs.String(), `msg="no translation"`); n != 1 {
		t.Errorf("expected one miss record, got %d:\n%s", n, h.logs.String())
	}
	if !strings.Contains(h.logs.String(), "level=DEBUG") || !strings.Contains(h.logs.String(), "code=0098765432") {
		t.Errorf("expected debug miss record with the code, got:\n%s", h.logs.String())
	}
}

func TestRun_RepeatedUnknownTagLogsOnce(t *testing.T) {
	h := newHarness(t, nil, "1111", "1111", "1111")
	_ = h.run(t)

	if n := strings.Count(h.logs.String(), `msg="no translation"`); n != 1 {
		t.Errorf("expected one miss record, got %d", n)
	}
	want := []scan.State{scan.StateMiss, scan.StateDuplicate, scan.StateDuplicate}
	if !equalStates(h.states(), want) {
		t.Errorf("expected %v, got %v", want, h.states())
	}
}

func TestRun_FailedDispatchDoesNotStopLoop(t *testing.T) {
	h := newHarness(t, append(unlock, table.Entry{Code: "1", Command: "/bin/other"}), "0098765432", "1")
	h.disp.outcome = dispatch.Outcome{ExitCode: -1, Err: errors.New("start /bin/sh: no such file")}

	err := h.run(t)
	if !errors.Is(err, reader.ErrDeviceClosed) {
		t.Fatalf("expected loop to run to the end of input, got %v", err)
	}
	if len(h.disp.commands) != 2 {
		t.Errorf("expected both scans dispatched, got %v", h.disp.commands)
	}
	want := []scan.State{scan.StateFailed, scan.StateFailed}
	if !equalStates(h.states(), want) {
		t.Errorf("expected %v, got %v", want, h.states())
	}
}

// ── Empty and overflowing scans ──────────────────────────────────────────────

func TestRun_EmptyScanPassesThroughByDefault(t *testing.T) {
	h := newHarness(t, unlock, "0098765432", "", "0098765432")
	_ = h.run(t)

	if len(h.disp.commands) != 2 {
		t.Errorf("expected the empty scan to reset the guard, got %d dispatches", len(h.disp.commands))
	}
	want := []scan.State{scan.StateDispatched, scan.StateMiss, scan.StateDispatched}
	if !equalStates(h.states(), want) {
		t.Errorf("expected %v, got %v", want, h.states())
	}
}

func TestRun_IgnoreEmpty(t *testing.T) {
	h := newHarness(t, unlock, "0098765432", "", "0098765432")
	h.loop = scan.New(scan.Dependencies{
		Decoder:    h.dec,
		Table:      table.New(unlock),
		Dispatcher: h.disp,
		Observer: scan.ObserverFunc(func(_ context.Context, res scan.Result) {
			h.results = append(h.results, res)
		}),
		IgnoreEmpty: true,
	})
	_ = h.run(t)

	if len(h.disp.commands) != 1 {
		t.Errorf("expected one dispatch, got %d", len(h.disp.commands))
	}
	want := []scan.State{scan.StateDispatched, scan.StateEmpty, scan.StateDuplicate}
	if !equalStates(h.states(), want) {
		t.Errorf("expected %v, got %v", want, h.states())
	}
}

func TestRun_OverflowScanThenNextScan(t *testing.T) {
	h := newHarness(t, unlock)
	h.dec.scans = []reader.Scan{
		{Code: "12345678", Length: 30},
		{Code: "0098765432", Length: 10},
	}
	_ = h.run(t)

	if h.results[0].Code != "12345678" || h.results[0].Length != 30 || h.results[0].State != scan.StateMiss {
		t.Errorf("unexpected overflow result %+v", h.results[0])
	}
	if h.results[1].State != scan.StateDispatched {
		t.Errorf("expected next scan dispatched, got %v", h.results[1].State)
	}
}

// ── Error handling ───────────────────────────────────────────────────────────

func TestRun_TransientErrorEndsScanOnly(t *testing.T) {
	h := newHarness(t, unlock)
	h.dec.scans = []reader.Scan{{Code: "0098765432", Length: 10}, {Code: "5", Length: 1}}
	h.dec.errs = []error{reader.ErrShortRead, nil}
	_ = h.run(t)

	if len(h.results) != 2 {
		t.Fatalf("expected both scans handled, got %d", len(h.results))
	}
	if h.results[0].State != scan.StateDispatched {
		t.Errorf("expected partial scan to be dispatched, got %v", h.results[0].State)
	}
}

func TestRun_PermanentErrorHandlesPartialThenReturns(t *testing.T) {
	h := newHarness(t, unlock)
	h.dec.scans = []reader.Scan{{Code: "0098765432", Length: 10}}
	h.dec.errs = []error{reader.ErrDeviceClosed}

	err := h.run(t)
	if !reader.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if h.dec.calls != 1 {
		t.Errorf("expected loop to stop after the failing read, got %d reads", h.dec.calls)
	}
	if len(h.disp.commands) != 1 {
		t.Errorf("expected partial scan dispatched, got %v", h.disp.commands)
	}
}

func TestRun_PermanentErrorWithoutDigitsIsNotHandled(t *testing.T) {
	h := newHarness(t, unlock)
	_ = h.run(t)

	if len(h.results) != 0 {
		t.Errorf("expected no results, got %v", h.states())
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	h := newHarness(t, unlock, "0098765432")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.loop.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(h.results) != 0 {
		t.Errorf("expected nothing handled, got %v", h.states())
	}
}

func TestObservers_FanOutInOrder(t *testing.T) {
	var order []string
	obs := scan.Observers{
		scan.ObserverFunc(func(context.Context, scan.Result) { order = append(order, "a") }),
		nil,
		scan.ObserverFunc(func(context.Context, scan.Result) { order = append(order, "b") }),
	}
	obs.ScanHandled(context.Background(), scan.Result{})

	if strings.Join(order, "") != "ab" {
		t.Errorf("expected a then b, got %v", order)
	}
}
