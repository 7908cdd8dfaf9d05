package indicator

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"rfidexec/scan"
)

type fakePins struct {
	high map[uint8]bool
}

func (f *fakePins) PinSet(pin uint8)   { f.high[pin] = true }
func (f *fakePins) PinClear(pin uint8) { f.high[pin] = false }

func (f *fakePins) lit() []uint8 {
	var out []uint8
	for _, pin := range []uint8{1, 2, 3} {
		if f.high[pin] {
			out = append(out, pin)
		}
	}
	return out
}

func pin(p uint8) *uint8 { return &p }

func TestGPIO_OneLEDPerOutcome(t *testing.T) {
	pins := &fakePins{high: map[uint8]bool{1: true, 2: true, 3: true}}
	closed := false
	g := newGPIO(pins, func() error { closed = true; return nil }, pin(1), pin(2), pin(3))

	if lit := pins.lit(); len(lit) != 0 {
		t.Fatalf("expected all LEDs off after init, got %v", lit)
	}

	steps := []struct {
		name string
		fn   func()
		want []uint8
	}{
		{"granted", g.Granted, []uint8{1}},
		{"failed", g.Failed, []uint8{2}},
		{"denied", g.Denied, []uint8{3}},
		{"idle", g.Idle, nil},
	}
	for _, st := range steps {
		st.fn()
		if got := pins.lit(); !reflect.DeepEqual(got, st.want) {
			t.Errorf("%s: expected lit %v, got %v", st.name, st.want, got)
		}
	}

	g.Granted()
	if err := g.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !closed {
		t.Error("expected hardware to be closed")
	}
	if lit := pins.lit(); len(lit) != 0 {
		t.Errorf("expected LEDs off after release, got %v", lit)
	}
}

func TestGPIO_MissingPinsAreSkipped(t *testing.T) {
	pins := &fakePins{high: map[uint8]bool{}}
	g := newGPIO(pins, nil, pin(1), nil, nil)

	g.Denied()
	g.Failed()
	if lit := pins.lit(); len(lit) != 0 {
		t.Errorf("expected nothing lit, got %v", lit)
	}
	if err := g.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}
}

type bufferPipe struct {
	bytes.Buffer
	closed bool
}

func (b *bufferPipe) Close() error {
	b.closed = true
	return nil
}

func TestNeopixel_WritesCommands(t *testing.T) {
	pipe := &bufferPipe{}
	n := &Neopixel{pipe: pipe}

	n.Granted()
	n.Denied()
	n.Shutdown()
	if got, want := pipe.String(), neoAccessGranted+neoAccessDenied+neoTerminated; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if err := n.Release(); err != nil || !pipe.closed {
		t.Errorf("expected pipe closed, err=%v", err)
	}
}

// recorder is an Indicator that remembers the calls made to it.
type recorder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) Idle()          { r.add("idle") }
func (r *recorder) Granted()       { r.add("granted") }
func (r *recorder) Denied()        { r.add("denied") }
func (r *recorder) Failed()        { r.add("failed") }
func (r *recorder) Shutdown()      { r.add("shutdown") }
func (r *recorder) Release() error { r.add("release"); return r.err }

func TestMulti_ForwardsAndJoinsErrors(t *testing.T) {
	a, b := &recorder{}, &recorder{err: errors.New("stuck")}
	m := NewMulti(a, b)

	m.Idle()
	m.Granted()
	m.Shutdown()
	err := m.Release()

	want := []string{"idle", "granted", "shutdown", "release"}
	if !reflect.DeepEqual(a.calls, want) || !reflect.DeepEqual(b.calls, want) {
		t.Errorf("expected both to see %v, got %v and %v", want, a.calls, b.calls)
	}
	if err == nil || err.Error() != "stuck" {
		t.Errorf("expected joined release error, got %v", err)
	}
}

func TestNew_NothingConfigured(t *testing.T) {
	ind, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := ind.(*Noop); !ok {
		t.Errorf("expected Noop, got %T", ind)
	}
}

func TestObserver_MapsStates(t *testing.T) {
	rec := &recorder{}
	obs := NewObserver(rec, 0)

	for _, st := range []scan.State{
		scan.StateDispatched, scan.StateDuplicate, scan.StateMiss, scan.StateEmpty, scan.StateFailed,
	} {
		obs.ScanHandled(context.Background(), scan.Result{State: st})
	}

	want := []string{"granted", "denied", "failed"}
	if got := rec.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

// waitCalls polls until rec has n calls or the deadline passes.
func waitCalls(t *testing.T, rec *recorder, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := rec.snapshot(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	return rec.snapshot()
}

func TestObserver_ReturnsToIdleAfterHold(t *testing.T) {
	rec := &recorder{}
	obs := NewObserver(rec, 20*time.Millisecond)
	t.Cleanup(obs.Stop)

	obs.ScanHandled(context.Background(), scan.Result{State: scan.StateMiss})

	want := []string{"denied", "idle"}
	if got := waitCalls(t, rec, 2); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestObserver_NewOutcomeRestartsHold(t *testing.T) {
	rec := &recorder{}
	obs := NewObserver(rec, 50*time.Millisecond)
	t.Cleanup(obs.Stop)

	obs.ScanHandled(context.Background(), scan.Result{State: scan.StateMiss})
	obs.ScanHandled(context.Background(), scan.Result{State: scan.StateDispatched})

	want := []string{"denied", "granted", "idle"}
	waitCalls(t, rec, 3)
	time.Sleep(80 * time.Millisecond) // a stale timer would add a second idle
	if got := rec.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestObserver_StopCancelsIdle(t *testing.T) {
	rec := &recorder{}
	obs := NewObserver(rec, 20*time.Millisecond)

	obs.ScanHandled(context.Background(), scan.Result{State: scan.StateDispatched})
	obs.Stop()
	time.Sleep(60 * time.Millisecond)

	if got := rec.snapshot(); !reflect.DeepEqual(got, []string{"granted"}) {
		t.Errorf("expected no idle after Stop, got %v", got)
	}
}
