package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// EventClass is the coarse class of a raw input event. Only key events carry
// digits; everything else (sync reports, misc scancodes, LEDs) is OTHER.
type EventClass uint8

const (
	ClassOther EventClass = iota
	ClassKey
)

func (c EventClass) String() string {
	if c == ClassKey {
		return "key"
	}
	return "other"
}

// EventValue is the value field of a key event.
type EventValue int32

const (
	ValueRelease EventValue = 0
	ValuePress   EventValue = 1
	ValueRepeat  EventValue = 2
)

// RawEvent is one hardware input notification.
type RawEvent struct {
	Time  time.Time
	Class EventClass
	Code  uint16
	Value EventValue
}

var (
	// ErrDeviceClosed is returned once the device has gone away or the
	// source has been closed. It is permanent.
	ErrDeviceClosed = errors.New("input device closed")

	// ErrShortRead is returned when the device handed back fewer bytes than
	// one full event record. It ends the current scan only.
	ErrShortRead = errors.New("short read from input device")
)

// Source is the interface for all input event sources.
// Implementations block until an event is available, the context is
// cancelled or the device fails.
type Source interface {
	// ReadEvent blocks until the next raw event is available.
	ReadEvent(ctx context.Context) (RawEvent, error)

	// Close releases the device. A ReadEvent blocked in another goroutine
	// returns ErrDeviceClosed.
	Close() error
}

// Config holds configuration for the input source.
type Config struct {
	Type      string `yaml:"type"`       // "evdev", "raw", "fifo"
	Device    string `yaml:"device"`     // e.g. "/dev/rfid", "/dev/input/event0"
	MaxLength int    `yaml:"max_length"` // digits kept per scan (0 = DefaultMaxLength)
}

// New creates a Source based on the provided configuration.
func New(ctx context.Context, cfg Config) (Source, error) {
	if cfg.Device == "" {
		return nil, errors.New("no input device configured")
	}

	switch cfg.Type {
	case "", "evdev", "keyboard":
		return NewEvdev(ctx, cfg.Device)
	case "raw":
		return OpenRaw(cfg.Device)
	case "fifo":
		return NewFIFO(cfg.Device)
	default:
		return nil, fmt.Errorf("unknown reader type %q", cfg.Type)
	}
}

// IsPermanent reports whether err means the device can no longer be read.
// Anything else only terminates the scan in progress.
func IsPermanent(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrDeviceClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, os.ErrClosed),
		errors.Is(err, unix.ENODEV),
		errors.Is(err, unix.EBADF):
		return true
	}
	return false
}
