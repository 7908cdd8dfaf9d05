package reader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/kenshaw/evdev"
)

// Evdev implements Source for keyboard-emulating readers exposed through
// the Linux input subsystem.
type Evdev struct {
	device *evdev.Evdev
	events <-chan *evdev.EventEnvelope
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
}

// NewEvdev opens the input device and starts polling it. Polling stops when
// ctx is cancelled or the source is closed.
func NewEvdev(ctx context.Context, device string) (*Evdev, error) {
	dev, err := evdev.OpenFile(device)
	if err != nil {
		return nil, fmt.Errorf("open evdev %s: %w", device, err)
	}

	slog.Info("opened input device",
		"component", "reader",
		"path", device,
		"name", dev.Name(),
		"vendor", fmt.Sprintf("0x%04x", dev.ID().Vendor),
		"product", fmt.Sprintf("0x%04x", dev.ID().Product))

	pollCtx, cancel := context.WithCancel(ctx)
	return &Evdev{
		device: dev,
		events: dev.Poll(pollCtx),
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

// ReadEvent implements Source.ReadEvent.
func (e *Evdev) ReadEvent(ctx context.Context) (RawEvent, error) {
	select {
	case <-ctx.Done():
		return RawEvent{}, ctx.Err()
	case <-e.done:
		return RawEvent{}, ErrDeviceClosed
	case event, ok := <-e.events:
		if !ok || event == nil {
			return RawEvent{}, ErrDeviceClosed
		}

		raw := RawEvent{
			Time:  eventTime(event.Time),
			Class: ClassOther,
			Code:  uint16(event.Code),
			Value: EventValue(event.Value),
		}
		if _, isKey := event.Type.(evdev.KeyType); isKey {
			raw.Class = ClassKey
		}
		return raw, nil
	}
}

// eventTime converts the kernel timestamp of an event. Devices that leave
// it unset get the read time.
func eventTime(tv syscall.Timeval) time.Time {
	sec, nsec := tv.Unix()
	if sec == 0 && nsec == 0 {
		return time.Now()
	}
	return time.Unix(sec, nsec)
}

// Close implements Source.Close.
func (e *Evdev) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		e.cancel()
		if e.device != nil {
			err = e.device.Close()
		}
	})
	return err
}
