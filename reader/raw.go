package reader

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux event types and the layout of struct input_event:
// struct timeval, __u16 type, __u16 code, __s32 value.
const (
	evKey = 0x01

	timevalSize = int(unsafe.Sizeof(unix.Timeval{}))
	RecordSize  = timevalSize + 8
)

// Raw implements Source over a stream of native-endian struct input_event
// records, such as an open /dev/input/eventN character device.
type Raw struct {
	r      io.Reader
	closer io.Closer
	buf    []byte
}

// NewRaw creates a Raw source reading records from r. If r is also an
// io.Closer it is closed by Close.
func NewRaw(r io.Reader) *Raw {
	raw := &Raw{
		r:   r,
		buf: make([]byte, RecordSize),
	}
	if c, ok := r.(io.Closer); ok {
		raw.closer = c
	}
	return raw
}

// OpenRaw opens the device at path for reading raw event records.
func OpenRaw(path string) (*Raw, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw device %s: %w", path, err)
	}
	return NewRaw(f), nil
}

// ReadEvent implements Source.ReadEvent. Reads interrupted by a signal are
// retried; a read shorter than one record returns ErrShortRead.
func (r *Raw) ReadEvent(ctx context.Context) (RawEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return RawEvent{}, err
		}

		n, err := r.r.Read(r.buf)
		if n == len(r.buf) {
			return decodeRecord(r.buf), nil
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if n == 0 {
				return RawEvent{}, err
			}
		}
		return RawEvent{}, ErrShortRead
	}
}

// Close implements Source.Close.
func (r *Raw) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func decodeRecord(b []byte) RawEvent {
	var sec, usec int64
	if timevalSize == 16 {
		sec = int64(binary.NativeEndian.Uint64(b[0:8]))
		usec = int64(binary.NativeEndian.Uint64(b[8:16]))
	} else {
		sec = int64(int32(binary.NativeEndian.Uint32(b[0:4])))
		usec = int64(int32(binary.NativeEndian.Uint32(b[4:8])))
	}

	ev := RawEvent{
		Time:  time.Unix(sec, usec*int64(time.Microsecond)),
		Class: ClassOther,
		Code:  binary.NativeEndian.Uint16(b[timevalSize+2:]),
		Value: EventValue(int32(binary.NativeEndian.Uint32(b[timevalSize+4:]))),
	}
	if binary.NativeEndian.Uint16(b[timevalSize:]) == evKey {
		ev.Class = ClassKey
	}
	return ev
}

// EncodeRecord serializes ev in the struct input_event layout read by Raw.
// Key events are written with type EV_KEY, everything else as EV_SYN.
func EncodeRecord(ev RawEvent) []byte {
	b := make([]byte, RecordSize)
	sec := ev.Time.Unix()
	usec := int64(ev.Time.Nanosecond()) / int64(time.Microsecond)
	if timevalSize == 16 {
		binary.NativeEndian.PutUint64(b[0:8], uint64(sec))
		binary.NativeEndian.PutUint64(b[8:16], uint64(usec))
	} else {
		binary.NativeEndian.PutUint32(b[0:4], uint32(sec))
		binary.NativeEndian.PutUint32(b[4:8], uint32(usec))
	}

	var typ uint16
	if ev.Class == ClassKey {
		typ = evKey
	}
	binary.NativeEndian.PutUint16(b[timevalSize:], typ)
	binary.NativeEndian.PutUint16(b[timevalSize+2:], ev.Code)
	binary.NativeEndian.PutUint32(b[timevalSize+4:], uint32(int32(ev.Value)))
	return b
}
