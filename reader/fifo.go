package reader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const keyEnter = 28

// maxLineLength bounds one line of pipe input; longer lines are dropped.
const maxLineLength = 4096

// FIFO implements Source by simulating a reader from lines written to a
// named pipe. Each line is a tag code, optionally prefixed with "rfid" or
// "tag"; it is replayed as digit key presses followed by Enter.
//
//	echo 0098765432 > /run/rfidexec.fifo
type FIFO struct {
	path     string
	file     *os.File
	r        *bufio.Reader
	overlong bool // discarding the rest of a line past maxLineLength
	pending  []RawEvent
	log      *slog.Logger

	closeOnce sync.Once
}

// NewFIFO creates the named pipe at path (replacing a stale one) and opens
// it for reading.
func NewFIFO(path string) (*FIFO, error) {
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode().Type() != fs.ModeNamedPipe {
			return nil, fmt.Errorf("%s exists and is not a named pipe", path)
		}
		os.Remove(path)
	}

	if err := unix.Mkfifo(path, 0o620); err != nil {
		return nil, fmt.Errorf("create named pipe %s: %w", path, err)
	}

	// Held open read-write so the pipe never reports EOF between writers.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("open named pipe %s: %w", path, err)
	}

	slog.Info("simulated reader listening", "component", "reader", "path", path)

	return &FIFO{
		path:    path,
		file:    f,
		r:       bufio.NewReaderSize(f, maxLineLength),
		log:     slog.Default().With("component", "reader"),
	}, nil
}

// ReadEvent implements Source.ReadEvent.
func (p *FIFO) ReadEvent(ctx context.Context) (RawEvent, error) {
	for len(p.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return RawEvent{}, err
		}
		line, err := p.r.ReadSlice('\n')
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			p.overlong = true
			continue
		case err != nil:
			return RawEvent{}, fmt.Errorf("read named pipe: %w: %w", ErrDeviceClosed, err)
		case p.overlong:
			p.overlong = false
			p.log.Warn("ignoring pipe input", "error", "line too long")
			continue
		}

		events, err := lineEvents(strings.TrimRight(string(line), "\r\n"), time.Now())
		if err != nil {
			p.log.Warn("ignoring pipe input", "error", err)
			continue
		}
		p.pending = events
	}

	ev := p.pending[0]
	p.pending = p.pending[1:]
	return ev, nil
}

// Close implements Source.Close and removes the pipe.
func (p *FIFO) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.file.Close()
		os.Remove(p.path)
	})
	return err
}

// lineEvents turns one line of pipe input into the key events a keyboard
// emulating reader would produce for it. Blank and comment lines yield no
// events.
func lineEvents(line string, at time.Time) ([]RawEvent, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}

	parts := strings.Fields(line)
	code := parts[0]
	switch strings.ToLower(code) {
	case "rfid", "tag":
		if len(parts) < 2 {
			return nil, fmt.Errorf("%s requires a tag code", parts[0])
		}
		code = parts[1]
	}

	events := make([]RawEvent, 0, 2*len(code)+2)
	for i := 0; i < len(code); i++ {
		kc, ok := KeyCode(code[i])
		if !ok {
			return nil, fmt.Errorf("invalid tag code %q", code)
		}
		events = append(events,
			RawEvent{Time: at, Class: ClassKey, Code: kc, Value: ValuePress},
			RawEvent{Time: at, Class: ClassKey, Code: kc, Value: ValueRelease},
		)
	}
	events = append(events,
		RawEvent{Time: at, Class: ClassKey, Code: keyEnter, Value: ValuePress},
		RawEvent{Time: at, Class: ClassKey, Code: keyEnter, Value: ValueRelease},
	)
	return events, nil
}
