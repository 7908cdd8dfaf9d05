package indicator

import (
	"fmt"
	"io"
	"os"
)

// Neopixel command strings for the external neopixel tool.
const (
	neoNormalIdle    = "@3 !150000 400000"
	neoAccessGranted = "@1 !50000 8000"
	neoAccessDenied  = "@2 !10000 ff"
	neoCommandFailed = "@2 !150000 001010"
	neoTerminated    = "@0 010101"
)

// Neopixel implements Indicator using an external neopixel tool via named pipe.
type Neopixel struct {
	pipe io.WriteCloser
}

// NewNeopixel opens the neopixel tool's command pipe.
func NewNeopixel(pipePath string) (*Neopixel, error) {
	f, err := os.OpenFile(pipePath, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open neopixel pipe %s: %w", pipePath, err)
	}
	return &Neopixel{pipe: f}, nil
}

// Idle implements Indicator.Idle.
func (n *Neopixel) Idle() {
	n.write(neoNormalIdle)
}

// Granted implements Indicator.Granted.
func (n *Neopixel) Granted() {
	n.write(neoAccessGranted)
}

// Denied implements Indicator.Denied.
func (n *Neopixel) Denied() {
	n.write(neoAccessDenied)
}

// Failed implements Indicator.Failed.
func (n *Neopixel) Failed() {
	n.write(neoCommandFailed)
}

// Shutdown implements Indicator.Shutdown.
func (n *Neopixel) Shutdown() {
	n.write(neoTerminated)
}

// Release implements Indicator.Release.
func (n *Neopixel) Release() error {
	if n.pipe == nil {
		return nil
	}
	return n.pipe.Close()
}

func (n *Neopixel) write(s string) {
	if n.pipe != nil {
		io.WriteString(n.pipe, s)
	}
}
