package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"log/syslog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

const syslogTag = "rfidexec"

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// newLogger builds the process logger: tint on stderr in the foreground,
// syslog when detached or when asked to. The returned closer releases the
// syslog connection and is nil otherwise.
func newLogger(cfg LogConfig, useSyslog bool) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	if useSyslog {
		w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, syslogTag)
		if err != nil {
			return nil, nil, fmt.Errorf("connect syslog: %w", err)
		}
		logger := slog.New(newSyslogHandler(w, level))
		log.SetOutput(w)
		log.SetFlags(0)
		return logger, w, nil
	}

	return slog.New(newTintHandler(os.Stderr, level)), nil, nil
}

func newTintHandler(f *os.File, level slog.Leveler) slog.Handler {
	return tint.NewHandler(f, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    !isatty.IsTerminal(f.Fd()),
	})
}

// syslogWriter is the part of *syslog.Writer the handler uses.
type syslogWriter interface {
	Debug(m string) error
	Info(m string) error
	Warning(m string) error
	Err(m string) error
}

// syslogHandler formats records as logfmt without time or level (syslog
// adds both) and writes them at the matching syslog priority.
type syslogHandler struct {
	w     syslogWriter
	level slog.Leveler
	text  slog.Handler

	mu  *sync.Mutex
	buf *bytes.Buffer
}

func newSyslogHandler(w syslogWriter, level slog.Leveler) *syslogHandler {
	buf := &bytes.Buffer{}
	return &syslogHandler{
		w:     w,
		level: level,
		text: slog.NewTextHandler(buf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey) {
					return slog.Attr{}
				}
				return a
			},
		}),
		mu:  &sync.Mutex{},
		buf: buf,
	}
}

func (h *syslogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *syslogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	h.buf.Reset()
	err := h.text.Handle(ctx, r)
	line := strings.TrimSuffix(h.buf.String(), "\n")
	h.mu.Unlock()
	if err != nil {
		return err
	}

	switch {
	case r.Level >= slog.LevelError:
		return h.w.Err(line)
	case r.Level >= slog.LevelWarn:
		return h.w.Warning(line)
	case r.Level >= slog.LevelInfo:
		return h.w.Info(line)
	default:
		return h.w.Debug(line)
	}
}

func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.text = h.text.WithAttrs(attrs)
	return &h2
}

func (h *syslogHandler) WithGroup(name string) slog.Handler {
	h2 := *h
	h2.text = h.text.WithGroup(name)
	return &h2
}
