package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"rfidexec/scan"
)

// publisher is the part of Client the observer needs.
type publisher interface {
	Publish(topic string, payload []byte)
}

// ScanMessage is the JSON document published for each scan.
type ScanMessage struct {
	ID       string `json:"id"`
	At       string `json:"at"`
	Code     string `json:"code"`
	Digits   int    `json:"digits"`
	State    string `json:"state"`
	Command  string `json:"command,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewScanMessage converts a scan result to its published form.
func NewScanMessage(res scan.Result) ScanMessage {
	msg := ScanMessage{
		ID:      res.ID.String(),
		At:      res.At.UTC().Format(time.RFC3339Nano),
		Code:    res.Code,
		Digits:  res.Length,
		State:   res.State.String(),
		Command: res.Command,
	}
	if out := res.Outcome; out != nil {
		if out.Started {
			code := out.ExitCode
			msg.ExitCode = &code
		}
		if out.Err != nil {
			msg.Error = out.Err.Error()
		}
	}
	return msg
}

// Observer publishes scan results. Publishing never waits for the broker.
type Observer struct {
	pub        publisher
	topic      string
	duplicates bool
	log        *slog.Logger
}

// NewObserver creates an Observer publishing to the client's scan topic.
func NewObserver(c *Client, cfg Config) *Observer {
	return &Observer{
		pub:        c,
		topic:      c.ScanTopic(),
		duplicates: cfg.PublishDuplicates,
		log:        c.log,
	}
}

// ScanHandled implements scan.Observer.
func (o *Observer) ScanHandled(ctx context.Context, res scan.Result) {
	if res.State == scan.StateDuplicate && !o.duplicates {
		return
	}

	payload, err := json.Marshal(NewScanMessage(res))
	if err != nil {
		o.log.WarnContext(ctx, "encode scan message", "error", err)
		return
	}
	o.pub.Publish(o.topic, payload)
}
