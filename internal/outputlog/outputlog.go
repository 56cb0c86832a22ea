// Package outputlog implements the Output Log of spec.md §4.2: an
// append-only line-delimited record file. Every terminal outcome — success
// or exhausted-retries failure — is serialized as exactly one line.
//
// Grounded on the teacher's internal/worker/usage_recorder.go: a channel
// feeding a single writer goroutine, run as a worker.Worker. Diverges from
// it in the one place that matters for this spec: usage_recorder drops
// records under backpressure because analytics rows are not load-bearing,
// but an output record is the dispatcher's only durable evidence that a
// request ever completed (spec.md §8's no-loss invariant), so Append blocks
// on a full channel rather than drops, and every record is flushed as its own
// line immediately -- there is no downstream database round trip to batch
// for.
package outputlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/eugener/ratedispatch/internal/dispatch"
)

const channelSize = 256

// Log appends dispatch.Outcome records to a file, one JSON array per line.
type Log struct {
	ch     chan dispatch.Outcome
	done   chan error
	path   string
}

// Open creates (or appends to) the file at path and returns a Log ready to
// run as a worker.Worker. The file is created if absent, per spec.md §4.2.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("outputlog: open %s: %w", path, err)
	}
	f.Close()

	return &Log{
		ch:   make(chan dispatch.Outcome, channelSize),
		done: make(chan error, 1),
		path: path,
	}, nil
}

// Name identifies this worker for startup logging.
func (l *Log) Name() string { return "output_log" }

// Append enqueues a terminal outcome. Blocks if the channel is full rather
// than dropping: every record reaching a terminal state must eventually be
// written (spec.md §8). If ctx is cancelled before the outcome is enqueued,
// Append returns ctx.Err() and the outcome is not written.
func (l *Log) Append(ctx context.Context, outcome dispatch.Outcome) error {
	select {
	case l.ch <- outcome:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run writes queued outcomes to the file until ctx is cancelled, then
// drains whatever remains in the channel before returning -- no timeout,
// since every enqueued record must be written.
func (l *Log) Run(ctx context.Context) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("outputlog: open %s: %w", l.path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	for {
		select {
		case o := <-l.ch:
			if err := writeLine(w, o); err != nil {
				return err
			}
		case <-ctx.Done():
			return l.drain(w)
		}
	}
}

func (l *Log) drain(w *bufio.Writer) error {
	for {
		select {
		case o := <-l.ch:
			if err := writeLine(w, o); err != nil {
				return err
			}
		default:
			return w.Flush()
		}
	}
}

func writeLine(w *bufio.Writer, o dispatch.Outcome) error {
	b, err := json.Marshal(o.Line())
	if err != nil {
		return fmt.Errorf("outputlog: marshal: %w", err)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	if err != nil {
		return fmt.Errorf("outputlog: write: %w", err)
	}
	return w.Flush()
}
