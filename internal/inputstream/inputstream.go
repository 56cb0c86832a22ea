// Package inputstream implements the lazy, forward-only reader of spec.md
// §4.5: one JSON object per line, read on demand rather than loaded
// entirely into memory, with an optional "metadata" field popped off
// before the payload is sent anywhere.
package inputstream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/eugener/ratedispatch/internal/dispatch"
)

const metadataKey = "metadata"

// Stream reads one line-delimited JSON object at a time and assigns each a
// monotonically increasing task ID, matching the original script's
// task_id_generator_function.
type Stream struct {
	scanner *bufio.Scanner
	nextID  int64
	done    bool
}

// New wraps r, reading lines lazily as Next is called. The caller retains
// ownership of r's lifetime (closing the underlying file, if any).
func New(r io.Reader) *Stream {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Stream{scanner: scanner}
}

// Next returns the next request's payload and optional metadata, or
// ok=false once the stream is exhausted. A line that fails to parse as a
// JSON object is fatal: the input file is authoritative, so Next returns a
// non-nil error in that case and the dispatcher must stop.
func (s *Stream) Next() (payload dispatch.Payload, metadata any, hasMetadata bool, taskID int64, ok bool, err error) {
	if s.done {
		return nil, nil, false, 0, false, nil
	}

	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var obj map[string]any
		if decodeErr := json.Unmarshal(line, &obj); decodeErr != nil {
			s.done = true
			return nil, nil, false, 0, false, fmt.Errorf("inputstream: parse line: %w", decodeErr)
		}

		metadata, hasMetadata = obj[metadataKey]
		delete(obj, metadataKey)

		taskID = s.nextID
		s.nextID++
		return dispatch.Payload(obj), metadata, hasMetadata, taskID, true, nil
	}

	s.done = true
	if scanErr := s.scanner.Err(); scanErr != nil {
		return nil, nil, false, 0, false, fmt.Errorf("inputstream: read: %w", scanErr)
	}
	return nil, nil, false, 0, false, nil
}

// Exhausted reports whether Next has already reported end of input
// (ok=false) or a fatal error. It is still false right after the last
// record is returned, until the following Next call.
func (s *Stream) Exhausted() bool { return s.done }
