package worker

import (
	"bufio"
	"strings"
)

// streamEvent is one parsed SSE frame.
type streamEvent struct {
	name string
	data string
}

// readEvent reads one "event:"/"data:" frame from an SSE stream. Unknown field
// prefixes and comment lines are ignored for forward compatibility. The read
// blocks until a full frame arrives; closing the underlying body unblocks it.
func readEvent(reader *bufio.Reader) (*streamEvent, error) {
	event := &streamEvent{}
	hasAny := false
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if hasAny {
				return event, nil
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			event.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			hasAny = true
		case strings.HasPrefix(line, "data:"):
			event.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			hasAny = true
		}
	}
}
