// Package sse reads Server-Sent Events streams.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is one dispatched SSE event. Data lines are joined with "\n".
type Event struct {
	Type string
	Data string
	ID   string
}

// Reader parses the event-stream grammar: lines are buffered until a blank
// line ends the event; comment lines (leading ':') are skipped.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next event. At end of stream a final unterminated event
// is still returned, followed by io.EOF on the next call.
func (r *Reader) Next() (Event, error) {
	var (
		ev      Event
		data    []string
		pending bool
	)
	for {
		line, err := r.r.ReadString('\n')
		if err != nil && line == "" {
			if pending {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			return Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if pending {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Type = value
			pending = true
		case "data":
			data = append(data, value)
			pending = true
		case "id":
			ev.ID = value
		}
	}
}

// Write formats one event in the wire grammar.
func Write(w io.Writer, eventType string, data []byte) error {
	var sb strings.Builder
	if eventType != "" {
		sb.WriteString("event: " + eventType + "\n")
	}
	for _, line := range strings.Split(string(data), "\n") {
		sb.WriteString("data: " + line + "\n")
	}
	sb.WriteString("\n")
	_, err := io.WriteString(w, sb.String())
	return err
}
