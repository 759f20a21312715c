package event

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const maxFrameBytes = 1024 * 1024

// Decode parses SSE frames back into events. Comment lines and fields other
// than data are ignored; multi-line data fields are joined with newlines.
func Decode(r io.Reader) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	var (
		out     []Event
		dataBuf strings.Builder
	)
	flush := func() error {
		if dataBuf.Len() == 0 {
			return nil
		}
		payload := dataBuf.String()
		dataBuf.Reset()
		var evt Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			return fmt.Errorf("event: decode frame: %w", err)
		}
		out = append(out, evt)
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return out, err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(strings.TrimSpace(line[len("data:"):]))
		}
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}
	return out, flush()
}
