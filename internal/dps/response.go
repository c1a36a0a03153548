package dps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/EternisAI/silo-device/internal/buffer"
)

const (
	operationIDMarker = `"operationId":"`
	assignedHubMarker = `"assignedHub":"`

	readChunkSize = 128
)

// readResponse waits up to ResponseTimeout for the body. Headers are skipped
// by discarding everything before the first '{'. Reading continues across
// idle gaps until the JSON object closes, the stream ends or the deadline
// passes. The JSON body must fit in MaxResponseSize.
func (c *Client) readResponse(ctx context.Context) (buffer.View, error) {
	deadline := time.NewTimer(c.cfg.ResponseTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.ReadInterval)
	defer ticker.Stop()

	body := buffer.Alloc(c.cfg.MaxResponseSize)
	chunk := make([]byte, readChunkSize)
	var scan jsonScanner
	received := false

	for !scan.complete() {
		if c.stream.Available() == 0 {
			select {
			case <-ctx.Done():
				return buffer.View{}, ctx.Err()
			case <-deadline.C:
				if !received {
					return buffer.View{}, fmt.Errorf("%w: no data within %s", ErrResponseTimeout, c.cfg.ResponseTimeout)
				}
				return body.View(), nil
			case <-ticker.C:
			}
			continue
		}

		n, err := c.stream.Read(chunk)
		received = received || n > 0
		if data := scan.feed(chunk[:n]); len(data) > 0 {
			if _, werr := body.Write(data); werr != nil {
				return buffer.View{}, fmt.Errorf("%w: body larger than %d bytes", ErrResponseTooLarge, c.cfg.MaxResponseSize)
			}
		}

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return buffer.View{}, fmt.Errorf("%w: read: %w", ErrConnect, err)
		}
	}

	return body.View(), nil
}

// jsonScanner tracks object nesting so the reader knows when the body is
// complete. Braces inside strings are ignored.
type jsonScanner struct {
	started  bool
	depth    int
	inString bool
	escaped  bool
	done     bool
}

func (j *jsonScanner) complete() bool { return j.done }

// feed returns the part of data that belongs to the body.
func (j *jsonScanner) feed(data []byte) []byte {
	if j.done {
		return nil
	}
	if !j.started {
		i := bytes.IndexByte(data, '{')
		if i < 0 {
			return nil
		}
		data = data[i:]
		j.started = true
	}

	for i, ch := range data {
		switch {
		case j.escaped:
			j.escaped = false
		case j.inString && ch == '\\':
			j.escaped = true
		case ch == '"':
			j.inString = !j.inString
		case j.inString:
		case ch == '{':
			j.depth++
		case ch == '}':
			j.depth--
			if j.depth == 0 {
				j.done = true
				return data[:i+1]
			}
		}
	}
	return data
}

// extractField returns the string value following marker, up to the next
// double quote. An empty value counts as missing.
func extractField(body buffer.View, marker string) (string, error) {
	i := body.IndexOf([]byte(marker), 0)
	if i < 0 {
		return "", fmt.Errorf("%w: %s", ErrMarkerNotFound, marker)
	}
	start := i + len(marker)
	end := body.IndexOf([]byte(`"`), start)
	if end <= start {
		return "", fmt.Errorf("%w: %s has no value", ErrMarkerNotFound, marker)
	}
	return body.Slice(start, end).String(), nil
}
