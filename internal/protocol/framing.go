// ABOUTME: Newline-delimited framing for one JSON message per direction per connection
// ABOUTME: Distinguishes clean EOF, truncated frames and oversized frames

package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single message. Prompts are the largest payloads and
// a megabyte leaves plenty of room.
const MaxFrameSize = 1 << 20

var (
	// ErrIncompleteFrame means the peer closed the stream before the newline.
	ErrIncompleteFrame = errors.New("connection closed mid-message")

	// ErrFrameTooLarge means a message exceeded the size limit.
	ErrFrameTooLarge = errors.New("message exceeds maximum frame size")
)

// ReadFrame reads one newline-terminated message from r and returns it without
// the trailing newline. It returns io.EOF when the stream ends before any
// byte was read and ErrIncompleteFrame when it ends mid-message.
func ReadFrame(r io.Reader, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = MaxFrameSize
	}
	br := bufio.NewReader(io.LimitReader(r, int64(limit)+1))

	line, err := br.ReadBytes('\n')
	switch {
	case err == nil:
		return bytes.TrimSuffix(bytes.TrimSuffix(line, []byte("\n")), []byte("\r")), nil
	case errors.Is(err, io.EOF):
		if len(line) == 0 {
			return nil, io.EOF
		}
		if len(line) > limit {
			return nil, ErrFrameTooLarge
		}
		return nil, ErrIncompleteFrame
	default:
		return nil, fmt.Errorf("reading frame: %w", err)
	}
}

// WriteFrame encodes v as JSON and writes it followed by a newline.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}
