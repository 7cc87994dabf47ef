package pipe

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame, newline included.
const MaxFrameSize = 1 << 20

var errFrameTooLarge = errors.New("frame exceeds maximum size")

// readFrame reads one newline-terminated frame without the newline.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var frame []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(frame)+len(chunk) > MaxFrameSize {
			return nil, errFrameTooLarge
		}
		frame = append(frame, chunk...)
		switch {
		case err == nil:
			frame = bytes.TrimRight(frame, "\r\n")
			if len(frame) == 0 {
				// Blank keep-alive line.
				continue
			}
			return frame, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(frame) > 0:
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}

// writeFrame marshals v and writes it as one line.
func writeFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if len(data)+1 > MaxFrameSize {
		return errFrameTooLarge
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
