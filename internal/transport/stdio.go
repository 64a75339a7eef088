// Package transport moves newline-delimited lines between the bridge and the
// process that spawned it.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// MaxLineSize bounds a single inbound line.
const MaxLineSize = 1 << 20

// ReadLines reads r on its own goroutine and delivers each non-empty line on
// the returned channel, which holds at most depth pending lines. A line longer
// than MaxLineSize is discarded up to its newline and reading continues. The
// channel is closed at EOF, on a read error, or when ctx is done.
func ReadLines(ctx context.Context, r io.Reader, depth int, logger *zap.Logger) <-chan []byte {
	if logger == nil {
		logger = zap.NewNop()
	}
	if depth < 0 {
		depth = 0
	}
	lines := make(chan []byte, depth)

	go func() {
		defer close(lines)
		br := bufio.NewReaderSize(r, MaxLineSize)
		for {
			line, err := readLine(br)
			if errors.Is(err, errLineTooLong) {
				logger.Warn("dropping malformed line", zap.Error(err), zap.Int("max_bytes", MaxLineSize))
				continue
			}
			if len(line) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err == io.EOF {
				logger.Info("inbound channel closed")
				return
			}
			if err != nil {
				logger.Error("inbound read failed", zap.Error(err))
				return
			}
		}
	}()

	return lines
}

var errLineTooLong = errors.New("line exceeds maximum size")

// readLine returns the next line without its "\n" or "\r\n", as a fresh copy.
// An overlong line is consumed through its newline and reported as
// errLineTooLong. A final line without a newline is returned with io.EOF.
func readLine(br *bufio.Reader) ([]byte, error) {
	b, err := br.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = br.ReadSlice('\n')
		}
		if err != nil && err != io.EOF {
			return nil, err
		}
		return nil, errLineTooLong
	}
	b = bytes.TrimSuffix(b, []byte("\n"))
	b = bytes.TrimSuffix(b, []byte("\r"))
	line := make([]byte, len(b))
	copy(line, b)
	return line, err
}

// LineWriter frames lines with '\n' and flushes after each one. The target is
// not part of the framing: the peer reads it from the envelope.
type LineWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: bufio.NewWriter(w)}
}

func (l *LineWriter) Send(_ string, line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(line); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush line: %w", err)
	}
	return nil
}
