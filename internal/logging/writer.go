package logging

import (
	"bytes"
	"log/slog"
	"sync"
)

// Writer turns command output into log records, one per line.
type Writer struct {
	mu     sync.Mutex
	logger *slog.Logger
	attrs  []any
	buf    []byte
}

// NewWriter returns a Writer logging at debug level on the global logger.
// attrs are attached to every record.
func NewWriter(attrs ...any) *Writer {
	return &Writer{attrs: attrs}
}

// Write logs every complete line in p. A trailing partial line is held
// until the next Write or Flush.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(w.buf)
	w.buf = nil
}

func (w *Writer) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	l := w.logger
	if l == nil {
		l = Logger()
	}
	l.Debug("command output", append([]any{"line", string(line)}, w.attrs...)...)
}
