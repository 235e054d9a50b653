package log

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"
)

// RawLogger dumps raw UVC control traffic with optional file output.
type RawLogger interface {
	Log(fromHost bool, data []byte)
}

type rawLogger struct {
	w  io.Writer
	mu sync.Mutex
}

// NewRaw creates a new RawLogger. If w is nil, returns a no-op logger.
func NewRaw(w io.Writer) RawLogger {
	return &rawLogger{w: w}
}

// Log emits a single-line hex dump with timestamp. fromHost=true marks
// host->gadget payloads (setup and data phases), fromHost=false marks
// gadget->host responses.
func (r *rawLogger) Log(fromHost bool, data []byte) {
	if len(data) == 0 || r.w == nil {
		return
	}

	dir := "G->H"
	if fromHost {
		dir = "H->G"
	}

	var hexbuf bytes.Buffer
	const hexdigits = "0123456789abcdef"
	for i, b := range data {
		if i > 0 {
			hexbuf.WriteByte(' ')
		}
		hexbuf.WriteByte(hexdigits[b>>4])
		hexbuf.WriteByte(hexdigits[b&0x0f])
	}

	line := fmt.Sprintf("%s %s %d bytes: %s\n",
		time.Now().Format("2006/01/02 15:04:05"),
		dir,
		len(data),
		hexbuf.String())

	r.mu.Lock()
	_, _ = r.w.Write([]byte(line))
	r.mu.Unlock()
}
