package comm

import (
	"bytes"
	"io"
	"time"
)

// Terminator wraps an io.ReadWriter with message termination.  Writes
// have the Tx terminator appended; Reads accumulate until the Rx
// terminator byte is seen.  The terminator is not stripped from reads,
// callers that care should trim trailing CR/LF themselves.
type Terminator struct {
	rw io.ReadWriter

	// Rx is the byte which ends a message from the device
	Rx byte

	// Tx is the byte sequence which ends a message to the device
	Tx []byte
}

// NewTerminator wraps rw with the given terminators.
func NewTerminator(rw io.ReadWriter, rx byte, tx []byte) *Terminator {
	return &Terminator{rw: rw, Rx: rx, Tx: tx}
}

// Write sends p followed by the Tx terminator.  The returned count
// excludes the terminator, to satisfy the io.Writer contract from the
// caller's point of view.
func (t *Terminator) Write(p []byte) (int, error) {
	buf := make([]byte, 0, len(p)+len(t.Tx))
	buf = append(buf, p...)
	buf = append(buf, t.Tx...)
	n, err := t.rw.Write(buf)
	if n > len(p) {
		n = len(p)
	}
	return n, err
}

// Read fills p until the Rx terminator has been seen or p is full.
// If the underlying reader returns no data and no error before the
// terminator appears (a serial read timeout), ErrTerminatorNotFound
// is returned along with whatever was read.
func (t *Terminator) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := t.rw.Read(p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if bytes.IndexByte(p[:total], t.Rx) >= 0 {
			return total, nil
		}
		if n == 0 {
			return total, ErrTerminatorNotFound
		}
	}
	return total, nil
}

// deadliner is the piece of net.Conn used by NewTimeout
type deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// NewTimeout applies read and write deadlines d from now to rw if the
// underlying type supports them (TCP connections).  Serial ports carry
// their own ReadTimeout and pass through unchanged.
func NewTimeout(rw io.ReadWriter, d time.Duration) (io.ReadWriter, error) {
	if dl, ok := rw.(deadliner); ok {
		deadline := time.Now().Add(d)
		if err := dl.SetReadDeadline(deadline); err != nil {
			return rw, err
		}
		if err := dl.SetWriteDeadline(deadline); err != nil {
			return rw, err
		}
	}
	return rw, nil
}
