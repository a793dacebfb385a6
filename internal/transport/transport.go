package transport

import (
	"errors"
	"io"
	"time"
)

var (
	// ErrTimeout means a receive did not complete in time. It is a normal
	// outcome on the bootloader link, not a failure of the link.
	ErrTimeout = errors.New("transport timeout")
	ErrClosed  = errors.New("transport closed")
)

// Transport is the byte-oriented point-to-point link between host and device.
type Transport interface {
	// Receive fills buf completely or returns ErrTimeout once timeout elapses.
	// Bytes that arrived before the timeout are consumed.
	Receive(buf []byte, timeout time.Duration) error

	// Transmit blocks until all of buf has been written.
	Transmit(buf []byte) error
}

// timeoutReader is a reader whose Read returns (0, nil) once its read timeout elapses.
type timeoutReader interface {
	io.Reader
	SetReadTimeout(t time.Duration) error
}

// receiveFull reads len(buf) bytes before the deadline derived from timeout.
func receiveFull(r timeoutReader, buf []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	got := 0
	for got < len(buf) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		if err := r.SetReadTimeout(remaining); err != nil {
			return err
		}

		n, err := r.Read(buf[got:])
		got += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrClosed
			}
			return err
		}
	}
	return nil
}

// transmitAll writes buf, retrying short writes.
func transmitAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
