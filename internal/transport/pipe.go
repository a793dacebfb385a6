package transport

import (
	"sync"
	"time"
)

const pipeBufferSize = 4096

// PipeEnd is one side of an in-memory full-duplex link.
type PipeEnd struct {
	rx     chan byte
	tx     chan byte
	closed chan struct{}
	once   *sync.Once
}

// Pipe returns two connected ends; bytes transmitted on one are received on the other.
func Pipe() (*PipeEnd, *PipeEnd) {
	ab := make(chan byte, pipeBufferSize)
	ba := make(chan byte, pipeBufferSize)
	closed := make(chan struct{})
	once := &sync.Once{}

	a := &PipeEnd{rx: ba, tx: ab, closed: closed, once: once}
	b := &PipeEnd{rx: ab, tx: ba, closed: closed, once: once}
	return a, b
}

// Receive fills buf or returns ErrTimeout.
func (p *PipeEnd) Receive(buf []byte, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for i := range buf {
		select {
		case b := <-p.rx:
			buf[i] = b
		case <-timer.C:
			return ErrTimeout
		case <-p.closed:
			return ErrClosed
		}
	}
	return nil
}

// Transmit queues buf for the other end.
func (p *PipeEnd) Transmit(buf []byte) error {
	for _, b := range buf {
		select {
		case p.tx <- b:
		case <-p.closed:
			return ErrClosed
		}
	}
	return nil
}

// Close closes both ends of the pipe.
func (p *PipeEnd) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
