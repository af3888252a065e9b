package main

import (
	"io"
	"machine"
	"runtime"
	"time"
)

type serialIO struct {
	machine.Serialer
}

// SerialReadWriter describes a buffered serial device usable as an
// io.ReadWriter.
type SerialReadWriter interface {
	io.ReadWriter
	// Buffered returns the number of bytes currently buffered in the serial
	// device.
	Buffered() int
}

// WrapSerial wraps a machine.Serialer in an io.ReadWriter.
func WrapSerial(serial machine.Serialer) SerialReadWriter {
	return serialIO{Serialer: serial}
}

// Read reads whatever is buffered, up to len(b). It never returns 0 bytes
// without an error, so io.ReadFull blocks until the packet is complete.
func (s serialIO) Read(b []byte) (int, error) {
	for {
		n := s.Buffered()
		if n == 0 {
			// Sleep to reduce CPU usage.
			time.Sleep(1 * time.Millisecond)
			continue
		}
		if n > len(b) {
			n = len(b)
		}
		for i := 0; i < n; i++ {
			c, err := s.ReadByte()
			if err != nil {
				return i, err
			}
			b[i] = c
		}
		// Emulate blocking-like behavior by yielding the scheduler.
		runtime.Gosched()
		return n, nil
	}
}

func (s serialIO) Write(b []byte) (int, error) {
	for i, c := range b {
		if err := s.WriteByte(c); err != nil {
			return i, err
		}
	}
	runtime.Gosched()
	return len(b), nil
}
