package transport

import (
	"bytes"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/wickerwaka/PicoROM/internal/config"
	"github.com/wickerwaka/PicoROM/internal/protocol"
	"github.com/wickerwaka/PicoROM/internal/util"
)

const (
	serialBaud         = 9600
	serialPreamble     = "PicoROM Hello"
	serialHelloTimeout = 2 * time.Second
	serialPollInterval = 10 * time.Millisecond
	// A frame header has been seen, so the payload is already in
	// flight; allow it a generous window of its own.
	serialPayloadTimeout = time.Second
)

// Serial is the legacy byte-stream transport. Frames are reassembled
// from the stream, so partial arrivals are buffered across calls.
type Serial struct {
	port serial.Port
	buf  []byte
}

// OpenSerial opens a CDC port and waits for the device's hello preamble.
func OpenSerial(path string) (*Serial, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: serialBaud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &Serial{port: port}
	if err := s.awaitPreamble(); err != nil {
		port.Close()
		return nil, err
	}
	return s, nil
}

// awaitPreamble consumes the stream until it ends with the hello string.
func (s *Serial) awaitPreamble() error {
	if err := s.port.SetReadTimeout(serialPollInterval); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}
	deadline := time.Now().Add(serialHelloTimeout)
	var seen []byte
	tmp := make([]byte, 64)
	for {
		n, err := s.port.Read(tmp)
		if err != nil {
			return fmt.Errorf("read preamble: %w", err)
		}
		seen = append(seen, tmp[:n]...)
		if bytes.HasSuffix(seen, []byte(serialPreamble)) {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("no %q preamble within %v", serialPreamble, serialHelloTimeout)
		}
	}
}

func (s *Serial) MaxPayload() int { return protocol.MaxPayloadSerial }

func (s *Serial) Send(frame []byte) error {
	if config.Verbose {
		config.Debugf("serial send %d bytes:\n%s", len(frame), util.HexDump(frame))
	}
	n, err := s.port.Write(frame)
	if err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("serial write: sent %d of %d bytes", n, len(frame))
	}
	return nil
}

// fill reads from the port until the reassembly buffer holds at least
// want bytes. Returns false when the deadline passes first.
func (s *Serial) fill(want int, deadline time.Time) (bool, error) {
	tmp := make([]byte, 64)
	for len(s.buf) < want {
		if !time.Now().Before(deadline) {
			return false, nil
		}
		if err := s.port.SetReadTimeout(serialPollInterval); err != nil {
			return false, fmt.Errorf("set read timeout: %w", err)
		}
		n, err := s.port.Read(tmp)
		if err != nil {
			return false, fmt.Errorf("serial read: %w", err)
		}
		s.buf = append(s.buf, tmp[:n]...)
	}
	return true, nil
}

func (s *Serial) Receive(deadline time.Time) ([]byte, error) {
	ok, err := s.fill(2, deadline)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	size := int(s.buf[1])
	if size > s.MaxPayload() {
		return nil, &FrameError{Size: size, Max: s.MaxPayload()}
	}
	ok, err = s.fill(2+size, time.Now().Add(serialPayloadTimeout))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("serial read: frame payload did not arrive within %v", serialPayloadTimeout)
	}
	frame := make([]byte, 2+size)
	copy(frame, s.buf)
	s.buf = s.buf[2+size:]
	if config.Verbose {
		config.Debugf("serial recv %d bytes:\n%s", len(frame), util.HexDump(frame))
	}
	return frame, nil
}

func (s *Serial) Close() error {
	return s.port.Close()
}
