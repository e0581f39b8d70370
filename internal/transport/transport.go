// Package transport moves raw [kind][len][payload] frames between the
// host and a PicoROM device in application mode. The protocol layer on
// top never sees transport details beyond the payload limit.
package transport

import (
	"fmt"
	"time"
)

// Transport is a bidirectional frame pipe to one device.
type Transport interface {
	// Send transmits one complete frame.
	Send(frame []byte) error
	// Receive returns the next complete frame, or (nil, nil) when no
	// frame arrived before the deadline. Malformed traffic is an error.
	Receive(deadline time.Time) ([]byte, error)
	// MaxPayload is the per-frame payload limit of this transport.
	MaxPayload() int
	Close() error
}

// FrameError reports a frame whose length byte is impossible for this
// transport. The stream can no longer be trusted after one of these.
type FrameError struct {
	Size int
	Max  int
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame declares %d payload bytes, transport limit is %d", e.Size, e.Max)
}
