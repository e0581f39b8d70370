// Package protocol implements the PicoROM application packet codec.
//
// Every exchange with a device in application mode is a sequence of
// self-contained frames of the form [kind][len][payload]. The payload
// limit depends on the transport: 36 bytes over USB bulk, 30 bytes over
// the legacy serial stream.
package protocol

import (
	"bytes"
	"fmt"
)

const (
	// MaxPayload is the payload limit of the USB bulk sub-protocol.
	MaxPayload = 36
	// MaxPayloadSerial is the payload limit of the legacy serial sub-protocol.
	MaxPayloadSerial = 30
	// MaxChunk is the largest ROM data slice that fits in a Write or
	// ReadData payload next to its 4-byte offset.
	MaxChunk = MaxPayload - 4
)

// Kind identifies the packet type carried in the first frame byte.
type Kind byte

const (
	KindIdentReq    Kind = 0
	KindIdentResp   Kind = 1
	KindIdentSet    Kind = 2
	KindPointerSet  Kind = 3
	KindPointerGet  Kind = 4
	KindPointerCur  Kind = 5
	KindWrite       Kind = 6
	KindRead        Kind = 7
	KindReadData    Kind = 8
	KindCommitFlash Kind = 12
	KindCommitDone  Kind = 13
	KindParamSet    Kind = 20
	KindParamGet    Kind = 21
	KindParam       Kind = 22
	KindParamError  Kind = 23
	KindParamQuery  Kind = 24
	KindOTACommit   Kind = 30
	KindOTAStatus   Kind = 31
	KindCommsStart  Kind = 80
	KindCommsEnd    Kind = 81
	KindCommsData   Kind = 82
	KindIdentify    Kind = 0xf8
	KindBootsel     Kind = 0xf9
	KindError       Kind = 0xfe
	KindDebug       Kind = 0xff
)

var kindNames = map[Kind]string{
	KindIdentReq:    "IdentReq",
	KindIdentResp:   "IdentResp",
	KindIdentSet:    "IdentSet",
	KindPointerSet:  "PointerSet",
	KindPointerGet:  "PointerGet",
	KindPointerCur:  "PointerCur",
	KindWrite:       "Write",
	KindRead:        "Read",
	KindReadData:    "ReadData",
	KindCommitFlash: "CommitFlash",
	KindCommitDone:  "CommitDone",
	KindParamSet:    "ParamSet",
	KindParamGet:    "ParamGet",
	KindParam:       "Param",
	KindParamError:  "ParamError",
	KindParamQuery:  "ParamQuery",
	KindOTACommit:   "OTACommit",
	KindOTAStatus:   "OTAStatus",
	KindCommsStart:  "CommsStart",
	KindCommsEnd:    "CommsEnd",
	KindCommsData:   "CommsData",
	KindIdentify:    "Identify",
	KindBootsel:     "Bootsel",
	KindError:       "Error",
	KindDebug:       "Debug",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(0x%02x)", byte(k))
}

// DecodeError reports a frame that could not be interpreted.
type DecodeError struct {
	Kind   byte
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode packet kind 0x%02x: %s", e.Kind, e.Reason)
}

// splitFrame validates the [kind][len] header and returns the payload.
func splitFrame(frame []byte) (Kind, []byte, error) {
	if len(frame) < 2 {
		return 0, nil, &DecodeError{Reason: "frame shorter than header"}
	}
	kind := Kind(frame[0])
	size := int(frame[1])
	if len(frame)-2 != size {
		return 0, nil, &DecodeError{
			Kind:   frame[0],
			Reason: fmt.Sprintf("length byte %d does not match %d payload bytes", size, len(frame)-2),
		}
	}
	return kind, frame[2:], nil
}

// zstring appends a NUL terminator, matching the device's string encoding.
func zstring(s string) []byte {
	return append([]byte(s), 0)
}

// cutZString returns the bytes before the first NUL, or the whole payload
// when no terminator is present.
func cutZString(p []byte) string {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		return string(p[:i])
	}
	return string(p)
}
