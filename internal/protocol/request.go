package protocol

import (
	"encoding/binary"
	"fmt"
)

// Request is a host-to-device packet.
type Request interface {
	Kind() Kind
	payload() []byte
}

// Write stores a chunk of ROM data at an absolute window offset.
type Write struct {
	Offset uint32
	Data   []byte
}

func (Write) Kind() Kind { return KindWrite }

func (r Write) payload() []byte {
	p := make([]byte, 4+len(r.Data))
	binary.LittleEndian.PutUint32(p, r.Offset)
	copy(p[4:], r.Data)
	return p
}

// Read requests Size bytes of ROM data starting at Offset.
type Read struct {
	Offset uint32
	Size   byte
}

func (Read) Kind() Kind { return KindRead }

func (r Read) payload() []byte {
	p := make([]byte, 5)
	binary.LittleEndian.PutUint32(p, r.Offset)
	p[4] = r.Size
	return p
}

// SetPointer moves the device's ROM cursor (legacy serial sub-protocol).
type SetPointer struct {
	Offset uint32
}

func (SetPointer) Kind() Kind { return KindPointerSet }

func (r SetPointer) payload() []byte {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, r.Offset)
	return p
}

// GetPointer asks for the device's current ROM cursor.
type GetPointer struct{}

func (GetPointer) Kind() Kind      { return KindPointerGet }
func (GetPointer) payload() []byte { return nil }

// CommitFlash asks the device to persist the active ROM image to flash.
type CommitFlash struct{}

func (CommitFlash) Kind() Kind      { return KindCommitFlash }
func (CommitFlash) payload() []byte { return nil }

// OTACommit installs a staged firmware image of Size bytes and reboots.
type OTACommit struct {
	Size uint32
}

func (OTACommit) Kind() Kind { return KindOTACommit }

func (r OTACommit) payload() []byte {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, r.Size)
	return p
}

// GetParam reads a named device parameter.
type GetParam struct {
	Name string
}

func (GetParam) Kind() Kind        { return KindParamGet }
func (r GetParam) payload() []byte { return zstring(r.Name) }

// SetParam writes a named device parameter. The wire form is the
// NUL-terminated string "name,value".
type SetParam struct {
	Name  string
	Value string
}

func (SetParam) Kind() Kind        { return KindParamSet }
func (r SetParam) payload() []byte { return zstring(r.Name + "," + r.Value) }

// QueryParam asks for the parameter name following After in the device's
// parameter list. An empty After starts the enumeration.
type QueryParam struct {
	After string
}

func (QueryParam) Kind() Kind        { return KindParamQuery }
func (r QueryParam) payload() []byte { return zstring(r.After) }

// CommsStart opens the byte tunnel mapped at Addr in the ROM window.
type CommsStart struct {
	Addr uint32
}

func (CommsStart) Kind() Kind { return KindCommsStart }

func (r CommsStart) payload() []byte {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, r.Addr)
	return p
}

// CommsEnd closes the byte tunnel.
type CommsEnd struct{}

func (CommsEnd) Kind() Kind      { return KindCommsEnd }
func (CommsEnd) payload() []byte { return nil }

// CommsData carries tunnel bytes. The device sends the same kind back,
// so it doubles as a Response.
type CommsData struct {
	Data []byte
}

func (CommsData) Kind() Kind        { return KindCommsData }
func (r CommsData) payload() []byte { return r.Data }

// Identify flashes the device's activity LED.
type Identify struct{}

func (Identify) Kind() Kind      { return KindIdentify }
func (Identify) payload() []byte { return nil }

// Bootsel reboots the device into the mask-ROM USB bootloader.
type Bootsel struct{}

func (Bootsel) Kind() Kind      { return KindBootsel }
func (Bootsel) payload() []byte { return nil }

// IdentReq asks a legacy serial device for its identity string.
type IdentReq struct{}

func (IdentReq) Kind() Kind      { return KindIdentReq }
func (IdentReq) payload() []byte { return nil }

// SetIdent renames a legacy serial device.
type SetIdent struct {
	Name string
}

func (SetIdent) Kind() Kind        { return KindIdentSet }
func (r SetIdent) payload() []byte { return zstring(r.Name) }

// Encode serializes a request into a [kind][len][payload] frame,
// rejecting payloads that exceed the transport limit.
func Encode(req Request, maxPayload int) ([]byte, error) {
	p := req.payload()
	if len(p) > maxPayload {
		return nil, fmt.Errorf("%s payload is %d bytes, limit is %d", req.Kind(), len(p), maxPayload)
	}
	frame := make([]byte, 2+len(p))
	frame[0] = byte(req.Kind())
	frame[1] = byte(len(p))
	copy(frame[2:], p)
	return frame, nil
}

// DecodeRequest parses a host-to-device frame. Exercised by scripted
// device fakes in tests.
func DecodeRequest(frame []byte) (Request, error) {
	kind, p, err := splitFrame(frame)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindWrite:
		if len(p) < 4 {
			return nil, &DecodeError{Kind: byte(kind), Reason: "missing offset"}
		}
		data := make([]byte, len(p)-4)
		copy(data, p[4:])
		return Write{Offset: binary.LittleEndian.Uint32(p), Data: data}, nil
	case KindRead:
		if len(p) != 5 {
			return nil, &DecodeError{Kind: byte(kind), Reason: "payload is not offset+size"}
		}
		return Read{Offset: binary.LittleEndian.Uint32(p), Size: p[4]}, nil
	case KindPointerSet:
		if len(p) != 4 {
			return nil, &DecodeError{Kind: byte(kind), Reason: "payload is not a 32-bit offset"}
		}
		return SetPointer{Offset: binary.LittleEndian.Uint32(p)}, nil
	case KindPointerGet:
		return GetPointer{}, nil
	case KindCommitFlash:
		return CommitFlash{}, nil
	case KindOTACommit:
		if len(p) != 4 {
			return nil, &DecodeError{Kind: byte(kind), Reason: "payload is not a 32-bit size"}
		}
		return OTACommit{Size: binary.LittleEndian.Uint32(p)}, nil
	case KindParamGet:
		return GetParam{Name: cutZString(p)}, nil
	case KindParamSet:
		name, value, ok := splitNameValue(cutZString(p))
		if !ok {
			return nil, &DecodeError{Kind: byte(kind), Reason: "missing name,value separator"}
		}
		return SetParam{Name: name, Value: value}, nil
	case KindParamQuery:
		return QueryParam{After: cutZString(p)}, nil
	case KindCommsStart:
		if len(p) != 4 {
			return nil, &DecodeError{Kind: byte(kind), Reason: "payload is not a 32-bit address"}
		}
		return CommsStart{Addr: binary.LittleEndian.Uint32(p)}, nil
	case KindCommsEnd:
		return CommsEnd{}, nil
	case KindCommsData:
		data := make([]byte, len(p))
		copy(data, p)
		return CommsData{Data: data}, nil
	case KindIdentify:
		return Identify{}, nil
	case KindBootsel:
		return Bootsel{}, nil
	case KindIdentReq:
		return IdentReq{}, nil
	case KindIdentSet:
		return SetIdent{Name: cutZString(p)}, nil
	default:
		return nil, &DecodeError{Kind: byte(kind), Reason: "unknown request kind"}
	}
}

func splitNameValue(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
