package protocol

import (
	"encoding/binary"
	"fmt"
)

// Response is a device-to-host packet.
type Response interface {
	Kind() Kind
}

// ReadData carries a chunk of ROM data. Offset echoes the requested
// window offset so the host can verify ordering.
type ReadData struct {
	Offset uint32
	Data   []byte
}

func (ReadData) Kind() Kind { return KindReadData }

// CurPointer reports the device's ROM cursor.
type CurPointer struct {
	Offset uint32
}

func (CurPointer) Kind() Kind { return KindPointerCur }

// CommitDone acknowledges a CommitFlash.
type CommitDone struct{}

func (CommitDone) Kind() Kind { return KindCommitDone }

// Param carries a parameter value in response to ParamGet, ParamSet or
// ParamQuery.
type Param struct {
	Value string
}

func (Param) Kind() Kind { return KindParam }

// ParamError reports that a parameter operation was rejected.
type ParamError struct{}

func (ParamError) Kind() Kind { return KindParamError }

// IdentResp carries a legacy serial device's identity string.
type IdentResp struct {
	Name string
}

func (IdentResp) Kind() Kind { return KindIdentResp }

// OTAStatusCode is the progress byte of an OTAStatus packet.
type OTAStatusCode byte

const (
	OTAInProgress OTAStatusCode = 0
	OTAComplete   OTAStatusCode = 1
	OTAFailed     OTAStatusCode = 2
)

func (c OTAStatusCode) String() string {
	switch c {
	case OTAInProgress:
		return "in progress"
	case OTAComplete:
		return "complete"
	case OTAFailed:
		return "failed"
	}
	return fmt.Sprintf("OTAStatusCode(%d)", byte(c))
}

// OTAStatus reports progress of an in-application firmware install.
type OTAStatus struct {
	Code    OTAStatusCode
	Message string
}

func (OTAStatus) Kind() Kind { return KindOTAStatus }

// DeviceError is an asynchronous fault report from the device firmware.
// It satisfies the error interface so callers can surface it directly.
type DeviceError struct {
	Code1   uint32
	Code2   uint32
	Message string
}

func (DeviceError) Kind() Kind { return KindError }

func (e DeviceError) Error() string {
	return fmt.Sprintf("device error %08x %08x: %s", e.Code1, e.Code2, e.Message)
}

// DeviceDebug is an asynchronous log line from the device firmware.
type DeviceDebug struct {
	Code1   uint32
	Code2   uint32
	Message string
}

func (DeviceDebug) Kind() Kind { return KindDebug }

func (d DeviceDebug) String() string {
	return fmt.Sprintf("device debug %08x %08x: %s", d.Code1, d.Code2, d.Message)
}

// DecodeResponse parses a device-to-host frame.
func DecodeResponse(frame []byte) (Response, error) {
	kind, p, err := splitFrame(frame)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindReadData:
		if len(p) < 4 {
			return nil, &DecodeError{Kind: byte(kind), Reason: "missing offset"}
		}
		data := make([]byte, len(p)-4)
		copy(data, p[4:])
		return ReadData{Offset: binary.LittleEndian.Uint32(p), Data: data}, nil
	case KindPointerCur:
		if len(p) != 4 {
			return nil, &DecodeError{Kind: byte(kind), Reason: "payload is not a 32-bit offset"}
		}
		return CurPointer{Offset: binary.LittleEndian.Uint32(p)}, nil
	case KindCommitDone:
		return CommitDone{}, nil
	case KindParam:
		return Param{Value: cutZString(p)}, nil
	case KindParamError:
		return ParamError{}, nil
	case KindIdentResp:
		return IdentResp{Name: cutZString(p)}, nil
	case KindOTAStatus:
		if len(p) < 1 {
			return nil, &DecodeError{Kind: byte(kind), Reason: "missing status code"}
		}
		return OTAStatus{Code: OTAStatusCode(p[0]), Message: cutZString(p[1:])}, nil
	case KindCommsData:
		data := make([]byte, len(p))
		copy(data, p)
		return CommsData{Data: data}, nil
	case KindError:
		if len(p) < 8 {
			return nil, &DecodeError{Kind: byte(kind), Reason: "payload shorter than two status words"}
		}
		return DeviceError{
			Code1:   binary.LittleEndian.Uint32(p),
			Code2:   binary.LittleEndian.Uint32(p[4:]),
			Message: cutZString(p[8:]),
		}, nil
	case KindDebug:
		if len(p) < 8 {
			return nil, &DecodeError{Kind: byte(kind), Reason: "payload shorter than two status words"}
		}
		return DeviceDebug{
			Code1:   binary.LittleEndian.Uint32(p),
			Code2:   binary.LittleEndian.Uint32(p[4:]),
			Message: cutZString(p[8:]),
		}, nil
	default:
		return nil, &DecodeError{Kind: byte(kind), Reason: "unknown response kind"}
	}
}

// EncodeResponse serializes a device-to-host packet. The tool itself never
// sends these; scripted device fakes in tests do.
func EncodeResponse(resp Response, maxPayload int) ([]byte, error) {
	var p []byte
	switch r := resp.(type) {
	case ReadData:
		p = make([]byte, 4+len(r.Data))
		binary.LittleEndian.PutUint32(p, r.Offset)
		copy(p[4:], r.Data)
	case CurPointer:
		p = make([]byte, 4)
		binary.LittleEndian.PutUint32(p, r.Offset)
	case CommitDone:
	case Param:
		p = zstring(r.Value)
	case ParamError:
	case IdentResp:
		p = zstring(r.Name)
	case OTAStatus:
		p = append([]byte{byte(r.Code)}, zstring(r.Message)...)
	case CommsData:
		p = r.Data
	case DeviceError:
		p = make([]byte, 8)
		binary.LittleEndian.PutUint32(p, r.Code1)
		binary.LittleEndian.PutUint32(p[4:], r.Code2)
		p = append(p, r.Message...)
	case DeviceDebug:
		p = make([]byte, 8)
		binary.LittleEndian.PutUint32(p, r.Code1)
		binary.LittleEndian.PutUint32(p[4:], r.Code2)
		p = append(p, r.Message...)
	default:
		return nil, fmt.Errorf("cannot encode response kind %s", resp.Kind())
	}
	if len(p) > maxPayload {
		return nil, fmt.Errorf("%s payload is %d bytes, limit is %d", resp.Kind(), len(p), maxPayload)
	}
	frame := make([]byte, 2+len(p))
	frame[0] = byte(resp.Kind())
	frame[1] = byte(len(p))
	copy(frame[2:], p)
	return frame, nil
}
