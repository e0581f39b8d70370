package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"write", Write{Offset: 0x1234, Data: []byte{1, 2, 3, 4}}},
		{"write empty", Write{Offset: 0}},
		{"read", Read{Offset: 0x8000, Size: 32}},
		{"set pointer", SetPointer{Offset: 0x0badf00d}},
		{"get pointer", GetPointer{}},
		{"commit flash", CommitFlash{}},
		{"ota commit", OTACommit{Size: 0x20000}},
		{"get param", GetParam{Name: "rom_name"}},
		{"set param", SetParam{Name: "reset", Value: "z"}},
		{"set param empty value", SetParam{Name: "name", Value: ""}},
		{"query param first", QueryParam{}},
		{"query param next", QueryParam{After: "addr_mask"}},
		{"comms start", CommsStart{Addr: 0x1f00}},
		{"comms end", CommsEnd{}},
		{"comms data", CommsData{Data: []byte("hello")}},
		{"identify", Identify{}},
		{"bootsel", Bootsel{}},
		{"ident req", IdentReq{}},
		{"set ident", SetIdent{Name: "rom-a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.req, MaxPayload)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if frame[0] != byte(tt.req.Kind()) {
				t.Errorf("kind byte = 0x%02x, want 0x%02x", frame[0], byte(tt.req.Kind()))
			}
			if int(frame[1]) != len(frame)-2 {
				t.Errorf("length byte = %d, frame has %d payload bytes", frame[1], len(frame)-2)
			}
			got, err := DecodeRequest(frame)
			if err != nil {
				t.Fatalf("DecodeRequest: %v", err)
			}
			if !requestsEqual(got, tt.req) {
				t.Errorf("round trip = %#v, want %#v", got, tt.req)
			}
		})
	}
}

// requestsEqual treats nil and empty data slices as the same.
func requestsEqual(a, b Request) bool {
	aw, aok := a.(Write)
	bw, bok := b.(Write)
	if aok && bok {
		return aw.Offset == bw.Offset && bytes.Equal(aw.Data, bw.Data)
	}
	ac, aok := a.(CommsData)
	bc, bok := b.(CommsData)
	if aok && bok {
		return bytes.Equal(ac.Data, bc.Data)
	}
	return reflect.DeepEqual(a, b)
}

func TestEncodeRejectsOversizePayload(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		max  int
	}{
		{"write over usb limit", Write{Data: make([]byte, MaxPayload)}, MaxPayload},
		{"write over serial limit", Write{Data: make([]byte, MaxPayloadSerial - 3)}, MaxPayloadSerial},
		{"long parameter name", GetParam{Name: string(make([]byte, MaxPayload))}, MaxPayload},
		{"long name,value pair", SetParam{Name: "rom_name", Value: string(make([]byte, MaxPayload))}, MaxPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.req, tt.max); err == nil {
				t.Error("Encode accepted an oversize payload")
			}
		})
	}
}

func TestEncodeAtExactLimit(t *testing.T) {
	req := Write{Offset: 0, Data: make([]byte, MaxChunk)}
	frame, err := Encode(req, MaxPayload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(frame) != 2+MaxPayload {
		t.Errorf("frame length = %d, want %d", len(frame), 2+MaxPayload)
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  Response
	}{
		{
			"read data",
			[]byte{byte(KindReadData), 6, 0x00, 0x10, 0x00, 0x00, 0xaa, 0xbb},
			ReadData{Offset: 0x1000, Data: []byte{0xaa, 0xbb}},
		},
		{
			"cur pointer",
			[]byte{byte(KindPointerCur), 4, 0x00, 0x20, 0x00, 0x00},
			CurPointer{Offset: 0x2000},
		},
		{
			"commit done",
			[]byte{byte(KindCommitDone), 0},
			CommitDone{},
		},
		{
			"param",
			append([]byte{byte(KindParam), 5}, 'h', 'i', 'g', 'h', 0),
			Param{Value: "high"},
		},
		{
			"param error",
			[]byte{byte(KindParamError), 0},
			ParamError{},
		},
		{
			"ident resp",
			append([]byte{byte(KindIdentResp), 6}, 'r', 'o', 'm', '-', 'a', 0),
			IdentResp{Name: "rom-a"},
		},
		{
			"ota status",
			append([]byte{byte(KindOTAStatus), 5}, byte(OTAComplete), 'd', 'o', 'n', 'e'),
			OTAStatus{Code: OTAComplete, Message: "done"},
		},
		{
			"device error",
			append([]byte{byte(KindError), 11, 1, 0, 0, 0, 2, 0, 0, 0}, 'b', 'a', 'd'),
			DeviceError{Code1: 1, Code2: 2, Message: "bad"},
		},
		{
			"device debug",
			append([]byte{byte(KindDebug), 10, 9, 0, 0, 0, 8, 0, 0, 0}, 'o', 'k'),
			DeviceDebug{Code1: 9, Code2: 8, Message: "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeResponse(tt.frame)
			if err != nil {
				t.Fatalf("DecodeResponse: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeResponse = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeResponseErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty frame", nil},
		{"header only", []byte{byte(KindParam)}},
		{"length mismatch", []byte{byte(KindParam), 4, 'a'}},
		{"unknown kind", []byte{0x42, 0}},
		{"read data missing offset", []byte{byte(KindReadData), 2, 1, 2}},
		{"error too short", []byte{byte(KindError), 4, 1, 0, 0, 0}},
		{"debug too short", []byte{byte(KindDebug), 7, 1, 0, 0, 0, 2, 0, 0}},
		{"ota status empty", []byte{byte(KindOTAStatus), 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse(tt.frame)
			if err == nil {
				t.Fatal("DecodeResponse accepted a malformed frame")
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Errorf("error type = %T, want *DecodeError", err)
			}
		})
	}
}

func TestEncodeResponseRoundTrip(t *testing.T) {
	responses := []Response{
		ReadData{Offset: 0x40, Data: []byte{1, 2, 3}},
		CurPointer{Offset: 0x1c00},
		CommitDone{},
		Param{Value: "0x0003ffff"},
		ParamError{},
		OTAStatus{Code: OTAInProgress, Message: "erasing"},
		DeviceError{Code1: 3, Code2: 4, Message: "oops"},
	}
	for _, resp := range responses {
		frame, err := EncodeResponse(resp, MaxPayload)
		if err != nil {
			t.Fatalf("EncodeResponse(%#v): %v", resp, err)
		}
		got, err := DecodeResponse(frame)
		if err != nil {
			t.Fatalf("DecodeResponse(%#v): %v", resp, err)
		}
		if !reflect.DeepEqual(got, resp) {
			t.Errorf("round trip = %#v, want %#v", got, resp)
		}
	}
}
