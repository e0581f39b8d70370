// Package picolink is the request/response client for a PicoROM device
// in application mode. It layers command semantics over a frame
// transport: flush stale traffic before each request, then wait for the
// matching reply while routing asynchronous debug and error packets to
// the log.
package picolink

import (
	"errors"
	"fmt"
	"time"

	"github.com/wickerwaka/PicoROM/internal/config"
	"github.com/wickerwaka/PicoROM/internal/protocol"
	"github.com/wickerwaka/PicoROM/internal/transport"
)

const (
	// responseTimeout bounds ordinary request/response exchanges.
	responseTimeout = 100 * time.Millisecond
	// commitTimeout covers a full flash write on the device side.
	commitTimeout = 5 * time.Second
	// otaTimeout covers one status report during a firmware install.
	otaTimeout = 30 * time.Second
)

// ErrTimeout is returned when the device sends nothing relevant before
// the operation deadline.
var ErrTimeout = errors.New("timed out waiting for device response")

// ParameterError reports a parameter operation the device rejected.
type ParameterError struct {
	Op   string
	Name string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("could not %s parameter %q", e.Op, e.Name)
}

// ResetLevel is a value of the reset parameter: drive the line high or
// low, or release it to high impedance.
type ResetLevel string

const (
	ResetHigh ResetLevel = "high"
	ResetLow  ResetLevel = "low"
	ResetZ    ResetLevel = "z"
)

// ParseResetLevel validates a user-supplied reset level string.
func ParseResetLevel(s string) (ResetLevel, error) {
	switch ResetLevel(s) {
	case ResetHigh, ResetLow, ResetZ:
		return ResetLevel(s), nil
	}
	return "", fmt.Errorf("invalid reset level %q (expected high, low or z)", s)
}

// Link drives the application protocol over one transport.
type Link struct {
	t transport.Transport
}

// New wraps an open transport. The Link takes ownership and closes it.
func New(t transport.Transport) *Link {
	return &Link{t: t}
}

func (l *Link) Close() error {
	return l.t.Close()
}

// maxChunk is the largest ROM data slice per Write/ReadData frame on
// this transport.
func (l *Link) maxChunk() int {
	return l.t.MaxPayload() - 4
}

// recv pulls and decodes one frame, or returns (nil, nil) at deadline.
func (l *Link) recv(deadline time.Time) (protocol.Response, error) {
	frame, err := l.t.Receive(deadline)
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, nil
	}
	return protocol.DecodeResponse(frame)
}

// recvFlush drains everything already queued from the device. Debug
// and error packets are logged; anything else is stale and dropped.
func (l *Link) recvFlush() error {
	for {
		resp, err := l.recv(time.Now())
		if err != nil {
			return err
		}
		if resp == nil {
			return nil
		}
		switch r := resp.(type) {
		case protocol.DeviceDebug:
			config.Debugf("%s", r)
		case protocol.DeviceError:
			config.Warnf("%v", r)
		default:
			config.Debugf("flushed stale %s packet", resp.Kind())
		}
	}
}

// send flushes the receive side, then transmits one request.
func (l *Link) send(req protocol.Request) error {
	if err := l.recvFlush(); err != nil {
		return err
	}
	frame, err := protocol.Encode(req, l.t.MaxPayload())
	if err != nil {
		return err
	}
	return l.t.Send(frame)
}

// sendRaw transmits without flushing. Used where queued device traffic
// must survive, such as the comms tunnel.
func (l *Link) sendRaw(req protocol.Request) error {
	frame, err := protocol.Encode(req, l.t.MaxPayload())
	if err != nil {
		return err
	}
	return l.t.Send(frame)
}

// recvUntil waits for a response accepted by match. Device debug output
// is logged and skipped, a device error aborts the wait, and any other
// unmatched packet is dropped.
func (l *Link) recvUntil(timeout time.Duration, match func(protocol.Response) bool) (protocol.Response, error) {
	deadline := time.Now().Add(timeout)
	for {
		resp, err := l.recv(deadline)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, ErrTimeout
		}
		switch r := resp.(type) {
		case protocol.DeviceDebug:
			config.Debugf("%s", r)
			continue
		case protocol.DeviceError:
			return nil, r
		}
		if match(resp) {
			return resp, nil
		}
		config.Debugf("dropped unexpected %s packet", resp.Kind())
	}
}

func isKind(k protocol.Kind) func(protocol.Response) bool {
	return func(r protocol.Response) bool { return r.Kind() == k }
}

func isParamReply(r protocol.Response) bool {
	return r.Kind() == protocol.KindParam || r.Kind() == protocol.KindParamError
}

// GetParameter reads a named device parameter.
func (l *Link) GetParameter(name string) (string, error) {
	if err := l.send(protocol.GetParam{Name: name}); err != nil {
		return "", err
	}
	resp, err := l.recvUntil(responseTimeout, isParamReply)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", name, err)
	}
	if _, rejected := resp.(protocol.ParamError); rejected {
		return "", &ParameterError{Op: "get", Name: name}
	}
	return resp.(protocol.Param).Value, nil
}

// SetParameter writes a named device parameter and returns the value
// the device echoes back.
func (l *Link) SetParameter(name, value string) (string, error) {
	if err := l.send(protocol.SetParam{Name: name, Value: value}); err != nil {
		return "", err
	}
	resp, err := l.recvUntil(responseTimeout, isParamReply)
	if err != nil {
		return "", fmt.Errorf("set %s: %w", name, err)
	}
	if _, rejected := resp.(protocol.ParamError); rejected {
		return "", &ParameterError{Op: "set", Name: name}
	}
	return resp.(protocol.Param).Value, nil
}

// Parameters enumerates the device's parameter names. The device walks
// its list one query at a time and terminates with an empty name.
func (l *Link) Parameters() ([]string, error) {
	var names []string
	after := ""
	for {
		if err := l.send(protocol.QueryParam{After: after}); err != nil {
			return nil, err
		}
		resp, err := l.recvUntil(responseTimeout, isParamReply)
		if err != nil {
			return nil, fmt.Errorf("query parameters after %q: %w", after, err)
		}
		if _, rejected := resp.(protocol.ParamError); rejected {
			return nil, &ParameterError{Op: "query", Name: after}
		}
		name := resp.(protocol.Param).Value
		if name == "" {
			return names, nil
		}
		names = append(names, name)
		after = name
	}
}

// Upload writes data into the ROM window starting at offset 0, sets the
// address mask, and verifies the device's final write cursor.
func (l *Link) Upload(data []byte, addrMask uint32, progress func(sent int)) error {
	if err := l.UploadTo(0, data, progress); err != nil {
		return err
	}
	if _, err := l.SetParameter("addr_mask", fmt.Sprintf("0x%08x", addrMask)); err != nil {
		return err
	}
	return nil
}

// UploadTo writes data into the ROM window at an arbitrary offset.
// After the final chunk the device's cursor is read back and must land
// exactly at the end of the written range.
func (l *Link) UploadTo(offset uint32, data []byte, progress func(sent int)) error {
	if err := l.recvFlush(); err != nil {
		return err
	}
	chunk := l.maxChunk()
	for sent := 0; sent < len(data); sent += chunk {
		end := sent + chunk
		if end > len(data) {
			end = len(data)
		}
		req := protocol.Write{Offset: offset + uint32(sent), Data: data[sent:end]}
		if err := l.sendRaw(req); err != nil {
			return err
		}
		if progress != nil {
			progress(end)
		}
	}
	if err := l.sendRaw(protocol.GetPointer{}); err != nil {
		return err
	}
	resp, err := l.recvUntil(responseTimeout, isKind(protocol.KindPointerCur))
	if err != nil {
		return fmt.Errorf("verify upload: %w", err)
	}
	want := offset + uint32(len(data))
	if got := resp.(protocol.CurPointer).Offset; got != want {
		return fmt.Errorf("verify upload: device cursor at 0x%08x, want 0x%08x", got, want)
	}
	return nil
}

// Download reads size bytes from the ROM window starting at offset 0.
// Each chunk must echo the requested offset; a short or empty chunk
// ends the transfer early.
func (l *Link) Download(size int, progress func(read int)) ([]byte, error) {
	data := make([]byte, 0, size)
	chunk := l.maxChunk()
	for len(data) < size {
		want := size - len(data)
		if want > chunk {
			want = chunk
		}
		offset := uint32(len(data))
		if err := l.send(protocol.Read{Offset: offset, Size: byte(want)}); err != nil {
			return nil, err
		}
		resp, err := l.recvUntil(responseTimeout, isKind(protocol.KindReadData))
		if err != nil {
			return nil, fmt.Errorf("read at 0x%08x: %w", offset, err)
		}
		rd := resp.(protocol.ReadData)
		if rd.Offset != offset {
			return nil, fmt.Errorf("read at 0x%08x: device answered for 0x%08x", offset, rd.Offset)
		}
		data = append(data, rd.Data...)
		if progress != nil {
			progress(len(data))
		}
		if len(rd.Data) < want {
			break
		}
	}
	if len(data) > size {
		data = data[:size]
	}
	return data, nil
}

// CommitROM persists the active ROM image to the device's flash.
func (l *Link) CommitROM() error {
	if err := l.send(protocol.CommitFlash{}); err != nil {
		return err
	}
	if _, err := l.recvUntil(commitTimeout, isKind(protocol.KindCommitDone)); err != nil {
		return fmt.Errorf("commit rom: %w", err)
	}
	return nil
}

// CommitOTA installs a firmware image previously staged in the ROM
// window. The device streams status packets until it either completes
// and reboots, or fails.
func (l *Link) CommitOTA(size uint32, status func(msg string)) error {
	if err := l.send(protocol.OTACommit{Size: size}); err != nil {
		return err
	}
	for {
		resp, err := l.recvUntil(otaTimeout, isKind(protocol.KindOTAStatus))
		if err != nil {
			return fmt.Errorf("ota commit: %w", err)
		}
		st := resp.(protocol.OTAStatus)
		if status != nil && st.Message != "" {
			status(st.Message)
		}
		switch st.Code {
		case protocol.OTAComplete:
			return nil
		case protocol.OTAFailed:
			return fmt.Errorf("ota commit failed: %s", st.Message)
		}
	}
}

// Identify flashes the device's activity LED. Fire and forget.
func (l *Link) Identify() error {
	return l.send(protocol.Identify{})
}

// RebootToBootloader reboots into the mask-ROM USB bootloader. The
// device drops off the bus without replying.
func (l *Link) RebootToBootloader() error {
	return l.send(protocol.Bootsel{})
}

// SetIdent renames the device and verifies the name was accepted.
func (l *Link) SetIdent(name string) error {
	if _, err := l.SetParameter("name", name); err != nil {
		return err
	}
	got, err := l.GetParameter("name")
	if err != nil {
		return err
	}
	if got != name {
		return fmt.Errorf("rename failed: device reports name %q, want %q", got, name)
	}
	return nil
}

// Reset drives the emulated reset line.
func (l *Link) Reset(level ResetLevel) error {
	_, err := l.SetParameter("reset", string(level))
	return err
}

// StartComms opens the byte tunnel mapped at addr in the ROM window.
func (l *Link) StartComms(addr uint32) error {
	return l.send(protocol.CommsStart{Addr: addr})
}

// EndComms closes the byte tunnel.
func (l *Link) EndComms() error {
	return l.send(protocol.CommsEnd{})
}

// PollComms pushes outgoing tunnel bytes and collects whatever the
// device has queued. No flush here: queued CommsData is the point.
func (l *Link) PollComms(outgoing []byte) ([]byte, error) {
	var incoming []byte
	drain := func() error {
		for {
			resp, err := l.recv(time.Now())
			if err != nil {
				return err
			}
			if resp == nil {
				return nil
			}
			switch r := resp.(type) {
			case protocol.CommsData:
				incoming = append(incoming, r.Data...)
			case protocol.DeviceDebug:
				config.Debugf("%s", r)
			case protocol.DeviceError:
				return r
			default:
				config.Debugf("dropped unexpected %s packet", resp.Kind())
			}
		}
	}
	if err := drain(); err != nil {
		return incoming, err
	}
	chunk := l.t.MaxPayload()
	for sent := 0; sent < len(outgoing); sent += chunk {
		end := sent + chunk
		if end > len(outgoing) {
			end = len(outgoing)
		}
		if err := l.sendRaw(protocol.CommsData{Data: outgoing[sent:end]}); err != nil {
			return incoming, err
		}
	}
	if err := drain(); err != nil {
		return incoming, err
	}
	return incoming, nil
}
