package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"

	"github.com/wickerwaka/PicoROM/internal/config"
	"github.com/wickerwaka/PicoROM/internal/protocol"
	"github.com/wickerwaka/PicoROM/internal/util"
)

const usbWriteTimeout = time.Second

// USB is the bulk-endpoint transport of an application-mode device.
// One frame travels per bulk transfer.
type USB struct {
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint
}

// OpenUSB claims the vendor interface of an already-open device and
// resolves its bulk endpoint pair. Takes ownership of dev.
func OpenUSB(dev *gousb.Device) (*USB, error) {
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		return nil, fmt.Errorf("auto detach: %w", err)
	}
	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("claim configuration: %w", err)
	}

	ifNum := -1
	for _, ifd := range cfg.Desc.Interfaces {
		if len(ifd.AltSettings) > 0 && ifd.AltSettings[0].Class == gousb.ClassVendorSpec {
			ifNum = ifd.Number
			break
		}
	}
	if ifNum < 0 {
		cfg.Close()
		dev.Close()
		return nil, errors.New("device has no vendor interface")
	}

	intf, err := cfg.Interface(ifNum, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		return nil, fmt.Errorf("claim interface %d: %w", ifNum, err)
	}

	u := &USB{dev: dev, cfg: cfg, intf: intf}
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn {
			u.in, err = intf.InEndpoint(ep.Number)
		} else {
			u.out, err = intf.OutEndpoint(ep.Number)
		}
		if err != nil {
			u.Close()
			return nil, fmt.Errorf("open endpoint %d: %w", ep.Number, err)
		}
	}
	if u.in == nil || u.out == nil {
		u.Close()
		return nil, errors.New("vendor interface is missing a bulk endpoint pair")
	}
	return u, nil
}

func (u *USB) MaxPayload() int { return protocol.MaxPayload }

func (u *USB) Send(frame []byte) error {
	if config.Verbose {
		config.Debugf("usb send %d bytes:\n%s", len(frame), util.HexDump(frame))
	}
	ctx, cancel := context.WithTimeout(context.Background(), usbWriteTimeout)
	defer cancel()
	n, err := u.out.WriteContext(ctx, frame)
	if err != nil {
		return fmt.Errorf("bulk write: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("bulk write: sent %d of %d bytes", n, len(frame))
	}
	return nil
}

func (u *USB) Receive(deadline time.Time) ([]byte, error) {
	timeout := time.Until(deadline)
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	buf := make([]byte, u.in.Desc.MaxPacketSize)
	n, err := u.in.ReadContext(ctx, buf)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, gousb.TransferTimedOut) ||
			errors.Is(err, gousb.TransferCancelled) {
			return nil, nil
		}
		return nil, fmt.Errorf("bulk read: %w", err)
	}
	if n < 2 {
		return nil, fmt.Errorf("bulk read: %d-byte transfer is shorter than a frame header", n)
	}
	size := int(buf[1])
	if size > u.MaxPayload() {
		return nil, &FrameError{Size: size, Max: u.MaxPayload()}
	}
	if n < 2+size {
		return nil, fmt.Errorf("bulk read: frame declares %d payload bytes, transfer carried %d", size, n-2)
	}
	frame := make([]byte, 2+size)
	copy(frame, buf)
	if config.Verbose {
		config.Debugf("usb recv %d bytes:\n%s", len(frame), util.HexDump(frame))
	}
	return frame, nil
}

func (u *USB) Close() error {
	if u.intf != nil {
		u.intf.Close()
	}
	if u.cfg != nil {
		u.cfg.Close()
	}
	if u.dev != nil {
		return u.dev.Close()
	}
	return nil
}
