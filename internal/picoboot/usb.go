package picoboot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/gousb"
)

const (
	vendorID          = 0x2e8a
	productBootloader = 0x0003

	// bmRequestType 0xC1, bRequest 0x42: PICOBOOT command status.
	statusRequestType = gousb.ControlIn | gousb.ControlVendor | gousb.ControlInterface
	statusRequest     = 0x42

	bulkTimeout = 2 * time.Second
)

// usbWire drives a claimed PICOBOOT vendor interface.
type usbWire struct {
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	in    *gousb.InEndpoint
	out   *gousb.OutEndpoint
	ifNum int
}

// Open claims the first bootloader-mode device matching the filter.
func open(ctx *gousb.Context, match func(*gousb.DeviceDesc) bool) (*Conn, error) {
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vendorID && desc.Product == productBootloader && match(desc)
	})
	if len(devs) == 0 {
		if err != nil {
			return nil, fmt.Errorf("enumerate bootloader devices: %w", err)
		}
		return nil, errors.New("no bootloader device found")
	}
	for _, d := range devs[1:] {
		d.Close()
	}
	w, err := claim(devs[0])
	if err != nil {
		return nil, err
	}
	return NewConn(w), nil
}

// OpenAt connects to the bootloader-mode device at a specific bus and
// port chain. This is how a device is found again after a mode change,
// since its identity string does not survive one.
func OpenAt(ctx *gousb.Context, busID string, portChain []int) (*Conn, error) {
	conn, err := open(ctx, func(desc *gousb.DeviceDesc) bool {
		return strconv.Itoa(desc.Bus) == busID && slices.Equal(desc.Path, portChain)
	})
	if err != nil {
		return nil, fmt.Errorf("bootloader at bus %s port %v: %w", busID, portChain, err)
	}
	return conn, nil
}

// claim takes ownership of dev and resolves the PICOBOOT interface:
// the vendor-class interface with a bulk endpoint pair.
func claim(dev *gousb.Device) (*usbWire, error) {
	w := &usbWire{dev: dev, ifNum: -1}
	fail := func(err error) (*usbWire, error) {
		w.Close()
		return nil, err
	}
	if err := dev.SetAutoDetach(true); err != nil {
		return fail(fmt.Errorf("auto detach: %w", err))
	}
	cfg, err := dev.Config(1)
	if err != nil {
		return fail(fmt.Errorf("claim configuration: %w", err))
	}
	w.cfg = cfg
	for _, ifd := range cfg.Desc.Interfaces {
		if len(ifd.AltSettings) > 0 && ifd.AltSettings[0].Class == gousb.ClassVendorSpec {
			w.ifNum = ifd.Number
			break
		}
	}
	if w.ifNum < 0 {
		return fail(errors.New("device has no PICOBOOT interface"))
	}
	w.intf, err = cfg.Interface(w.ifNum, 0)
	if err != nil {
		return fail(fmt.Errorf("claim interface %d: %w", w.ifNum, err))
	}
	for _, ep := range w.intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn {
			w.in, err = w.intf.InEndpoint(ep.Number)
		} else {
			w.out, err = w.intf.OutEndpoint(ep.Number)
		}
		if err != nil {
			return fail(fmt.Errorf("open endpoint %d: %w", ep.Number, err))
		}
	}
	if w.in == nil || w.out == nil {
		return fail(errors.New("PICOBOOT interface is missing a bulk endpoint pair"))
	}
	return w, nil
}

func (w *usbWire) SendBulk(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), bulkTimeout)
	defer cancel()
	n, err := w.out.WriteContext(ctx, data)
	if err != nil {
		return fmt.Errorf("bulk out: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("bulk out: sent %d of %d bytes", n, len(data))
	}
	return nil
}

func (w *usbWire) RecvBulk(buf []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), bulkTimeout)
	defer cancel()
	n, err := w.in.ReadContext(ctx, buf)
	if err != nil {
		return n, fmt.Errorf("bulk in: %w", err)
	}
	return n, nil
}

func (w *usbWire) Status(buf []byte) (int, error) {
	return w.dev.Control(statusRequestType, statusRequest, 0, uint16(w.ifNum), buf)
}

func (w *usbWire) Close() error {
	if w.intf != nil {
		w.intf.Close()
	}
	if w.cfg != nil {
		w.cfg.Close()
	}
	if w.dev != nil {
		return w.dev.Close()
	}
	return nil
}
