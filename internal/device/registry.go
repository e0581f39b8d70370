package device

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/gousb"

	"github.com/wickerwaka/PicoROM/internal/config"
	"github.com/wickerwaka/PicoROM/internal/picoboot"
	"github.com/wickerwaka/PicoROM/internal/picolink"
	"github.com/wickerwaka/PicoROM/internal/transport"
)

const (
	// pollInterval paces topology polling during mode transitions.
	pollInterval = 100 * time.Millisecond
	// settleDelay gives a rebooting device time to drop off the bus
	// before the first poll, so the old mode is not matched.
	settleDelay = 500 * time.Millisecond
	// resetPulseWidth holds the reset line low on legacy hardware.
	resetPulseWidth = 100 * time.Millisecond

	// ReacquireTimeout bounds how long a device may take to come back
	// after a mode transition.
	ReacquireTimeout = 10 * time.Second
)

// Registry enumerates, resolves and opens devices on one USB context.
type Registry struct {
	ctx   *gousb.Context
	cache Cache
}

// NewRegistry wraps a USB context. cache may be nil.
func NewRegistry(ctx *gousb.Context, cache Cache) *Registry {
	return &Registry{ctx: ctx, cache: cache}
}

// Snapshot enumerates every PicoROM-vendor device, in any mode.
func (r *Registry) Snapshot() ([]Identity, error) {
	devs, err := r.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vendorID &&
			(desc.Product == productApplication || desc.Product == productBootloader)
	})
	var ids []Identity
	for _, d := range devs {
		serial, serr := d.SerialNumber()
		if serr != nil {
			config.Debugf("read serial of %s: %v", d.Desc, serr)
		}
		mode, stableID, name := classify(d.Desc.Product, serial)
		ids = append(ids, Identity{
			StableID:  stableID,
			Name:      name,
			BusID:     strconv.Itoa(d.Desc.Bus),
			PortChain: slices.Clone(d.Desc.Path),
			Mode:      mode,
		})
		d.Close()
	}
	if err != nil && len(ids) == 0 {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	return ids, nil
}

// Find resolves a device name to a live identity, consulting and
// maintaining the cache.
func (r *Registry) Find(name string) (Identity, error) {
	list, err := r.Snapshot()
	if err != nil {
		return Identity{}, err
	}
	var cached Identity
	haveCached := false
	if r.cache != nil {
		cached, haveCached = r.cache.Lookup(name)
	}
	id, stale, err := ResolveName(list, cached, haveCached, name)
	if r.cache != nil {
		if stale {
			if rerr := r.cache.Remove(name); rerr != nil {
				config.Debugf("drop stale cache entry %q: %v", name, rerr)
			}
		} else if err == nil && id.Mode == ModeApplication {
			if serr := r.cache.Store(name, id); serr != nil {
				config.Debugf("cache device %q: %v", name, serr)
			}
		}
	}
	return id, err
}

// Open connects the application protocol to the device at an identity.
func (r *Registry) Open(id Identity) (*picolink.Link, error) {
	devs, err := r.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vendorID && desc.Product == productApplication &&
			strconv.Itoa(desc.Bus) == id.BusID && slices.Equal(desc.Path, id.PortChain)
	})
	if len(devs) == 0 {
		if err != nil {
			return nil, fmt.Errorf("open device at %s: %w", id.Location(), err)
		}
		return nil, fmt.Errorf("no device at %s", id.Location())
	}
	for _, d := range devs[1:] {
		d.Close()
	}
	tr, err := transport.OpenUSB(devs[0])
	if err != nil {
		return nil, fmt.Errorf("open device at %s: %w", id.Location(), err)
	}
	return picolink.New(tr), nil
}

// OpenName is Find followed by Open.
func (r *Registry) OpenName(name string) (*picolink.Link, Identity, error) {
	id, err := r.Find(name)
	if err != nil {
		return nil, Identity{}, err
	}
	if id.Mode == ModeBootloader {
		return nil, Identity{}, fmt.Errorf("device %q is in bootloader mode", name)
	}
	link, err := r.Open(id)
	if err != nil {
		return nil, Identity{}, err
	}
	return link, id, nil
}

// OpenSerialPort connects over a CDC serial port instead of USB bulk,
// for legacy firmware reachable only that way.
func (r *Registry) OpenSerialPort(path string) (*picolink.Link, error) {
	tr, err := transport.OpenSerial(path)
	if err != nil {
		return nil, err
	}
	return picolink.New(tr), nil
}

// EnterBootloader moves the device at id into bootloader mode and
// reconnects to it there. Each mode has its own way in:
// application firmware takes a reboot command, legacy firmware gets a
// pulse on its reset line, and a device already in the bootloader is
// simply opened.
func (r *Registry) EnterBootloader(id Identity) (*picoboot.Conn, error) {
	switch id.Mode {
	case ModeBootloader:
		return picoboot.OpenAt(r.ctx, id.BusID, id.PortChain)
	case ModeApplication:
		link, err := r.Open(id)
		if err != nil {
			return nil, err
		}
		err = link.RebootToBootloader()
		link.Close()
		if err != nil {
			return nil, fmt.Errorf("reboot to bootloader: %w", err)
		}
	case ModeResettable:
		link, err := r.Open(id)
		if err != nil {
			return nil, err
		}
		if err := link.Reset(picolink.ResetLow); err == nil {
			time.Sleep(resetPulseWidth)
			err = link.Reset(picolink.ResetZ)
		}
		link.Close()
		if err != nil {
			return nil, fmt.Errorf("pulse reset line: %w", err)
		}
	default:
		return nil, errors.New("unknown device mode")
	}

	time.Sleep(settleDelay)
	bootID, err := WaitForMode(r.Snapshot, ModeBootloader, id.BusID, id.PortChain, ReacquireTimeout, pollInterval)
	if err != nil {
		return nil, err
	}
	return picoboot.OpenAt(r.ctx, bootID.BusID, bootID.PortChain)
}

// WaitForApplication polls for the device at a topology to come back
// up in application mode, typically after a post-flash reboot.
func (r *Registry) WaitForApplication(busID string, portChain []int) (Identity, error) {
	time.Sleep(settleDelay)
	return WaitForMode(r.Snapshot, ModeApplication, busID, portChain, ReacquireTimeout, pollInterval)
}
