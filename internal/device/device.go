// Package device tracks PicoROM hardware across its USB modes. A
// device re-enumerates with a different product id and identity string
// when it moves between application and bootloader mode, so the only
// identity that survives a transition is its physical topology: the
// bus id plus the port chain down from the root hub.
package device

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/gousb"

	"github.com/wickerwaka/PicoROM/internal/config"
)

const (
	vendorID           gousb.ID = 0x2e8a
	productApplication gousb.ID = 0x000a
	productBootloader  gousb.ID = 0x0003
)

// Mode is the USB personality a device currently presents.
type Mode int

const (
	// ModeApplication is the PicoROM firmware proper.
	ModeApplication Mode = iota
	// ModeBootloader is the RP2040 mask-ROM PICOBOOT device.
	ModeBootloader
	// ModeResettable is a device running legacy firmware: it speaks the
	// application protocol but cannot be addressed by name, only by
	// topology, and enters the bootloader via its reset line.
	ModeResettable
)

func (m Mode) String() string {
	switch m {
	case ModeApplication:
		return "application"
	case ModeBootloader:
		return "bootloader"
	case ModeResettable:
		return "resettable"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Identity is one entry of an enumeration snapshot.
type Identity struct {
	// StableID is the device's serial string. Despite the field name it
	// only identifies the device within one mode; it changes across
	// mode transitions.
	StableID string
	// Name is the application-registered name, empty outside
	// application mode.
	Name string
	// BusID and PortChain survive reboots as long as the device stays
	// on the same physical port.
	BusID     string
	PortChain []int
	Mode      Mode
}

// SameLocation reports whether the identity sits at the given topology.
func (id Identity) SameLocation(busID string, portChain []int) bool {
	return id.BusID == busID && slices.Equal(id.PortChain, portChain)
}

// Location renders the topology for messages.
func (id Identity) Location() string {
	return fmt.Sprintf("bus %s port %v", id.BusID, id.PortChain)
}

// classify derives the mode and identity parts from the USB product id
// and serial string. Application firmware registers "<id>:<name>";
// legacy firmware has no separator.
func classify(product gousb.ID, serial string) (mode Mode, stableID, name string) {
	if product == productBootloader {
		return ModeBootloader, serial, ""
	}
	if id, n, ok := strings.Cut(serial, ":"); ok {
		return ModeApplication, id, n
	}
	return ModeResettable, serial, ""
}

// ReacquireTimeoutError means a device did not come back at its
// topology after a mode transition. Distinct from a protocol timeout:
// the device may have been unplugged or moved to another port.
type ReacquireTimeoutError struct {
	Mode      Mode
	BusID     string
	PortChain []int
	Timeout   time.Duration
}

func (e *ReacquireTimeoutError) Error() string {
	return fmt.Sprintf("no %s device reappeared at bus %s port %v within %v",
		e.Mode, e.BusID, e.PortChain, e.Timeout)
}

// SnapshotFunc produces a fresh enumeration snapshot.
type SnapshotFunc func() ([]Identity, error)

// FindAt returns the snapshot entry at a topology, if any.
func FindAt(list []Identity, busID string, portChain []int) (Identity, bool) {
	for _, id := range list {
		if id.SameLocation(busID, portChain) {
			return id, true
		}
	}
	return Identity{}, false
}

// WaitForMode polls snapshots until the device at the given topology
// presents the wanted mode. The identity string is deliberately
// ignored: it does not survive the transition being waited on.
func WaitForMode(snapshot SnapshotFunc, mode Mode, busID string, portChain []int, timeout, interval time.Duration) (Identity, error) {
	deadline := time.Now().Add(timeout)
	for {
		list, err := snapshot()
		if err != nil {
			// Enumeration can fail transiently while the device is
			// re-attaching; keep polling until the deadline.
			config.Debugf("enumeration failed while waiting for %s mode: %v", mode, err)
		}
		if id, ok := FindAt(list, busID, portChain); ok && id.Mode == mode {
			return id, nil
		}
		if !time.Now().Before(deadline) {
			return Identity{}, &ReacquireTimeoutError{Mode: mode, BusID: busID, PortChain: portChain, Timeout: timeout}
		}
		time.Sleep(interval)
	}
}

// ResolveName picks the device a user-supplied name refers to. Named
// lookups prefer the live snapshot; the cache breaks ties between
// duplicate names and recovers devices that cannot announce a name,
// such as legacy firmware. A cache entry contradicted by the snapshot
// is reported stale so the caller can drop it.
func ResolveName(list []Identity, cached Identity, haveCached bool, name string) (Identity, bool, error) {
	var matches []Identity
	for _, id := range list {
		if id.Mode == ModeApplication && id.Name == name {
			matches = append(matches, id)
		}
	}
	switch {
	case len(matches) == 1:
		return matches[0], false, nil
	case len(matches) > 1:
		if haveCached {
			for _, id := range matches {
				if id.SameLocation(cached.BusID, cached.PortChain) {
					return id, false, nil
				}
			}
		}
		return Identity{}, false, fmt.Errorf("%d devices are named %q; rename one first", len(matches), name)
	}
	// Nothing announces the name. A cached topology can still rescue a
	// legacy device, which never announces one.
	if haveCached {
		if id, ok := FindAt(list, cached.BusID, cached.PortChain); ok && id.Mode == ModeResettable {
			return id, false, nil
		}
		return Identity{}, true, notFoundError(list, name)
	}
	return Identity{}, false, notFoundError(list, name)
}

func notFoundError(list []Identity, name string) error {
	var names []string
	for _, id := range list {
		if id.Mode == ModeApplication && id.Name != "" {
			names = append(names, id.Name)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("no device named %q found", name)
	}
	return fmt.Errorf("no device named %q found (connected: %s)", name, strings.Join(names, ", "))
}
