// Package romsize names the EEPROM capacities a PicoROM can emulate.
// Sizes are spoken of in bits, as EEPROM part numbers do, but handled
// in bytes.
package romsize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	mbit = 128 * 1024 // bytes per megabit
	kbit = 128        // bytes per kilobit
)

// Size is an emulated ROM capacity in bytes.
type Size int

// The capacities the device supports, largest first.
var supported = []Size{
	2 * mbit,
	1 * mbit,
	512 * kbit,
	256 * kbit,
	128 * kbit,
	64 * kbit,
	32 * kbit,
	16 * kbit,
	8 * kbit,
}

// Supported lists the accepted capacities, largest first.
func Supported() []Size {
	out := make([]Size, len(supported))
	copy(out, supported)
	return out
}

// Bytes returns the capacity in bytes.
func (s Size) Bytes() int { return int(s) }

// Mask is the address mask the device applies for this capacity.
func (s Size) Mask() uint32 { return uint32(s) - 1 }

func (s Size) String() string {
	if s >= mbit && s%mbit == 0 {
		return fmt.Sprintf("%dMBit", s/mbit)
	}
	return fmt.Sprintf("%dKBit", s/kbit)
}

// Parse reads a capacity name such as "2MBit" or "512KBit",
// case-insensitively.
func Parse(text string) (Size, error) {
	t := strings.ToLower(strings.TrimSpace(text))
	var mult int
	switch {
	case strings.HasSuffix(t, "mbit"):
		mult = mbit
		t = strings.TrimSuffix(t, "mbit")
	case strings.HasSuffix(t, "kbit"):
		mult = kbit
		t = strings.TrimSuffix(t, "kbit")
	default:
		return 0, fmt.Errorf("invalid rom size %q: expected a KBit or MBit suffix", text)
	}
	n, err := strconv.Atoi(t)
	if err != nil {
		return 0, fmt.Errorf("invalid rom size %q: %w", text, err)
	}
	return FromBytes(n * mult)
}

// FromBytes validates that a byte count is a supported capacity.
func FromBytes(n int) (Size, error) {
	i := sort.Search(len(supported), func(i int) bool { return supported[i] <= Size(n) })
	if i < len(supported) && supported[i] == Size(n) {
		return Size(n), nil
	}
	return 0, fmt.Errorf("unsupported rom size %d bytes (smallest is %s, largest %s)",
		n, supported[len(supported)-1], supported[0])
}

// ParseHexBytes reads the device's rom_size parameter, a hex byte
// count such as "0x00040000".
func ParseHexBytes(text string) (Size, error) {
	t := strings.TrimPrefix(strings.TrimSpace(text), "0x")
	n, err := strconv.ParseUint(t, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid rom_size value %q: %w", text, err)
	}
	return FromBytes(int(n))
}

// UnmarshalText lets a Size be used directly as a CLI argument type.
func (s *Size) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
