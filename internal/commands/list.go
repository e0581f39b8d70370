package commands

import (
	"fmt"

	"github.com/wickerwaka/PicoROM/internal/device"
)

// List prints every connected device, whatever mode it is in.
func (s *Session) List() error {
	ids, err := s.Reg.Snapshot()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No PicoROMs found.")
		return nil
	}
	fmt.Println("Available PicoROMs:")
	for _, id := range ids {
		switch id.Mode {
		case device.ModeApplication:
			fmt.Printf("  %-16s [%s]\n", id.Name, id.StableID)
		case device.ModeBootloader:
			fmt.Printf("  %-16s [%s] (bootloader, %s)\n", "-", id.StableID, id.Location())
		case device.ModeResettable:
			fmt.Printf("  %-16s [%s] (legacy firmware, %s)\n", "-", id.StableID, id.Location())
		}
	}
	return nil
}
