package commands

import (
	"fmt"

	"github.com/wickerwaka/PicoROM/internal/picolink"
)

// Reset drives the emulated reset pin to a level.
func (s *Session) Reset(name, level string) error {
	parsed, err := picolink.ParseResetLevel(level)
	if err != nil {
		return err
	}
	link, _, err := s.open(name)
	if err != nil {
		return err
	}
	defer link.Close()

	if err := link.Reset(parsed); err != nil {
		return err
	}
	fmt.Printf("Setting '%s' reset pin to: %s\n", name, parsed)
	return nil
}
