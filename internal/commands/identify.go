package commands

import "fmt"

// Identify flashes a device's activity LED so it can be spotted on a
// crowded bench.
func (s *Session) Identify(name string) error {
	link, _, err := s.open(name)
	if err != nil {
		return err
	}
	defer link.Close()

	if err := link.Identify(); err != nil {
		return err
	}
	fmt.Printf("Requested identification from '%s'\n", name)
	return nil
}
