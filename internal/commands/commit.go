package commands

// Commit persists the device's active ROM image to its flash.
func (s *Session) Commit(name string) error {
	link, _, err := s.open(name)
	if err != nil {
		return err
	}
	defer link.Close()

	return withSpinner("Storing to flash", "Stored to flash.", link.CommitROM)
}
