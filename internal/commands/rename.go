package commands

import "fmt"

// Rename gives a device a new name.
func (s *Session) Rename(current, newName string) error {
	link, _, err := s.open(current)
	if err != nil {
		return err
	}
	defer link.Close()

	if err := link.SetIdent(newName); err != nil {
		return err
	}
	fmt.Printf("Renamed '%s' to '%s'\n", current, newName)
	return nil
}

// NameSwap exchanges the names of two devices. Both are resolved
// before either is renamed, so the swap cannot chase its own tail.
func (s *Session) NameSwap(first, second string) error {
	linkA, _, err := s.open(first)
	if err != nil {
		return err
	}
	defer linkA.Close()
	linkB, _, err := s.open(second)
	if err != nil {
		return err
	}
	defer linkB.Close()

	if err := linkA.SetIdent(second); err != nil {
		return err
	}
	if err := linkB.SetIdent(first); err != nil {
		return err
	}
	fmt.Printf("Renamed '%s' to '%s'\n", first, second)
	fmt.Printf("Renamed '%s' to '%s'\n", second, first)
	return nil
}
