package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/wickerwaka/PicoROM/internal/romsize"
	"github.com/wickerwaka/PicoROM/internal/tui"
)

// readROMFile loads a ROM image and zero-pads it to the emulated size.
func readROMFile(path string, size romsize.Size) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > size.Bytes() {
		return nil, fmt.Errorf("%s is larger (%d) than rom size (%d)", path, len(data), size.Bytes())
	}
	padded := make([]byte, size.Bytes())
	copy(padded, data)
	return padded, nil
}

// Upload sends a ROM image into the device's emulation window. With
// size zero the device's current rom_size is kept. store also commits
// the image to the device's flash.
func (s *Session) Upload(name, source string, size romsize.Size, store bool) error {
	link, _, err := s.open(name)
	if err != nil {
		return err
	}
	defer link.Close()

	if size == 0 {
		value, err := link.GetParameter("rom_size")
		if err != nil {
			return err
		}
		size, err = romsize.ParseHexBytes(value)
		if err != nil {
			return fmt.Errorf("invalid rom_size from device: %w", err)
		}
	}

	data, err := readROMFile(source, size)
	if err != nil {
		return err
	}

	bar := tui.NewBar("Uploading")
	err = link.Upload(data, size.Mask(), func(sent int) {
		bar.Set(uint64(sent), uint64(len(data)))
	})
	if err != nil {
		fmt.Println()
		return err
	}
	bar.Finish()

	if _, err := link.SetParameter("rom_name", filepath.Base(source)); err != nil {
		return err
	}

	if store {
		return withSpinner("Storing to flash", "Stored to flash.", link.CommitROM)
	}
	return nil
}
