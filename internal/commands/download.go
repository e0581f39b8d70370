package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wickerwaka/PicoROM/internal/tui"
)

// Download reads the device's active ROM image into a file. The size
// comes from the device's address mask.
func (s *Session) Download(name, dest string) error {
	link, _, err := s.open(name)
	if err != nil {
		return err
	}
	defer link.Close()

	maskStr, err := link.GetParameter("addr_mask")
	if err != nil {
		return err
	}
	mask, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(maskStr), "0x"), 16, 32)
	if err != nil {
		return fmt.Errorf("invalid addr_mask from device: %w", err)
	}
	size := int(mask) + 1

	bar := tui.NewBar("Downloading")
	data, err := link.Download(size, func(read int) {
		bar.Set(uint64(read), uint64(size))
	})
	if err != nil {
		fmt.Println()
		return err
	}
	bar.Finish()

	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Downloaded %d bytes to %s\n", len(data), dest)
	return nil
}
