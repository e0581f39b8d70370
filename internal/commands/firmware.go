package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wickerwaka/PicoROM/internal/device"
	"github.com/wickerwaka/PicoROM/internal/firmware"
	"github.com/wickerwaka/PicoROM/internal/picoboot"
	"github.com/wickerwaka/PicoROM/internal/tui"
	"github.com/wickerwaka/PicoROM/internal/uf2"
)

// loadImage parses a firmware file by extension.
func loadImage(path string) (*uf2.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".uf2":
		return uf2.Parse(data)
	case ".bin":
		return uf2.ParseBin(data)
	case "":
		return nil, errors.New("firmware file has no extension")
	default:
		return nil, fmt.Errorf("unsupported firmware format: %s", filepath.Ext(path))
	}
}

// resolveTarget picks the device to flash: by name, or interactively
// when several candidates are connected.
func (s *Session) resolveTarget(name string) (device.Identity, error) {
	if name != "" {
		id, err := s.Reg.Find(name)
		if err == nil {
			return id, nil
		}
		// The device may already sit in bootloader mode, where it
		// cannot announce its name. Fall back to any bootloader.
		list, lerr := s.Reg.Snapshot()
		if lerr == nil {
			for _, id := range list {
				if id.Mode == device.ModeBootloader {
					fmt.Printf("Device '%s' not found, using bootloader: %s\n", name, id.StableID)
					return id, nil
				}
			}
		}
		return device.Identity{}, err
	}

	list, err := s.Reg.Snapshot()
	if err != nil {
		return device.Identity{}, err
	}
	switch len(list) {
	case 0:
		return device.Identity{}, errors.New(
			"no PicoROM devices found; connect one, or hold BOOTSEL while connecting for bootloader mode")
	case 1:
		fmt.Printf("Auto-detected: %s (%s mode)\n", displayName(list[0]), list[0].Mode)
		return list[0], nil
	}

	labels := make([]string, len(list))
	for i, id := range list {
		labels[i] = fmt.Sprintf("%s (%s mode, %s)", displayName(id), id.Mode, id.Location())
	}
	choice, err := tui.Pick("Select device to flash", labels)
	if err != nil {
		return device.Identity{}, err
	}
	return list[choice], nil
}

func displayName(id device.Identity) string {
	if id.Name != "" {
		return id.Name
	}
	return id.StableID
}

// Firmware replaces the firmware on a device via the bootloader,
// whatever mode the device is currently in.
func (s *Session) Firmware(name, file string, yes, verify, noReboot bool) error {
	if s.Port != "" {
		return errors.New("firmware update needs USB; serial devices must be flashed via BOOTSEL")
	}

	target, err := s.resolveTarget(name)
	if err != nil {
		return err
	}
	img, err := loadImage(file)
	if err != nil {
		return err
	}
	start, end, ok := img.AddressRange()
	if !ok {
		return errors.New("firmware file contains no data")
	}

	regions := img.SectorsToErase(picoboot.SectorSize)
	var eraseTotal uint64
	for _, r := range regions {
		eraseTotal += uint64(r.Size)
	}
	fmt.Printf("Firmware: %s\n", file)
	fmt.Printf("  Blocks: %d, Total size: %d bytes\n", len(img.Blocks()), img.TotalBytes())
	fmt.Printf("  Address range: 0x%08X - 0x%08X\n", start, end)
	fmt.Printf("  Sectors to erase: %d (%d bytes)\n", len(regions), eraseTotal)

	if !yes && !confirm(fmt.Sprintf("\nFlash firmware to '%s'?", displayName(target))) {
		fmt.Println("Aborted.")
		return nil
	}

	if target.Mode != device.ModeBootloader {
		fmt.Printf("\nSending '%s' to bootloader...\n", displayName(target))
	} else {
		fmt.Println("\nConnecting to bootloader...")
	}
	var conn *picoboot.Conn
	err = withSpinner("Waiting for bootloader", "Connected", func() error {
		var err error
		conn, err = s.Reg.EnterBootloader(target)
		return err
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	eraseBar := tui.NewBar("Erasing")
	writeBar := tui.NewBar("Writing")
	err = firmware.Update(conn, img, func(kind firmware.ProgressKind, done, total uint64) {
		switch kind {
		case firmware.ProgressErase:
			eraseBar.Set(done, total)
			if done == total {
				eraseBar.Finish()
			}
		case firmware.ProgressWrite:
			writeBar.Set(done, total)
		}
	})
	if err != nil {
		fmt.Println()
		return err
	}
	writeBar.Finish()

	if verify {
		verifyBar := tui.NewBar("Verifying")
		err = firmware.Verify(conn, img, func(done, total uint64) {
			verifyBar.Set(done, total)
		})
		if err != nil {
			fmt.Println()
			return err
		}
		verifyBar.Finish()
	}

	if noReboot {
		fmt.Println("\nFirmware written. Device left in bootloader mode.")
		return nil
	}

	fmt.Println("Rebooting device...")
	if err := conn.Reboot(500); err != nil {
		return err
	}
	err = withSpinner("Waiting for device", "Device online", func() error {
		_, err := s.Reg.WaitForApplication(target.BusID, target.PortChain)
		return err
	})
	if err != nil {
		var re *device.ReacquireTimeoutError
		if errors.As(err, &re) {
			fmt.Println("Timeout (device may still boot)")
		} else {
			return err
		}
	}
	fmt.Println("\nFirmware update complete!")
	return nil
}
