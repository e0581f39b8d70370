package commands

import (
	"errors"
	"fmt"

	"github.com/wickerwaka/PicoROM/internal/tui"
	"github.com/wickerwaka/PicoROM/internal/uf2"
)

// flattenImage lays the firmware blocks out as one contiguous buffer
// relative to the start of flash, gaps filled with the erased value.
func flattenImage(img *uf2.Image) ([]byte, error) {
	start, end, ok := img.AddressRange()
	if !ok {
		return nil, errors.New("firmware file contains no data")
	}
	if start != uf2.FlashBase {
		return nil, fmt.Errorf("ota image must start at 0x%08x, starts at 0x%08x", uint32(uf2.FlashBase), start)
	}
	buf := make([]byte, end-start)
	for i := range buf {
		buf[i] = 0xff
	}
	for _, b := range img.Blocks() {
		copy(buf[b.Addr-start:], b.Data)
	}
	return buf, nil
}

// OTA updates a device's firmware in application mode: the image is
// staged in the ROM window, then the device copies it into place and
// reboots itself. No bootloader round trip, so the device keeps its
// name and settings visible throughout.
func (s *Session) OTA(name, file string) error {
	link, _, err := s.open(name)
	if err != nil {
		return err
	}
	defer link.Close()

	ota, err := link.GetParameter("ota")
	if err != nil {
		return err
	}
	if ota != "true" {
		return fmt.Errorf("device '%s' does not support ota updates; use the firmware command", name)
	}

	img, err := loadImage(file)
	if err != nil {
		return err
	}
	data, err := flattenImage(img)
	if err != nil {
		return err
	}

	bar := tui.NewBar("Staging")
	err = link.UploadTo(0, data, func(sent int) {
		bar.Set(uint64(sent), uint64(len(data)))
	})
	if err != nil {
		fmt.Println()
		return err
	}
	bar.Finish()

	fmt.Println("Installing...")
	err = link.CommitOTA(uint32(len(data)), func(msg string) {
		fmt.Printf("  %s\n", msg)
	})
	if err != nil {
		return err
	}
	fmt.Println("Firmware installed, device is rebooting.")
	return nil
}
