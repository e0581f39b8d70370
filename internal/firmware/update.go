// Package firmware drives a full device reflash through the bootloader:
// claim the device, take flash out of XIP, erase the planned regions,
// then program the image page by page.
package firmware

import (
	"bytes"
	"fmt"

	"github.com/wickerwaka/PicoROM/internal/picoboot"
	"github.com/wickerwaka/PicoROM/internal/uf2"
)

// ProgressKind separates the two phases a caller renders independently.
type ProgressKind int

const (
	ProgressErase ProgressKind = iota
	ProgressWrite
)

// ProgressFunc receives cumulative byte counts against the total for
// one phase.
type ProgressFunc func(kind ProgressKind, done, total uint64)

// Flasher is the bootloader surface the orchestrator needs.
type Flasher interface {
	ExclusiveAccess() error
	ExitXIP() error
	FlashErase(addr, size uint32) error
	FlashWrite(addr uint32, data []byte) error
}

// Reader is the bootloader surface verification needs.
type Reader interface {
	FlashRead(addr uint32, buf []byte) error
}

// Update erases and programs img through conn. Erase and write report
// progress against independent totals. The first failure aborts; flash
// may then hold a partial image, so the caller should not reboot into
// it without retrying.
func Update(conn Flasher, img *uf2.Image, progress ProgressFunc) error {
	if len(img.Blocks()) == 0 {
		return fmt.Errorf("firmware image is empty")
	}

	if err := conn.ExclusiveAccess(); err != nil {
		return fmt.Errorf("exclusive access: %w", err)
	}
	if err := conn.ExitXIP(); err != nil {
		return fmt.Errorf("exit xip: %w", err)
	}

	regions := img.SectorsToErase(picoboot.SectorSize)
	var eraseTotal uint64
	for _, r := range regions {
		eraseTotal += uint64(r.Size)
	}
	var erased uint64
	if progress != nil {
		progress(ProgressErase, 0, eraseTotal)
	}
	for _, r := range regions {
		if err := conn.FlashErase(r.Start, r.Size); err != nil {
			return fmt.Errorf("erase 0x%08x+0x%x: %w", r.Start, r.Size, err)
		}
		erased += uint64(r.Size)
		if progress != nil {
			progress(ProgressErase, erased, eraseTotal)
		}
	}

	writeTotal := uint64(img.TotalBytes())
	var written uint64
	if progress != nil {
		progress(ProgressWrite, 0, writeTotal)
	}
	for _, b := range img.Blocks() {
		for off := 0; off < len(b.Data); off += picoboot.PageSize {
			end := off + picoboot.PageSize
			if end > len(b.Data) {
				end = len(b.Data)
			}
			page := b.Data[off:end]
			if len(page) < picoboot.PageSize {
				// Pad to a full page with the erased-flash value.
				padded := make([]byte, picoboot.PageSize)
				for i := range padded {
					padded[i] = 0xff
				}
				copy(padded, page)
				page = padded
			}
			addr := b.Addr + uint32(off)
			if err := conn.FlashWrite(addr, page); err != nil {
				return fmt.Errorf("write 0x%08x: %w", addr, err)
			}
			written += uint64(end - off)
			if progress != nil {
				progress(ProgressWrite, written, writeTotal)
			}
		}
	}
	return nil
}

// Verify reads every block of img back from flash and compares it
// against the image data.
func Verify(conn Reader, img *uf2.Image, progress func(done, total uint64)) error {
	total := uint64(img.TotalBytes())
	var read uint64
	if progress != nil {
		progress(0, total)
	}
	for _, b := range img.Blocks() {
		if len(b.Data) == 0 {
			continue
		}
		buf := make([]byte, len(b.Data))
		if err := conn.FlashRead(b.Addr, buf); err != nil {
			return fmt.Errorf("read back 0x%08x: %w", b.Addr, err)
		}
		if !bytes.Equal(buf, b.Data) {
			return fmt.Errorf("verify failed at 0x%08x: flash contents differ", b.Addr)
		}
		read += uint64(len(b.Data))
		if progress != nil {
			progress(read, total)
		}
	}
	return nil
}
