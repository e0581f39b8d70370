// Package uf2 parses RP2040 firmware images and plans the flash erase
// they require. Both the UF2 container and raw binary images reduce to
// the same thing: an ordered set of addressed data blocks.
package uf2

import (
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	// BlockSize is the fixed size of one UF2 container block.
	BlockSize = 512
	// MaxBlockPayload is the largest data payload one block may carry.
	MaxBlockPayload = 476
	// FlashBase is where raw binary images load on the RP2040.
	FlashBase = 0x10000000

	magicStart0 = 0x0A324655
	magicStart1 = 0x9E5D5157
	magicEnd    = 0x0AB16F30

	flagFamilyIDPresent = 0x00002000
	familyRP2040        = 0xE48BFF56

	// binChunkSize splits raw binaries into block-sized pieces.
	binChunkSize = 256
)

// FormatError reports a malformed firmware image. Block is the index of
// the offending UF2 block, or -1 for whole-file problems.
type FormatError struct {
	Block  int
	Reason string
}

func (e *FormatError) Error() string {
	if e.Block < 0 {
		return fmt.Sprintf("invalid firmware image: %s", e.Reason)
	}
	return fmt.Sprintf("invalid firmware image: block %d: %s", e.Block, e.Reason)
}

// Block is one addressed chunk of firmware data.
type Block struct {
	Addr uint32
	Data []byte
}

// Region is a contiguous span of flash.
type Region struct {
	Start uint32
	Size  uint32
}

func (r Region) End() uint32 { return r.Start + r.Size }

// Image is a parsed firmware image: blocks sorted by strictly
// increasing target address.
type Image struct {
	blocks []Block
}

// Parse reads a UF2 container. Any malformed block rejects the whole
// file.
func Parse(data []byte) (*Image, error) {
	if len(data) == 0 || len(data)%BlockSize != 0 {
		return nil, &FormatError{Block: -1, Reason: fmt.Sprintf("size %d is not a multiple of %d", len(data), BlockSize)}
	}
	total := uint32(len(data) / BlockSize)

	byAddr := make(map[uint32][]byte)
	for i := uint32(0); i < total; i++ {
		b := data[i*BlockSize : (i+1)*BlockSize]
		if binary.LittleEndian.Uint32(b) != magicStart0 ||
			binary.LittleEndian.Uint32(b[4:]) != magicStart1 ||
			binary.LittleEndian.Uint32(b[508:]) != magicEnd {
			return nil, &FormatError{Block: int(i), Reason: "bad magic"}
		}
		flags := binary.LittleEndian.Uint32(b[8:])
		addr := binary.LittleEndian.Uint32(b[12:])
		size := binary.LittleEndian.Uint32(b[16:])
		blockNo := binary.LittleEndian.Uint32(b[20:])
		numBlocks := binary.LittleEndian.Uint32(b[24:])
		family := binary.LittleEndian.Uint32(b[28:])

		if flags&flagFamilyIDPresent != 0 && family != familyRP2040 {
			return nil, &FormatError{Block: int(i), Reason: fmt.Sprintf("family id 0x%08x is not RP2040", family)}
		}
		if blockNo != i {
			return nil, &FormatError{Block: int(i), Reason: fmt.Sprintf("block number %d out of sequence", blockNo)}
		}
		if numBlocks != total {
			return nil, &FormatError{Block: int(i), Reason: fmt.Sprintf("declares %d total blocks, file has %d", numBlocks, total)}
		}
		if size > MaxBlockPayload {
			return nil, &FormatError{Block: int(i), Reason: fmt.Sprintf("payload size %d exceeds %d", size, MaxBlockPayload)}
		}
		payload := make([]byte, size)
		copy(payload, b[32:32+size])
		byAddr[addr] = payload
	}
	return fromMap(byAddr), nil
}

// ParseBin treats data as a raw binary image based at the start of
// flash, split into page-sized blocks.
func ParseBin(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, &FormatError{Block: -1, Reason: "empty image"}
	}
	byAddr := make(map[uint32][]byte)
	for off := 0; off < len(data); off += binChunkSize {
		end := off + binChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := make([]byte, end-off)
		copy(chunk, data[off:end])
		byAddr[FlashBase+uint32(off)] = chunk
	}
	return fromMap(byAddr), nil
}

// fromMap orders blocks by address. Duplicate addresses in the
// container collapse to the last payload seen, matching how the
// bootloader would apply them.
func fromMap(byAddr map[uint32][]byte) *Image {
	blocks := make([]Block, 0, len(byAddr))
	for addr, data := range byAddr {
		blocks = append(blocks, Block{Addr: addr, Data: data})
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Addr < blocks[j].Addr })
	return &Image{blocks: blocks}
}

// Blocks returns the image's blocks in ascending address order.
func (img *Image) Blocks() []Block { return img.blocks }

// TotalBytes is the sum of all block payload sizes.
func (img *Image) TotalBytes() int {
	n := 0
	for _, b := range img.blocks {
		n += len(b.Data)
	}
	return n
}

// AddressRange reports the lowest and one-past-highest addresses the
// image touches. ok is false for an empty image.
func (img *Image) AddressRange() (start, end uint32, ok bool) {
	if len(img.blocks) == 0 {
		return 0, 0, false
	}
	first := img.blocks[0]
	last := img.blocks[len(img.blocks)-1]
	return first.Addr, last.Addr + uint32(len(last.Data)), true
}

// SectorsToErase computes the erase plan: every sector the image
// touches, aligned down to sectorSize, deduplicated, then greedily
// merged into maximal contiguous regions in ascending order.
func (img *Image) SectorsToErase(sectorSize uint32) []Region {
	touched := make(map[uint32]struct{})
	for _, b := range img.blocks {
		if len(b.Data) == 0 {
			continue
		}
		first := b.Addr / sectorSize
		last := (b.Addr + uint32(len(b.Data)) - 1) / sectorSize
		for s := first; s <= last; s++ {
			touched[s*sectorSize] = struct{}{}
		}
	}
	starts := make([]uint32, 0, len(touched))
	for s := range touched {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	var regions []Region
	for _, s := range starts {
		if n := len(regions); n > 0 && regions[n-1].End() == s {
			regions[n-1].Size += sectorSize
			continue
		}
		regions = append(regions, Region{Start: s, Size: sectorSize})
	}
	return regions
}
