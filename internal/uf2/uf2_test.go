package uf2

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// buildBlock assembles one well-formed UF2 block that tests then bend.
func buildBlock(addr, blockNo, numBlocks uint32, payload []byte) []byte {
	b := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(b, magicStart0)
	binary.LittleEndian.PutUint32(b[4:], magicStart1)
	binary.LittleEndian.PutUint32(b[8:], flagFamilyIDPresent)
	binary.LittleEndian.PutUint32(b[12:], addr)
	binary.LittleEndian.PutUint32(b[16:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(b[20:], blockNo)
	binary.LittleEndian.PutUint32(b[24:], numBlocks)
	binary.LittleEndian.PutUint32(b[28:], familyRP2040)
	copy(b[32:], payload)
	binary.LittleEndian.PutUint32(b[508:], magicEnd)
	return b
}

func buildImage(addrs []uint32, payloadSize int) []byte {
	var file []byte
	total := uint32(len(addrs))
	for i, addr := range addrs {
		payload := bytes.Repeat([]byte{byte(i + 1)}, payloadSize)
		file = append(file, buildBlock(addr, uint32(i), total, payload)...)
	}
	return file
}

func TestParseValidImage(t *testing.T) {
	file := buildImage([]uint32{0x10000000, 0x10000100, 0x10000200}, 256)
	img, err := Parse(file)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	blocks := img.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("Blocks = %d, want 3", len(blocks))
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Addr <= blocks[i-1].Addr {
			t.Errorf("blocks not strictly ascending: 0x%08x after 0x%08x", blocks[i].Addr, blocks[i-1].Addr)
		}
	}
	if img.TotalBytes() != 768 {
		t.Errorf("TotalBytes = %d, want 768", img.TotalBytes())
	}
	start, end, ok := img.AddressRange()
	if !ok || start != 0x10000000 || end != 0x10000300 {
		t.Errorf("AddressRange = 0x%08x..0x%08x (%v)", start, end, ok)
	}
}

func TestParseOrdersOutOfOrderBlocks(t *testing.T) {
	// Block numbering follows file position while target addresses run
	// backwards; the parsed image must still come out sorted.
	file := buildImage([]uint32{0x10000200, 0x10000000, 0x10000100}, 16)
	img, err := Parse(file)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	blocks := img.Blocks()
	if blocks[0].Addr != 0x10000000 || blocks[2].Addr != 0x10000200 {
		t.Errorf("blocks out of order: %#x, %#x, %#x", blocks[0].Addr, blocks[1].Addr, blocks[2].Addr)
	}
}

func TestParseRejectsMalformedFiles(t *testing.T) {
	good := buildImage([]uint32{0x10000000, 0x10000100}, 64)

	corrupt := func(mutate func([]byte)) []byte {
		file := append([]byte(nil), good...)
		mutate(file)
		return file
	}

	tests := []struct {
		name string
		file []byte
	}{
		{"truncated", good[:BlockSize+100]},
		{"empty", nil},
		{
			"bad start magic",
			corrupt(func(f []byte) { f[0] ^= 0xff }),
		},
		{
			"bad end magic in second block",
			corrupt(func(f []byte) { f[BlockSize+508] ^= 0xff }),
		},
		{
			"wrong family id",
			corrupt(func(f []byte) { binary.LittleEndian.PutUint32(f[28:], 0x12345678) }),
		},
		{
			"block number out of sequence",
			corrupt(func(f []byte) { binary.LittleEndian.PutUint32(f[BlockSize+20:], 5) }),
		},
		{
			"total count disagrees",
			corrupt(func(f []byte) { binary.LittleEndian.PutUint32(f[BlockSize+24:], 9) }),
		},
		{
			"oversize payload",
			corrupt(func(f []byte) { binary.LittleEndian.PutUint32(f[16:], MaxBlockPayload+1) }),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.file)
			if err == nil {
				t.Fatal("Parse accepted a malformed file")
			}
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Errorf("error type = %T, want *FormatError", err)
			}
		})
	}
}

func TestParseAllowsMissingFamilyID(t *testing.T) {
	file := buildImage([]uint32{0x10000000}, 32)
	// Clear the family-present flag and write junk where the family id
	// would be; without the flag the field is a file size and ignored.
	binary.LittleEndian.PutUint32(file[8:], 0)
	binary.LittleEndian.PutUint32(file[28:], 0xdeadbeef)
	if _, err := Parse(file); err != nil {
		t.Fatalf("Parse: %v", err)
	}
}

func TestParseBin(t *testing.T) {
	data := bytes.Repeat([]byte{0xab}, 600)
	img, err := ParseBin(data)
	if err != nil {
		t.Fatalf("ParseBin: %v", err)
	}
	blocks := img.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("Blocks = %d, want 3", len(blocks))
	}
	if blocks[0].Addr != FlashBase {
		t.Errorf("first block at 0x%08x, want 0x%08x", blocks[0].Addr, uint32(FlashBase))
	}
	if len(blocks[2].Data) != 600-512 {
		t.Errorf("tail block carries %d bytes, want %d", len(blocks[2].Data), 600-512)
	}
	if img.TotalBytes() != 600 {
		t.Errorf("TotalBytes = %d, want 600", img.TotalBytes())
	}
}

func TestSectorsToErase(t *testing.T) {
	const sector = 4096

	tests := []struct {
		name  string
		addrs []uint32
		size  int
		want  []Region
	}{
		{
			// Payload spanning 0x1000 through 0x2cff touches exactly
			// the sectors at 0x1000 and 0x2000, merged into one
			// region with no neighbours pulled in.
			name:  "merge adjacent sectors",
			addrs: []uint32{0x1000, 0x1c00, 0x2c00},
			size:  256,
			want:  []Region{{Start: 0x1000, Size: 0x2000}},
		},
		{
			name:  "disjoint regions stay split",
			addrs: []uint32{0x0000, 0x10000},
			size:  256,
			want:  []Region{{Start: 0x0000, Size: sector}, {Start: 0x10000, Size: sector}},
		},
		{
			name:  "block spanning a sector boundary",
			addrs: []uint32{sector - 128},
			size:  256,
			want:  []Region{{Start: 0, Size: 2 * sector}},
		},
		{
			name:  "duplicate sectors collapse",
			addrs: []uint32{0x2000, 0x2100, 0x2200},
			size:  128,
			want:  []Region{{Start: 0x2000, Size: sector}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := buildImage(tt.addrs, tt.size)
			img, err := Parse(file)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			got := img.SectorsToErase(sector)
			if len(got) != len(tt.want) {
				t.Fatalf("SectorsToErase = %+v, want %+v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("region %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
			for i := 1; i < len(got); i++ {
				if got[i-1].End() >= got[i].Start {
					t.Errorf("regions overlap or touch: %+v then %+v", got[i-1], got[i])
				}
			}
		})
	}
}
