package cli

import (
	"fmt"
	"strconv"

	"github.com/google/gousb"

	"github.com/wickerwaka/PicoROM/internal/commands"
	"github.com/wickerwaka/PicoROM/internal/config"
	"github.com/wickerwaka/PicoROM/internal/device"
	"github.com/wickerwaka/PicoROM/internal/romsize"
)

// CLI is the root command structure for picorom.
type CLI struct {
	Verbose bool   `short:"v" help:"Enable verbose debug output"`
	Port    string `placeholder:"PATH" help:"Talk to a legacy device on a serial port instead of USB discovery"`

	List     ListCmd     `cmd:"" help:"List connected PicoROM devices"`
	Identify IdentifyCmd `cmd:"" help:"Flash the activity LED on a device"`
	Commit   CommitCmd   `cmd:"" help:"Commit the current ROM image to flash memory"`
	Rename   RenameCmd   `cmd:"" help:"Change the name of a device"`
	NameSwap NameSwapCmd `cmd:"" name:"name-swap" help:"Swap the names of two devices"`
	Upload   UploadCmd   `cmd:"" help:"Upload a ROM image to a device"`
	Download DownloadCmd `cmd:"" help:"Download the current ROM image to a file"`
	Reset    ResetCmd    `cmd:"" help:"Set the level of the reset pin"`
	Get      GetCmd      `cmd:"" help:"Get the value of a parameter"`
	Set      SetCmd      `cmd:"" help:"Set a parameter to a new value"`
	Comms    CommsCmd    `cmd:"" help:"Open the byte tunnel a ROM image maps into the address space"`
	Firmware FirmwareCmd `cmd:"" help:"Replace the firmware on a device via the bootloader"`
	Ota      OtaCmd      `cmd:"" help:"Update firmware in place, without a bootloader round trip"`
}

// session builds the per-command device session. The returned cleanup
// releases the USB context.
func (g *CLI) session() (*commands.Session, func()) {
	config.Verbose = g.Verbose

	ctx := gousb.NewContext()
	var cache device.Cache
	if path, err := device.DefaultCachePath(); err == nil {
		if fc, err := device.OpenFileCache(path); err == nil {
			cache = fc
		} else {
			config.Debugf("device cache unavailable: %v", err)
		}
	}
	s := &commands.Session{
		Reg:  device.NewRegistry(ctx, cache),
		Port: g.Port,
	}
	return s, func() { ctx.Close() }
}

type ListCmd struct{}

func (c *ListCmd) Run(globals *CLI) error {
	s, done := globals.session()
	defer done()
	return s.List()
}

type IdentifyCmd struct {
	Name string `arg:"" help:"Device name"`
}

func (c *IdentifyCmd) Run(globals *CLI) error {
	s, done := globals.session()
	defer done()
	return s.Identify(c.Name)
}

type CommitCmd struct {
	Name string `arg:"" help:"Device name"`
}

func (c *CommitCmd) Run(globals *CLI) error {
	s, done := globals.session()
	defer done()
	return s.Commit(c.Name)
}

type RenameCmd struct {
	Current string `arg:"" help:"Current name"`
	New     string `arg:"" help:"New name"`
}

func (c *RenameCmd) Run(globals *CLI) error {
	s, done := globals.session()
	defer done()
	return s.Rename(c.Current, c.New)
}

type NameSwapCmd struct {
	First  string `arg:"" help:"First device name"`
	Second string `arg:"" help:"Second device name"`
}

func (c *NameSwapCmd) Run(globals *CLI) error {
	s, done := globals.session()
	defer done()
	return s.NameSwap(c.First, c.Second)
}

type UploadCmd struct {
	Name   string       `arg:"" help:"Device name"`
	Source string       `arg:"" type:"existingfile" help:"Path of file to upload"`
	Size   romsize.Size `arg:"" optional:"" help:"Emulated ROM size (e.g. 2MBit, 512KBit); defaults to the device's current rom_size"`
	Store  bool         `short:"s" help:"Also store the uploaded image in flash memory"`
}

func (c *UploadCmd) Run(globals *CLI) error {
	s, done := globals.session()
	defer done()
	return s.Upload(c.Name, c.Source, c.Size, c.Store)
}

type DownloadCmd struct {
	Name string `arg:"" help:"Device name"`
	Dest string `arg:"" help:"Destination file path"`
}

func (c *DownloadCmd) Run(globals *CLI) error {
	s, done := globals.session()
	defer done()
	return s.Download(c.Name, c.Dest)
}

type ResetCmd struct {
	Name  string `arg:"" help:"Device name"`
	Level string `arg:"" enum:"high,low,z" help:"Reset level (high, low or z)"`
}

func (c *ResetCmd) Run(globals *CLI) error {
	s, done := globals.session()
	defer done()
	return s.Reset(c.Name, c.Level)
}

type GetCmd struct {
	Name  string `arg:"" help:"Device name"`
	Param string `arg:"" optional:"" help:"Parameter name; omit to list all"`
}

func (c *GetCmd) Run(globals *CLI) error {
	s, done := globals.session()
	defer done()
	return s.GetParam(c.Name, c.Param)
}

type SetCmd struct {
	Name  string `arg:"" help:"Device name"`
	Param string `arg:"" help:"Parameter name"`
	Value string `arg:"" help:"Parameter value"`
}

func (c *SetCmd) Run(globals *CLI) error {
	s, done := globals.session()
	defer done()
	return s.SetParam(c.Name, c.Param, c.Value)
}

type CommsCmd struct {
	Name string `arg:"" help:"Device name"`
	Addr string `arg:"" help:"Tunnel address within the ROM window (e.g. 0x1f00)"`
}

func (c *CommsCmd) Run(globals *CLI) error {
	addr, err := strconv.ParseUint(c.Addr, 0, 32)
	if err != nil {
		return fmt.Errorf("invalid tunnel address %q: %w", c.Addr, err)
	}
	s, done := globals.session()
	defer done()
	return s.Comms(c.Name, uint32(addr))
}

type FirmwareCmd struct {
	Name     string `arg:"" optional:"" help:"Device name (optional if only one device is connected)"`
	File     string `short:"f" name:"file" required:"" type:"existingfile" help:"Firmware file (.uf2 or .bin)"`
	Yes      bool   `short:"y" help:"Skip confirmation prompt"`
	Verify   bool   `help:"Read flash back after writing and compare"`
	NoReboot bool   `help:"Don't reboot after flashing"`
}

func (c *FirmwareCmd) Run(globals *CLI) error {
	s, done := globals.session()
	defer done()
	return s.Firmware(c.Name, c.File, c.Yes, c.Verify, c.NoReboot)
}

type OtaCmd struct {
	Name string `arg:"" help:"Device name"`
	File string `arg:"" type:"existingfile" help:"Firmware file (.uf2 or .bin)"`
}

func (c *OtaCmd) Run(globals *CLI) error {
	s, done := globals.session()
	defer done()
	return s.OTA(c.Name, c.File)
}
