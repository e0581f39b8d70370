// Package picoboot speaks the RP2040 mask-ROM bootloader protocol:
// 32-byte commands on a bulk OUT endpoint, data phases on the matching
// bulk pipe, and a vendor control request for command status.
package picoboot

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// SectorSize is the flash erase granularity.
	SectorSize = 4096
	// PageSize is the flash write granularity.
	PageSize = 256

	commandMagic = 0x431FD10B
	commandSize  = 32
	maxArgs      = 16

	cmdExclusiveAccess = 0x01
	cmdReboot          = 0x02
	cmdFlashErase      = 0x03
	cmdFlashRead       = 0x84
	cmdFlashWrite      = 0x05
	cmdExitXIP         = 0x06

	// Flash settles briefly after the write command before it will
	// accept the data phase.
	writeSettleDelay = time.Millisecond

	statusPollInterval = 10 * time.Millisecond
	statusTimeout      = time.Second
	eraseTimeout       = 30 * time.Second
)

// Wire is the raw USB surface the protocol runs over. Hardware uses
// gousb; tests substitute a scripted fake.
type Wire interface {
	SendBulk(data []byte) error
	RecvBulk(buf []byte) (int, error)
	Status(buf []byte) (int, error)
	Close() error
}

// AlignmentError reports a flash address or length that violates the
// operation's granularity. Raised before anything is sent.
type AlignmentError struct {
	Op    string
	Value uint32
	Align uint32
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("%s: 0x%08x is not %d-byte aligned", e.Op, e.Value, e.Align)
}

// StatusError reports a command the bootloader completed with a
// non-zero status word.
type StatusError struct {
	Op   string
	Code uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: bootloader status 0x%08x", e.Op, e.Code)
}

// Conn is a command session with one bootloader-mode device. Every
// command carries a token that increases monotonically for the life of
// the session.
type Conn struct {
	w     Wire
	token uint32
}

// NewConn wraps an open wire.
func NewConn(w Wire) *Conn {
	return &Conn{w: w}
}

func (c *Conn) Close() error {
	return c.w.Close()
}

// buildCommand lays out one 32-byte command record:
//
//	magic(4) token(4) id(1) argsLen(1) reserved(2) transferLen(4) args(16)
func buildCommand(token uint32, id byte, args []byte, transferLen uint32) []byte {
	cmd := make([]byte, commandSize)
	binary.LittleEndian.PutUint32(cmd, commandMagic)
	binary.LittleEndian.PutUint32(cmd[4:], token)
	cmd[8] = id
	cmd[9] = byte(len(args))
	binary.LittleEndian.PutUint32(cmd[12:], transferLen)
	copy(cmd[16:], args)
	return cmd
}

func (c *Conn) sendCommand(id byte, args []byte, transferLen uint32) error {
	if len(args) > maxArgs {
		return fmt.Errorf("command 0x%02x has %d args bytes, limit is %d", id, len(args), maxArgs)
	}
	c.token++
	return c.w.SendBulk(buildCommand(c.token, id, args, transferLen))
}

// ack completes a command's handshake. Commands without an IN data
// phase finish with an empty IN transfer; commands with one finish
// with an empty OUT transfer.
func (c *Conn) ackIn() error {
	buf := make([]byte, 64)
	_, err := c.w.RecvBulk(buf)
	return err
}

func (c *Conn) ackOut() error {
	return c.w.SendBulk(nil)
}

// status reads the 16-byte command status record.
func (c *Conn) status() (code uint32, busy bool, err error) {
	buf := make([]byte, 16)
	n, err := c.w.Status(buf)
	if err != nil {
		return 0, false, fmt.Errorf("get command status: %w", err)
	}
	if n < 10 {
		return 0, false, fmt.Errorf("get command status: %d-byte reply", n)
	}
	return binary.LittleEndian.Uint32(buf[4:]), buf[9] != 0, nil
}

// awaitIdle polls status until the device finishes the current
// command. In-progress reports are expected, not failures.
func (c *Conn) awaitIdle(op string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		code, busy, err := c.status()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !busy {
			if code != 0 {
				return &StatusError{Op: op, Code: code}
			}
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%s: device still busy after %v", op, timeout)
		}
		time.Sleep(statusPollInterval)
	}
}

// ExclusiveAccess claims the device, shutting out the mass-storage
// interface for the duration of the session.
func (c *Conn) ExclusiveAccess() error {
	if err := c.sendCommand(cmdExclusiveAccess, []byte{1}, 0); err != nil {
		return err
	}
	if err := c.ackIn(); err != nil {
		return err
	}
	return c.awaitIdle("exclusive access", statusTimeout)
}

// ExitXIP drops the flash out of execute-in-place mode so it will
// accept erase and program commands.
func (c *Conn) ExitXIP() error {
	if err := c.sendCommand(cmdExitXIP, nil, 0); err != nil {
		return err
	}
	if err := c.ackIn(); err != nil {
		return err
	}
	return c.awaitIdle("exit xip", statusTimeout)
}

// FlashErase erases size bytes at addr. Both must be sector-aligned.
func (c *Conn) FlashErase(addr, size uint32) error {
	if addr%SectorSize != 0 {
		return &AlignmentError{Op: "flash erase", Value: addr, Align: SectorSize}
	}
	if size%SectorSize != 0 {
		return &AlignmentError{Op: "flash erase", Value: size, Align: SectorSize}
	}
	args := make([]byte, 8)
	binary.LittleEndian.PutUint32(args, addr)
	binary.LittleEndian.PutUint32(args[4:], size)
	if err := c.sendCommand(cmdFlashErase, args, 0); err != nil {
		return err
	}
	if err := c.ackIn(); err != nil {
		return err
	}
	return c.awaitIdle("flash erase", eraseTimeout)
}

// FlashWrite programs data at addr, which must be page-aligned.
func (c *Conn) FlashWrite(addr uint32, data []byte) error {
	if addr%PageSize != 0 {
		return &AlignmentError{Op: "flash write", Value: addr, Align: PageSize}
	}
	if len(data) == 0 {
		return nil
	}
	args := make([]byte, 8)
	binary.LittleEndian.PutUint32(args, addr)
	binary.LittleEndian.PutUint32(args[4:], uint32(len(data)))
	if err := c.sendCommand(cmdFlashWrite, args, uint32(len(data))); err != nil {
		return err
	}
	time.Sleep(writeSettleDelay)
	if err := c.w.SendBulk(data); err != nil {
		return err
	}
	if err := c.ackIn(); err != nil {
		return err
	}
	return c.awaitIdle("flash write", statusTimeout)
}

// FlashRead reads len(buf) bytes from addr.
func (c *Conn) FlashRead(addr uint32, buf []byte) error {
	args := make([]byte, 8)
	binary.LittleEndian.PutUint32(args, addr)
	binary.LittleEndian.PutUint32(args[4:], uint32(len(buf)))
	if err := c.sendCommand(cmdFlashRead, args, uint32(len(buf))); err != nil {
		return err
	}
	n, err := c.w.RecvBulk(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("flash read: got %d of %d bytes", n, len(buf))
	}
	if err := c.ackOut(); err != nil {
		return err
	}
	return c.awaitIdle("flash read", statusTimeout)
}

// Reboot restarts the device after delayMs. With zero pc and sp the
// device boots normally from flash. The device drops off the bus, so
// there is no status to read.
func (c *Conn) Reboot(delayMs uint32) error {
	args := make([]byte, 12)
	binary.LittleEndian.PutUint32(args[8:], delayMs)
	if err := c.sendCommand(cmdReboot, args, 0); err != nil {
		return err
	}
	return c.ackIn()
}
