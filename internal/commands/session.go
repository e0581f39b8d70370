// Package commands implements the device-facing verbs the CLI exposes.
package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wickerwaka/PicoROM/internal/device"
	"github.com/wickerwaka/PicoROM/internal/picolink"
	"github.com/wickerwaka/PicoROM/internal/tui"
)

// Session carries what every command needs: the device registry and
// an optional serial-port override that bypasses USB discovery.
type Session struct {
	Reg  *device.Registry
	Port string
}

// open connects to the named device, or to the serial port when one
// was forced on the command line.
func (s *Session) open(name string) (*picolink.Link, device.Identity, error) {
	if s.Port != "" {
		link, err := s.Reg.OpenSerialPort(s.Port)
		if err != nil {
			return nil, device.Identity{}, err
		}
		return link, device.Identity{Name: name, Mode: device.ModeApplication}, nil
	}
	return s.Reg.OpenName(name)
}

// confirm prompts for a y/N answer.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(answer), "y")
}

// withSpinner animates a spinner while fn runs.
func withSpinner(label, doneMsg string, fn func() error) error {
	sp := tui.NewSpinner(label)
	done := make(chan error, 1)
	go func() { done <- fn() }()
	for {
		select {
		case err := <-done:
			if err != nil {
				sp.Done(label + " failed")
				return err
			}
			sp.Done(doneMsg)
			return nil
		case <-time.After(100 * time.Millisecond):
			sp.Tick()
		}
	}
}
