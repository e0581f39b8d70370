package commands

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/wickerwaka/PicoROM/internal/util"
)

const commsPollInterval = 50 * time.Millisecond

// Comms bridges the terminal to the byte tunnel a ROM image maps at
// addr. Lines typed on stdin go to the device; incoming bytes print as
// text when they are printable, otherwise as a hex dump.
func (s *Session) Comms(name string, addr uint32) error {
	link, _, err := s.open(name)
	if err != nil {
		return err
	}
	defer link.Close()

	if err := link.StartComms(addr); err != nil {
		return err
	}
	defer link.EndComms()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	lineCh := make(chan []byte)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			lineCh <- append(line, '\n')
		}
		close(lineCh)
	}()

	fmt.Printf("Comms open at 0x%08x. Ctrl-C to exit.\n", addr)
	ticker := time.NewTicker(commsPollInterval)
	defer ticker.Stop()

	var lines <-chan []byte = lineCh
	var pending []byte
	for {
		select {
		case <-interrupt:
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			pending = append(pending, line...)
		case <-ticker.C:
			incoming, err := link.PollComms(pending)
			pending = nil
			if err != nil {
				return err
			}
			if len(incoming) == 0 {
				continue
			}
			if util.IsTextData(incoming) {
				fmt.Print(string(incoming))
			} else {
				util.PrintHexDump(incoming)
			}
		}
	}
}
