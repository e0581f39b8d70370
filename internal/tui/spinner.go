package tui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// Spinner is an inline wait indicator for operations with no
// measurable progress, such as waiting for a device to re-enumerate.
type Spinner struct {
	model spinner.Model
	label string
	out   io.Writer
}

// NewSpinner creates a spinner with a trailing label.
func NewSpinner(label string) *Spinner {
	m := spinner.New(spinner.WithSpinner(spinner.Dot))
	m.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &Spinner{model: m, label: label, out: os.Stdout}
}

// Tick redraws the spinner and advances its animation frame. Callers
// drive it from whatever polling loop they are already running.
func (s *Spinner) Tick() {
	fmt.Fprintf(s.out, "\r%s %s", s.model.View(), labelStyle.Render(s.label))
	s.model, _ = s.model.Update(spinner.TickMsg{Time: time.Now(), ID: s.model.ID()})
}

// Done replaces the spinner line with a final message.
func (s *Spinner) Done(msg string) {
	fmt.Fprintf(s.out, "\r%-60s\n", msg)
}
