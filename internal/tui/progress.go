// Package tui renders the tool's interactive output: inline progress
// bars, a wait spinner, and a device picker. Everything else prints
// plain text; rendering stays isolated here.
package tui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

var labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

// Bar is a single-line progress bar redrawn in place.
type Bar struct {
	model progress.Model
	label string
	out   io.Writer
}

// NewBar creates a bar with a fixed label in front of it.
func NewBar(label string) *Bar {
	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
	)
	return &Bar{model: p, label: label, out: os.Stdout}
}

// Set redraws the bar at done/total.
func (b *Bar) Set(done, total uint64) {
	pct := 1.0
	if total > 0 {
		pct = float64(done) / float64(total)
	}
	fmt.Fprintf(b.out, "\r%s %s", labelStyle.Render(fmt.Sprintf("%-10s", b.label)), b.model.ViewAs(pct))
}

// Finish fills the bar and moves to the next line.
func (b *Bar) Finish() {
	b.Set(1, 1)
	fmt.Fprintln(b.out)
}
