package tui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	pickTitleStyle    = lipgloss.NewStyle().Bold(true)
	pickSelectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
)

// ErrPickCancelled is returned when the user backs out of a selection.
var ErrPickCancelled = errors.New("selection cancelled")

type pickModel struct {
	title  string
	items  []string
	cursor int
	choice int
}

func (m pickModel) Init() tea.Cmd { return nil }

func (m pickModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}
		case "enter":
			m.choice = m.cursor
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m pickModel) View() string {
	var sb strings.Builder
	sb.WriteString(pickTitleStyle.Render(m.title))
	sb.WriteString("\n")
	for i, item := range m.items {
		if i == m.cursor {
			fmt.Fprintf(&sb, "%s\n", pickSelectedStyle.Render("> "+item))
		} else {
			fmt.Fprintf(&sb, "  %s\n", item)
		}
	}
	sb.WriteString(labelStyle.Render("up/down to move, enter to select, q to cancel"))
	sb.WriteString("\n")
	return sb.String()
}

// Pick asks the user to choose one of items. A single item is chosen
// without prompting.
func Pick(title string, items []string) (int, error) {
	if len(items) == 0 {
		return -1, errors.New("nothing to pick from")
	}
	if len(items) == 1 {
		return 0, nil
	}
	final, err := tea.NewProgram(pickModel{title: title, items: items, choice: -1}).Run()
	if err != nil {
		return -1, err
	}
	m := final.(pickModel)
	if m.choice < 0 {
		return -1, ErrPickCancelled
	}
	return m.choice, nil
}
