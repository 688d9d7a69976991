package cli

import "github.com/charmbracelet/lipgloss"

// Styling, grounded on the teacher's commands/shared/styles.go — same
// palette and render-helper shape, reused verbatim since doctor's
// text-mode output needs exactly these status indicators.
var (
	statusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	statusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	statusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	muted       = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	header      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

const (
	symbolOK    = "✓"
	symbolError = "✗"
)

func renderStatus(ok bool) string {
	if ok {
		return statusOK.Render(symbolOK)
	}
	return statusError.Render(symbolError)
}

func renderHeader(text string) string {
	return header.Render(text)
}

func renderLabel(text string) string {
	return muted.Render(text)
}
