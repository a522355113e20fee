package report

import "github.com/charmbracelet/lipgloss"

var (
	green  = lipgloss.Color("#10B981")
	red    = lipgloss.Color("#EF4444")
	yellow = lipgloss.Color("#F59E0B")
	purple = lipgloss.Color("#7C3AED")
	dim    = lipgloss.Color("#6B7280")
)

// styles are bound to the renderer of one writer so that color is only
// emitted when that writer is a terminal
type styles struct {
	title   lipgloss.Style
	step    lipgloss.Style
	pass    lipgloss.Style
	fail    lipgloss.Style
	warn    lipgloss.Style
	dimText lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(purple),
		step:    r.NewStyle().Bold(true),
		pass:    r.NewStyle().Foreground(green),
		fail:    r.NewStyle().Foreground(red).Bold(true),
		warn:    r.NewStyle().Foreground(yellow),
		dimText: r.NewStyle().Foreground(dim),
	}
}
