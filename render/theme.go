package render

import "github.com/charmbracelet/lipgloss"

// Theme is the colour scheme of the terminal board.
type Theme struct {
	Foreground    lipgloss.Color
	ForegroundDim lipgloss.Color
	Border        lipgloss.Color
	Title         lipgloss.Color

	Todo       lipgloss.Color
	InProgress lipgloss.Color
	Done       lipgloss.Color

	Low    lipgloss.Color
	Medium lipgloss.Color
	High   lipgloss.Color
}

var Default = Theme{
	Foreground:    lipgloss.Color("#e2e8f0"),
	ForegroundDim: lipgloss.Color("#64748b"),
	Border:        lipgloss.Color("#334155"),
	Title:         lipgloss.Color("#38bdf8"),

	Todo:       lipgloss.Color("#94a3b8"),
	InProgress: lipgloss.Color("#f59e0b"),
	Done:       lipgloss.Color("#22c55e"),

	Low:    lipgloss.Color("#22c55e"),
	Medium: lipgloss.Color("#eab308"),
	High:   lipgloss.Color("#ef4444"),
}

// MinColumnWidth keeps cards readable on narrow terminals.
const MinColumnWidth = 20
