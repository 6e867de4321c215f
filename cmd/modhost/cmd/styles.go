package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Semantic color palette.
var (
	colorSuccess = lipgloss.Color("#00E676")
	colorWarning = lipgloss.Color("#FFB300")
	colorDanger  = lipgloss.Color("#FF5252")
	colorMuted   = lipgloss.Color("#8C8C8C")
	colorPrimary = lipgloss.Color("#00BFFF")
)

const (
	iconDone   = "✓"
	iconFailed = "✗"
	iconWarn   = "!"
)

var (
	styleSuccess = lipgloss.NewStyle().Foreground(colorSuccess)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarning)
	styleError   = lipgloss.NewStyle().Foreground(colorDanger).Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
	styleHeader  = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
)

// stateStyles colors module states in listings.
var stateStyles = map[string]lipgloss.Style{
	"enabled":     styleSuccess,
	"installed":   styleWarning,
	"uninstalled": styleMuted,
}

func printSuccess(w io.Writer, msg string) {
	fmt.Fprintln(w, styleSuccess.Render(iconDone+" "+msg))
}

func printWarning(w io.Writer, msg string) {
	fmt.Fprintln(w, styleWarning.Render(iconWarn+" "+msg))
}

func printError(w io.Writer, msg string) {
	fmt.Fprintln(w, styleError.Render(iconFailed+" "+msg))
}

// column pads s to width cells.
func column(s string, width int) string {
	return lipgloss.NewStyle().Width(width).Render(s)
}
