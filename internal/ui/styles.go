// Package ui provides terminal styling for mediator CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Ayu theme color palette
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

var (
	PassStyle     = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle     = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle     = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle    = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle   = lipgloss.NewStyle().Foreground(ColorAccent)
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconWait = "…"
)

// TreeLast marks a detail line under an entry.
const TreeLast = "└─ "

// Renderer applies styles only when color output is enabled.
type Renderer struct {
	color bool
}

// NewRenderer returns a Renderer; color decides whether styles apply.
func NewRenderer(color bool) Renderer {
	return Renderer{color: color}
}

func (r Renderer) render(style lipgloss.Style, s string) string {
	if !r.color {
		return s
	}
	return style.Render(s)
}

func (r Renderer) Pass(s string) string   { return r.render(PassStyle, s) }
func (r Renderer) Warn(s string) string   { return r.render(WarnStyle, s) }
func (r Renderer) Fail(s string) string   { return r.render(FailStyle, s) }
func (r Renderer) Muted(s string) string  { return r.render(MutedStyle, s) }
func (r Renderer) Accent(s string) string { return r.render(AccentStyle, s) }

// Category renders a section header in uppercase.
func (r Renderer) Category(s string) string {
	return r.render(CategoryStyle, strings.ToUpper(s))
}
