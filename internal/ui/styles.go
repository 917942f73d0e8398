// Package ui provides terminal styling for command output.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Adaptive colors pick a shade for light or dark terminal backgrounds.
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#8bd58b"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#b26a00", Dark: "#f2c572"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ff7a7a"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#7fb4ff"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#6b6b6b", Dark: "#8a8a8a"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
)

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderBold(s string) string   { return BoldStyle.Render(s) }

// KeyValues renders aligned "label: value" lines, indented by indent spaces.
// pairs alternates label and value.
func KeyValues(indent int, pairs ...string) string {
	width := 0
	for i := 0; i < len(pairs); i += 2 {
		width = max(width, lipgloss.Width(pairs[i]))
	}

	label := MutedStyle.Width(width + 2)
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Fprintf(&b, "%s%s%s\n", strings.Repeat(" ", indent), label.Render(pairs[i]+":"), pairs[i+1])
	}
	return b.String()
}
