package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
)

func TestRender_NoColorIsPlain(t *testing.T) {
	Init(true)

	assert.Equal(t, "✓", RenderPass("✓"))
	assert.Equal(t, "⚠", RenderWarn("⚠"))
	assert.Equal(t, "✗", RenderFail("✗"))
	assert.Equal(t, "sync", RenderAccent("sync"))
	assert.Equal(t, "api", RenderMuted("api"))
}

func TestRender_ColorProfileAddsEscapes(t *testing.T) {
	lipgloss.SetColorProfile(termenv.TrueColor)
	t.Cleanup(func() { lipgloss.SetColorProfile(termenv.Ascii) })

	out := RenderFail("failed")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "\x1b[")
}

func TestShouldUseColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("CLICOLOR_FORCE", "1")
	assert.False(t, ShouldUseColor(), "NO_COLOR wins over CLICOLOR_FORCE")
}

func TestKeyValues_AlignsLabels(t *testing.T) {
	Init(true)

	out := KeyValues(2, "Records", "12", "Last run", "ok")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, "  Records:  12", lines[0])
	assert.Equal(t, "  Last run: ok", lines[1])
}
