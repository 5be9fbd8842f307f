package cli

import (
	"github.com/charmbracelet/lipgloss"

	"teachhelper-console/internal/domain/labels"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

var tagStyles = map[labels.Tag]lipgloss.Style{
	labels.TagSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	labels.TagPrimary: lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
	labels.TagWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	labels.TagInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	labels.TagDanger:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
}

// tagged renders text in the colour of tag.
func tagged(tag labels.Tag, text string) string {
	style, ok := tagStyles[tag]
	if !ok {
		style = tagStyles[labels.TagInfo]
	}
	return style.Render(text)
}
