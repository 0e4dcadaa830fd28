package render

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var thinkStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("245")).
	Italic(true)

// Renderer renders assistant answers as markdown.
type Renderer struct {
	term  *glamour.TermRenderer
	plain bool
}

// NewRenderer creates a renderer wrapping at width. Plain renderers skip
// styling, for pipes and files.
func NewRenderer(width int, plain bool) (*Renderer, error) {
	if plain {
		return &Renderer{plain: true}, nil
	}
	if width <= 0 {
		width = 100
	}
	term, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	return &Renderer{term: term}, nil
}

// Markdown renders md, falling back to the raw text on error.
func (r *Renderer) Markdown(md string) string {
	if r == nil || r.plain || r.term == nil {
		return md
	}
	out, err := r.term.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}

// Answer renders a model answer with its reasoning dimmed above it.
func (r *Renderer) Answer(content string) string {
	think, response, found := SplitThink(content)
	if !found || think == "" {
		return r.Markdown(response)
	}
	if r == nil || r.plain {
		return "(thinking) " + think + "\n\n" + response
	}
	return thinkStyle.Render(think) + "\n\n" + r.Markdown(response)
}
