// Package ui renders command output for the terminal.
//
// Colors follow the terminal's capabilities: NO_COLOR, CLICOLOR and a
// non-terminal writer all degrade to plain text.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/docstage/docstage/internal/document"
)

// Printer writes styled output to one writer.
type Printer struct {
	w        io.Writer
	renderer *lipgloss.Renderer

	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	border  lipgloss.Style
}

// NewPrinter styles output for w.
func NewPrinter(w io.Writer) *Printer {
	profile := termenv.NewOutput(w).EnvColorProfile()
	return newPrinter(w, profile)
}

// PlainPrinter never emits escape sequences.
func PlainPrinter(w io.Writer) *Printer {
	return newPrinter(w, termenv.Ascii)
}

func newPrinter(w io.Writer, profile termenv.Profile) *Printer {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(profile)

	return &Printer{
		w:        w,
		renderer: r,
		title:    r.NewStyle().Bold(true),
		label:    r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}),
		muted:    r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6C6C6C"}),
		success:  r.NewStyle().Foreground(lipgloss.Color("#04B575")),
		warning:  r.NewStyle().Foreground(lipgloss.Color("#E5A50A")),
		failure:  r.NewStyle().Foreground(lipgloss.Color("#E0445A")).Bold(true),
		border:   r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#BDBDBD", Dark: "#4A4A4A"}),
	}
}

// Writer returns the destination writer.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// Title prints a bold heading.
func (p *Printer) Title(format string, args ...any) {
	fmt.Fprintln(p.w, p.title.Render(fmt.Sprintf(format, args...)))
}

// Success prints a confirmation line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.w, p.success.Render("✓ "+fmt.Sprintf(format, args...)))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.w, p.warning.Render("! "+fmt.Sprintf(format, args...)))
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	fmt.Fprintln(p.w, p.failure.Render("✗ "+fmt.Sprintf(format, args...)))
}

// Muted prints de-emphasized text.
func (p *Printer) Muted(format string, args ...any) {
	fmt.Fprintln(p.w, p.muted.Render(fmt.Sprintf(format, args...)))
}

// Status renders a document status in its color.
func (p *Printer) Status(s document.Status) string {
	switch s {
	case document.StatusSynced:
		return p.success.Render(string(s))
	case document.StatusProcessed:
		return p.label.Render(string(s))
	case document.StatusFailed:
		return p.failure.Render(string(s))
	default:
		return p.warning.Render(string(s))
	}
}

// Source renders a document source.
func (p *Printer) Source(s document.Source) string {
	if s == document.SourceFallback {
		return p.warning.Render(s.String())
	}
	return p.muted.Render(s.String())
}

// Pairs prints aligned label/value lines.
func (p *Printer) Pairs(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	for _, kv := range pairs {
		label := kv[0] + ":" + strings.Repeat(" ", width-len(kv[0]))
		fmt.Fprintf(p.w, "  %s %s\n", p.label.Render(label), kv[1])
	}
}
