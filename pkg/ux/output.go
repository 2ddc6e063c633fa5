// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the care CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Assistant lipgloss.Style
	Subject   lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Assistant: lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	Subject:   lipgloss.NewStyle().Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// =============================================================================
// Printer
// =============================================================================

// Printer writes styled output to one writer.
//
// # Description
//
// When the writer is not a terminal, or NO_COLOR is set, output is plain
// text with "OK:", "WARN:" and "ERROR:" prefixes so it stays greppable.
//
// # Thread Safety
//
// Not safe for concurrent use.
type Printer struct {
	w     io.Writer
	plain bool
}

// NewPrinter creates a Printer on w, detecting whether it can style.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, plain: !styled(w)}
}

// NewPlainPrinter creates a Printer that never styles.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w, plain: true}
}

// Plain reports whether styling is off.
func (p *Printer) Plain() bool { return p.plain }

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer { return p.w }

func styled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Title prints a styled title. Plain output prints the text as is.
func (p *Printer) Title(text string) {
	if p.plain {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Success.Render(string(IconSuccess)), Styles.Success.Render(text))
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Warning.Render(string(IconWarning)), Styles.Warning.Render(text))
}

// Error prints an error message
func (p *Printer) Error(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Error.Render(string(IconError)), Styles.Error.Render(text))
}

// Muted prints muted/secondary text
func (p *Printer) Muted(text string) {
	if p.plain {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintln(p.w, Styles.Muted.Render(text))
}

// Box prints text in a rounded box
func (p *Printer) Box(title, body string) {
	if p.plain {
		fmt.Fprintf(p.w, "== %s ==\n%s\n", title, body)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Render(Styles.Title.Render(title)+"\n"+body))
}

// KeyValue prints aligned "key: value" rows.
func (p *Printer) KeyValue(rows [][2]string) {
	width := 0
	for _, r := range rows {
		if n := lipgloss.Width(r[0]); n > width {
			width = n
		}
	}
	for _, r := range rows {
		pad := strings.Repeat(" ", width-lipgloss.Width(r[0]))
		key := r[0] + ":" + pad
		if !p.plain {
			key = Styles.Muted.Render(key)
		}
		fmt.Fprintf(p.w, "  %s %s\n", key, r[1])
	}
}

// Bullet prints one list item.
func (p *Printer) Bullet(text string) {
	fmt.Fprintf(p.w, "  %s %s\n", IconBullet, text)
}

// =============================================================================
// Transcript
// =============================================================================

// Speaker prints the label that opens a transcript line, without a newline.
func (p *Printer) Speaker(label string, assistant bool) {
	if p.plain {
		fmt.Fprintf(p.w, "%s: ", label)
		return
	}
	style := Styles.Subject
	if assistant {
		style = Styles.Assistant
	}
	fmt.Fprintf(p.w, "%s ", style.Render(label+" ›"))
}

// Fragment prints streamed reply text as it arrives.
func (p *Printer) Fragment(text string) {
	fmt.Fprint(p.w, text)
}

// EndLine terminates a streamed transcript line.
func (p *Printer) EndLine() {
	fmt.Fprintln(p.w)
}
