// Package console renders the user-facing lines of a publish run.
// Diagnostics go through slog; this is what the operator reads.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/artpar/fnpublish/internal/core/deployment"
)

// TimeFormat is the timestamp prefix of every line.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Printer writes timestamped, styled lines.
type Printer struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	now     func() time.Time

	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

// New creates a printer writing to out, or stdout when out is nil. Colours are
// only emitted when out is a terminal.
func New(out io.Writer, verbose bool) *Printer {
	if out == nil {
		out = os.Stdout
	}
	r := lipgloss.NewRenderer(out)
	return &Printer{
		out:     out,
		verbose: verbose,
		now:     time.Now,
		success: r.NewStyle().Foreground(lipgloss.Color("2")),
		warning: r.NewStyle().Foreground(lipgloss.Color("3")),
		failure: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// Info prints a plain line.
func (p *Printer) Info(format string, args ...any) {
	p.line(lipgloss.Style{}, false, format, args...)
}

// Success prints a green line.
func (p *Printer) Success(format string, args ...any) {
	p.line(p.success, true, format, args...)
}

// Warning prints a yellow line.
func (p *Printer) Warning(format string, args ...any) {
	p.line(p.warning, true, format, args...)
}

// Error prints a red line.
func (p *Printer) Error(format string, args ...any) {
	p.line(p.failure, true, format, args...)
}

// Verbose prints a grey line, only in verbose mode.
func (p *Printer) Verbose(format string, args ...any) {
	if !p.verbose {
		return
	}
	p.line(p.muted, true, format, args...)
}

// DeploymentLog prints one remote deployment log line.
func (p *Printer) DeploymentLog(e deployment.LogEntry) {
	p.Info("%s", e.Message)
}

func (p *Printer) line(style lipgloss.Style, styled bool, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if styled {
		msg = style.Render(msg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "[%s] %s\n", p.now().UTC().Format(TimeFormat), msg)
}
