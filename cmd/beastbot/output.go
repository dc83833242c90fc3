package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// Theme is the colour set for CLI output.
type Theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

// DefaultTheme returns the default colours.
func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("12"),  // Blue
		Success: lipgloss.Color("10"),  // Green
		Warning: lipgloss.Color("11"),  // Yellow
		Error:   lipgloss.Color("9"),   // Red
		Muted:   lipgloss.Color("240"), // Gray
	}
}

// printer renders tables and status words for one output stream. Colour and
// borders are only used when the stream is a terminal.
type printer struct {
	w        io.Writer
	r        *lipgloss.Renderer
	tty      bool
	theme    Theme
	header   lipgloss.Style
	cell     lipgloss.Style
	ok       lipgloss.Style
	warn     lipgloss.Style
	bad      lipgloss.Style
	muted    lipgloss.Style
	headline lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	r := lipgloss.NewRenderer(w)
	th := DefaultTheme()
	p := &printer{w: w, r: r, tty: tty, theme: th}
	p.cell = r.NewStyle().PaddingRight(2)
	p.header = p.cell.Bold(true)
	p.headline = r.NewStyle().Bold(true)
	p.ok = r.NewStyle()
	p.warn = r.NewStyle()
	p.bad = r.NewStyle()
	p.muted = r.NewStyle()
	if tty {
		p.header = p.header.Foreground(th.Primary)
		p.headline = p.headline.Foreground(th.Primary)
		p.ok = p.ok.Foreground(th.Success)
		p.warn = p.warn.Foreground(th.Warning)
		p.bad = p.bad.Foreground(th.Error)
		p.muted = p.muted.Foreground(th.Muted)
	}
	return p
}

// table writes rows under headers.
func (p *printer) table(headers []string, rows [][]string) {
	t := table.New().
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.header
			}
			return p.cell
		})
	if p.tty {
		t = t.Border(lipgloss.RoundedBorder()).BorderStyle(p.muted)
	} else {
		t = t.Border(lipgloss.HiddenBorder()).
			BorderTop(false).BorderBottom(false).
			BorderLeft(false).BorderRight(false).
			BorderColumn(false).BorderHeader(false)
	}
	fmt.Fprintln(p.w, t.Render())
}

func (p *printer) title(format string, args ...any) {
	fmt.Fprintln(p.w, p.headline.Render(fmt.Sprintf(format, args...)))
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// yesNo renders a boolean with the success/muted colours.
func (p *printer) yesNo(b bool) string {
	if b {
		return p.ok.Render("yes")
	}
	return p.muted.Render("no")
}

// fmtTime renders a timestamp in local time, or "-" for zero.
func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// fmtWhen renders t relative to now ("in 12m", "3h ago").
func fmtWhen(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := t.Sub(now)
	switch {
	case d > time.Minute:
		return "in " + d.Round(time.Minute).String()
	case d < -time.Minute:
		return (-d).Round(time.Minute).String() + " ago"
	default:
		return "now"
	}
}

// mustJSON marshals v for event payloads; values here are plain structs
// and maps, so failure means a programming error.
func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"marshal_error":%q}`, err.Error())
	}
	return string(data)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
