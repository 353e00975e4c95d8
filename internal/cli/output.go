package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"fxsim/internal/models"
	"fxsim/pkg/utils"
)

// Terminal styles
const (
	styleReset = "\033[0m"
	styleGain  = "\033[32m"
	styleLoss  = "\033[31m"
	styleWarn  = "\033[33m"
	styleInfo  = "\033[36m"
	styleBold  = "\033[1m"
	styleDim   = "\033[2m"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Output writes command results as styled text or, with --json, as JSON.
type Output struct {
	writer   io.Writer
	jsonMode bool
	color    bool
}

// NewOutput creates an Output for cmd. Styling is enabled only when stdout
// is a terminal and --json is not set.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &Output{
		writer:   cmd.OutOrStdout(),
		jsonMode: jsonMode,
		color:    !jsonMode && isTerminal(),
	}
}

func isTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// To returns an unstyled copy of o writing to w.
func (o *Output) To(w io.Writer) *Output {
	return &Output{writer: w, jsonMode: o.jsonMode}
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON writes data as indented JSON.
func (o *Output) JSON(data interface{}) error {
	enc := json.NewEncoder(o.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Println prints its arguments followed by a newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Styled single-line messages.
func (o *Output) Success(format string, args ...interface{}) { o.line(styleGain, format, args...) }
func (o *Output) Error(format string, args ...interface{}) { o.line(styleLoss, format, args...) }
func (o *Output) Warning(format string, args ...interface{}) { o.line(styleWarn, format, args...) }
func (o *Output) Info(format string, args ...interface{}) { o.line(styleInfo, format, args...) }
func (o *Output) Bold(format string, args ...interface{}) { o.line(styleBold, format, args...) }
func (o *Output) Dim(format string, args ...interface{}) { o.line(styleDim, format, args...) }

func (o *Output) line(style, format string, args ...interface{}) {
	fmt.Fprintln(o.writer, o.paint(style, fmt.Sprintf(format, args...)))
}

func (o *Output) paint(style, text string) string {
	if !o.color || style == "" {
		return text
	}
	return style + text + styleReset
}

// State returns a trade state styled by outcome.
func (o *Output) State(state models.TradeState) string {
	style := styleWarn
	switch state {
	case models.TradeTPHit:
		style = styleGain
	case models.TradeSLHit:
		style = styleLoss
	case models.TradeRunning:
		style = styleInfo
	case models.TradeCanceled:
		style = styleDim
	}
	return o.paint(style, string(state))
}

func signStyle(v float64) string {
	switch {
	case v > 0:
		return styleGain
	case v < 0:
		return styleLoss
	}
	return ""
}

// FormatPnL formats P&L with an explicit sign, styled by sign.
func (o *Output) FormatPnL(pnl float64) string {
	return o.paint(signStyle(pnl), utils.FormatPnL(pnl))
}

// FormatPercent formats a percentage, styled by sign.
func (o *Output) FormatPercent(pct float64) string {
	return o.paint(signStyle(pct), utils.FormatPercent(pct))
}

// visibleWidth is the printed width of s, ignoring escape sequences.
func visibleWidth(s string) int {
	return utf8.RuneCountInString(ansiPattern.ReplaceAllString(s, ""))
}

// Table collects rows and prints them in aligned columns.
type Table struct {
	output  *Output
	headers []string
	rows    [][]string
	right   map[int]bool
}

// NewTable creates a table with the given column headers.
func NewTable(output *Output, headers ...string) *Table {
	return &Table{output: output, headers: headers, right: make(map[int]bool)}
}

// AlignRight right-aligns the given columns, for prices and amounts.
func (t *Table) AlignRight(columns ...int) *Table {
	for _, c := range columns {
		t.right[c] = true
	}
	return t
}

// AddRow adds a row. Cells beyond the header count are dropped.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render prints the header, a rule and every row.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visibleWidth(h)
	}
	for _, row := range t.rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := visibleWidth(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	t.output.Println(t.output.paint(styleBold, t.format(t.headers, widths)))
	rules := make([]string, len(widths))
	for i, w := range widths {
		rules[i] = strings.Repeat("─", w)
	}
	t.output.Println(t.output.paint(styleDim, strings.Join(rules, "  ")))
	for _, row := range t.rows {
		t.output.Println(t.format(row, widths))
	}
}

func (t *Table) format(cells []string, widths []int) string {
	parts := make([]string, 0, len(widths))
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		pad := strings.Repeat(" ", w-visibleWidth(cell))
		if t.right[i] {
			parts = append(parts, pad+cell)
		} else {
			parts = append(parts, cell+pad)
		}
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}

// Box prints content inside a titled frame.
func (o *Output) Box(title string, content []string) {
	inner := visibleWidth(title)
	for _, line := range content {
		if w := visibleWidth(line); w > inner {
			inner = w
		}
	}

	h, v, tl, tr, ml, mr, bl, br := "─", "│", "┌", "┐", "├", "┤", "└", "┘"
	if !o.color {
		h, v, tl, tr, ml, mr, bl, br = "-", "|", "+", "+", "+", "+", "+", "+"
	}
	rule := strings.Repeat(h, inner+2)
	row := func(text string) string {
		return fmt.Sprintf("%s %s%s %s", o.paint(styleDim, v), text, strings.Repeat(" ", inner-visibleWidth(text)), o.paint(styleDim, v))
	}

	o.Println(o.paint(styleDim, tl+rule+tr))
	o.Println(row(o.paint(styleBold, title)))
	o.Println(o.paint(styleDim, ml+rule+mr))
	for _, line := range content {
		o.Println(row(line))
	}
	o.Println(o.paint(styleDim, bl+rule+br))
}

// Progress redraws a one-line progress bar; the final call ends the line.
func (o *Output) Progress(current, total int, message string) {
	if total <= 0 {
		return
	}
	const width = 30
	filled := width * current / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	o.Printf("\r%s [%s] %3d%% ", message, bar, 100*current/total)
	if current >= total {
		o.Println()
	}
}
