// Package ui renders session results for the terminal.
package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// palette returns c, disabled when noColor is set
func palette(noColor bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if noColor {
		c.DisableColor()
	}
	return c
}

// Table renders rows under a header line. A cell may carry its own color.
type Table struct {
	writer  io.Writer
	headers []string
	rows    [][]Cell
	noColor bool
}

// Cell is one table cell
type Cell struct {
	Text  string
	Color *color.Color
}

// Plain makes an uncolored cell
func Plain(text string) Cell {
	return Cell{Text: text}
}

// NewTable creates a new table with the given headers
func NewTable(w io.Writer, headers []string, noColor bool) *Table {
	return &Table{writer: w, headers: headers, noColor: noColor}
}

// AddRow adds a row of plain cells
func (t *Table) AddRow(cells ...string) {
	row := make([]Cell, len(cells))
	for i, c := range cells {
		row[i] = Plain(c)
	}
	t.rows = append(t.rows, row)
}

// AddCells adds a row of possibly colored cells
func (t *Table) AddCells(cells ...Cell) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the header, a rule and the rows. Columns are as wide as
// their widest cell; cells past the last header are dropped.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	measure := func(col int, text string) {
		if n := utf8.RuneCountInString(text); col < len(widths) && n > widths[col] {
			widths[col] = n
		}
	}
	head := make([]Cell, len(t.headers))
	rule := make([]Cell, len(t.headers))
	headStyle := palette(t.noColor, color.Bold, color.FgCyan)
	ruleStyle := palette(t.noColor, color.FgHiBlack)
	for col, h := range t.headers {
		measure(col, h)
		head[col] = Cell{Text: h, Color: headStyle}
	}
	for _, row := range t.rows {
		for col, c := range row {
			measure(col, c.Text)
		}
	}
	for col, w := range widths {
		rule[col] = Cell{Text: strings.Repeat("─", w), Color: ruleStyle}
	}

	t.line(head, widths)
	t.line(rule, widths)
	for _, row := range t.rows {
		t.line(row, widths)
	}
}

// line writes one row of cells padded to widths
func (t *Table) line(cells []Cell, widths []int) {
	if len(cells) > len(widths) {
		cells = cells[:len(widths)]
	}
	for col, c := range cells {
		if col > 0 {
			io.WriteString(t.writer, "  ")
		}
		text := c.Text
		if col < len(cells)-1 {
			text = padRight(text, widths[col])
		}
		if c.Color != nil && !t.noColor {
			c.Color.Fprint(t.writer, text)
		} else {
			io.WriteString(t.writer, text)
		}
	}
	io.WriteString(t.writer, "\n")
}

func padRight(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

// KeyValueTable renders aligned "Key: value" lines
type KeyValueTable struct {
	w       io.Writer
	pairs   [][2]string
	noColor bool
}

// NewKeyValueTable returns an empty key/value table writing to w
func NewKeyValueTable(w io.Writer, noColor bool) *KeyValueTable {
	return &KeyValueTable{w: w, noColor: noColor}
}

// AddRow adds a key-value pair; empty values are skipped
func (t *KeyValueTable) AddRow(key, value string) {
	if value == "" {
		return
	}
	t.pairs = append(t.pairs, [2]string{key, value})
}

// Render writes the pairs with values aligned
func (t *KeyValueTable) Render() {
	keyWidth := 0
	for _, p := range t.pairs {
		keyWidth = max(keyWidth, utf8.RuneCountInString(p[0])+1)
	}
	keyStyle := palette(t.noColor, color.FgCyan)
	for _, p := range t.pairs {
		keyStyle.Fprint(t.w, padRight(p[0]+":", keyWidth))
		fmt.Fprintf(t.w, " %s\n", p[1])
	}
}

// Header renders a styled title with an underline
func Header(w io.Writer, title string, noColor bool) {
	palette(noColor, color.Bold, color.FgCyan).Fprintln(w, title)
	palette(noColor, color.FgHiBlack).Fprintln(w, strings.Repeat("─", utf8.RuneCountInString(title)))
}
