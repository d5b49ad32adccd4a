package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/glamour"
	"github.com/shopspring/decimal"
)

// table builds a markdown table rendered through glamour.
type table struct {
	title   string
	headers []string
	rows    [][]string
}

func newTable(title string, headers ...string) *table {
	return &table{title: title, headers: headers}
}

func (t *table) add(cells ...any) {
	row := make([]string, len(cells))
	for i, c := range cells {
		row[i] = escapeCell(fmt.Sprint(c))
	}
	t.rows = append(t.rows, row)
}

func (t *table) markdown() string {
	var b strings.Builder
	if t.title != "" {
		fmt.Fprintf(&b, "## %s\n\n", t.title)
	}
	if len(t.rows) == 0 {
		b.WriteString("_nothing to show_\n")
		return b.String()
	}
	b.WriteString("| " + strings.Join(t.headers, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(t.headers)) + "\n")
	for _, r := range t.rows {
		b.WriteString("| " + strings.Join(r, " | ") + " |\n")
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// render writes markdown to w, styled when stdout is a terminal.
func render(w io.Writer, md string) error {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(0))
	if err != nil {
		return err
	}
	out, err := r.Render(md)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// inr formats a rupee amount with the currency's grouping and symbol.
func inr(d decimal.Decimal) string {
	cur := money.GetCurrency(money.INR)
	minor := d.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, money.INR).Display()
}
