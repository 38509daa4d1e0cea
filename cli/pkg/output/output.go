// Package output provides terminal output helpers for fleetctl.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiRed   = "\033[31m"
	ansiGreen = "\033[32m"
	ansiCyan  = "\033[36m"
)

func colorize(code, s string) string {
	if os.Getenv("NO_COLOR") != "" {
		return s
	}
	return code + s + ansiReset
}

func Success(format string, a ...interface{}) {
	fmt.Println(colorize(ansiGreen+ansiBold, fmt.Sprintf(format, a...)))
}

func Error(format string, a ...interface{}) {
	fmt.Fprintln(os.Stderr, colorize(ansiRed+ansiBold, fmt.Sprintf(format, a...)))
}

func Info(format string, a ...interface{}) {
	fmt.Println(colorize(ansiCyan, fmt.Sprintf(format, a...)))
}

// JSON pretty-prints v to stdout.
func JSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table is a minimal aligned-column text table.
type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *Table) Render() {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range t.headers {
		fmt.Print(colorize(ansiBold, fmt.Sprintf("%-*s  ", widths[i], h)))
	}
	fmt.Println()
	for i := range t.headers {
		fmt.Print(strings.Repeat("-", widths[i]) + "  ")
	}
	fmt.Println()
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Printf("%-*s  ", widths[i], cell)
			}
		}
		fmt.Println()
	}
}
