package util

import (
	"fmt"
	"io"
	"strings"
)

const (
	truncatedStringEnd = " ..."
	maxLength          = 40
)

// Column is one column of printed output, Width is the cell width in runes.
type Column struct {
	Name  string
	Width int
}

// KeyValueColumns describe the rows of a range scan.
var KeyValueColumns = []Column{
	{Name: "key", Width: 12},
	{Name: "value", Width: maxLength},
}

// TableInfoColumns describe the per table rows of the stats command.
var TableInfoColumns = []Column{
	{Name: "table", Width: 24},
	{Name: "root", Width: 8},
	{Name: "height", Width: 6},
	{Name: "entries", Width: 10},
}

func PrintTableHeader(w io.Writer, columns []Column) {
	tableWidth := computeTableWidth(columns)

	// add top horizontal header
	fmt.Fprintf(w, "+%s+\n", strings.Repeat("-", tableWidth-2))

	for i, aColumn := range columns {
		// pad on the right rather than the left (left-justify the field)
		fmt.Fprintf(w, "| %-*s ", aColumn.Width, aColumn.Name)
		if i == len(columns)-1 {
			fmt.Fprintf(w, "|\n")
		}
	}

	// add horizontal border bellow the header row
	fmt.Fprintf(w, "+%s+\n", strings.Repeat("-", tableWidth-2))
}

func PrintTableRow(w io.Writer, columns []Column, values []any) {
	for i, aValue := range values {
		aStringValue := fmt.Sprint(aValue)
		r := []rune(aStringValue)
		if width := columns[i].Width; len(r) > width {
			aStringValue = string(r[0:width-len(truncatedStringEnd)]) + truncatedStringEnd
		}
		fmt.Fprintf(w, "| %-*s ", columns[i].Width, aStringValue)
	}
	fmt.Fprintf(w, "|\n")
}

func PrintTableEnd(w io.Writer, columns []Column) {
	fmt.Fprintf(w, "+%s+\n", strings.Repeat("-", computeTableWidth(columns)-2))
}

func computeTableWidth(columns []Column) int {
	// left border is | followed by a space, right border is space followed by | (2+2=4)
	// then between each column we have space, |, space (3)
	tableWidth := 4 + (len(columns)-1)*3
	for _, aColumn := range columns {
		tableWidth += aColumn.Width
	}
	return tableWidth
}
