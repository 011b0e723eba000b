package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintTable(t *testing.T) {
	t.Parallel()

	var (
		buf     = new(bytes.Buffer)
		columns = []Column{{Name: "key", Width: 5}, {Name: "value", Width: 8}}
	)

	PrintTableHeader(buf, columns)
	PrintTableRow(buf, columns, []any{int32(7), "seven"})
	PrintTableRow(buf, columns, []any{int32(-12), "a very long value"})
	PrintTableEnd(buf, columns)

	border := "+" + strings.Repeat("-", 18) + "+"
	expected := strings.Join([]string{
		border,
		"| key   | value    |",
		border,
		"| 7     | seven    |",
		"| -12   | a ve ... |",
		border,
	}, "\n") + "\n"
	assert.Equal(t, expected, buf.String())
}
