package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// cellTimeLayout is the local wall-clock form used across every table that
// shows a timestamp.
const cellTimeLayout = "2006-01-02 15:04:05"

// usdCell renders a dollar amount at ledger precision. Right-align the
// column so amounts line up on the decimal point.
func usdCell(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

// timeCell renders a timestamp in local time, or an empty cell for the zero
// value so unset lease and retry columns stay blank.
func timeCell(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Local().Format(cellTimeLayout)
}

// renderTable draws a rounded-border table. Headers keep the case they were
// given. Short rows are padded with empty cells.
func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	if len(headers) == 0 {
		return ""
	}

	style := table.StyleRounded
	style.Format.Header = text.FormatDefault

	tw := table.NewWriter()
	tw.SetStyle(style)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(headers))
	for i := range headers {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
