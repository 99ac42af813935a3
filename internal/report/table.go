// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/relabs-tech/uwb_tag/internal/ranging"
)

const tableHeader = "d0\td1\tx\ty"

// Table prints one tab-separated line per result, in metres, after a
// header written once.
type Table struct {
	w           io.Writer
	wroteHeader bool
}

func NewTable(w io.Writer) *Table {
	return &Table{w: w}
}

// WriteHeader prints the header unless it has already been written.
func (t *Table) WriteHeader() error {
	if t.wroteHeader {
		return nil
	}
	if _, err := fmt.Fprintln(t.w, tableHeader); err != nil {
		return err
	}
	t.wroteHeader = true
	return nil
}

func (t *Table) Write(res *ranging.Result) error {
	if err := t.WriteHeader(); err != nil {
		return err
	}

	x, y := "-", "-"
	if res.FixErr == nil {
		x, y = metres(res.Fix.X), metres(res.Fix.Y)
	}
	_, err := fmt.Fprintf(t.w, "%s\t%s\t%s\t%s\n",
		sample(res.Samples[0]), sample(res.Samples[1]), x, y)
	return err
}

func sample(s ranging.Sample) string {
	if !s.Valid {
		return "-"
	}
	return metres(s.Distance)
}

func metres(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
