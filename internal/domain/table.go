package domain

import (
	"math"
	"slices"
	"strings"
	"time"
)

// Measure is a single indicator cell. Present is false when the source had no
// usable value for the row.
type Measure struct {
	Value   float64
	Present bool
}

// Observed returns a present measure. NaN and infinities are stored as missing.
func Observed(v float64) Measure {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Measure{}
	}
	return Measure{Value: v, Present: true}
}

// Row holds the indicator values of one (region, date). Values line up with
// Table.Indicators.
type Row struct {
	Region string
	Date   time.Time
	Values []Measure
}

// Table is a per-(region, date) table with a fixed set of named indicator
// columns. Every row carries exactly len(Indicators) measures.
type Table struct {
	Indicators []string
	Rows       []Row
}

// BuildTable pivots points into a table with the given indicator columns.
// When indicators is empty the columns are the distinct metrics of points in
// sorted order. Rows are sorted by region, then date. Points for metrics not in
// the column set are ignored; a later point for the same cell wins.
func BuildTable(points []TimeSeriesPoint, indicators []string) Table {
	if len(indicators) == 0 {
		seen := make(map[string]struct{})
		for _, p := range points {
			if _, ok := seen[p.Metric]; !ok {
				seen[p.Metric] = struct{}{}
				indicators = append(indicators, p.Metric)
			}
		}
		slices.Sort(indicators)
	}
	cols := make(map[string]int, len(indicators))
	for i, name := range indicators {
		cols[name] = i
	}

	type rowKey struct {
		region string
		date   time.Time
	}
	index := make(map[rowKey]int)
	var rows []Row
	for _, p := range points {
		col, ok := cols[p.Metric]
		if !ok {
			continue
		}
		key := rowKey{region: p.Region, date: Day(p.Date)}
		i, ok := index[key]
		if !ok {
			i = len(rows)
			index[key] = i
			rows = append(rows, Row{Region: key.region, Date: key.date, Values: make([]Measure, len(indicators))})
		}
		if p.Missing {
			rows[i].Values[col] = Measure{}
			continue
		}
		rows[i].Values[col] = Observed(p.Value)
	}

	slices.SortFunc(rows, func(a, b Row) int {
		if c := strings.Compare(a.Region, b.Region); c != 0 {
			return c
		}
		return a.Date.Compare(b.Date)
	})

	return Table{Indicators: append([]string(nil), indicators...), Rows: rows}
}

// Column returns the index of an indicator column.
func (t Table) Column(name string) (int, bool) {
	i := slices.Index(t.Indicators, name)
	return i, i >= 0
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// FilterDates returns the rows whose date falls within r. Rows are shared with
// the receiver, not copied.
func (t Table) FilterDates(r DateRange) Table {
	out := Table{Indicators: t.Indicators}
	for _, row := range t.Rows {
		if r.Contains(row.Date) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// Without returns a copy of the table with the named indicator column removed.
func (t Table) Without(name string) Table {
	col, ok := t.Column(name)
	if !ok {
		return t
	}
	out := Table{
		Indicators: slices.Delete(slices.Clone(t.Indicators), col, col+1),
		Rows:       make([]Row, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = Row{
			Region: row.Region,
			Date:   row.Date,
			Values: slices.Delete(slices.Clone(row.Values), col, col+1),
		}
	}
	return out
}

// Points flattens the table back into present points, skipping missing cells.
func (t Table) Points() []TimeSeriesPoint {
	var points []TimeSeriesPoint
	for _, row := range t.Rows {
		for i, m := range row.Values {
			if !m.Present {
				continue
			}
			points = append(points, TimeSeriesPoint{Region: row.Region, Date: row.Date, Metric: t.Indicators[i], Value: m.Value})
		}
	}
	return points
}
