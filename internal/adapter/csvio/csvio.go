// Package csvio reads data-lake points from CSV and writes score tables as CSV
// for offline runs.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/islandhamstar/covid-impact/internal/domain"
)

var pointColumns = []string{"region", "date", "metric", "value"}

// ReadPoints parses a CSV with a region,date,metric,value header and an
// optional trailing missing column. An empty value or a missing column of
// "true"/"1" marks the point as missing.
func ReadPoints(r io.Reader) ([]domain.TimeSeriesPoint, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("read points: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read points header: %w", err)
	}
	cols, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	var points []domain.TimeSeriesPoint
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return points, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read points: %w", err)
		}
		p, err := parsePoint(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("read points line %d: %w", line, err)
		}
		points = append(points, p)
	}
}

type columnIndex struct {
	region, date, metric, value, missing int
}

func indexColumns(header []string) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range pointColumns {
		if _, ok := pos[name]; !ok {
			return columnIndex{}, fmt.Errorf("read points header: missing column %q", name)
		}
	}
	cols := columnIndex{region: pos["region"], date: pos["date"], metric: pos["metric"], value: pos["value"], missing: -1}
	if i, ok := pos["missing"]; ok {
		cols.missing = i
	}
	return cols, nil
}

func parsePoint(rec []string, cols columnIndex) (domain.TimeSeriesPoint, error) {
	field := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	p := domain.TimeSeriesPoint{Region: field(cols.region), Metric: field(cols.metric)}
	if p.Region == "" || p.Metric == "" {
		return p, errors.New("region and metric are required")
	}
	date, err := domain.ParseDay(field(cols.date))
	if err != nil {
		return p, err
	}
	p.Date = date

	if v := field(cols.value); v == "" {
		p.Missing = true
	} else if p.Value, err = strconv.ParseFloat(v, 64); err != nil {
		return p, fmt.Errorf("invalid value %q", v)
	}

	switch strings.ToLower(field(cols.missing)) {
	case "", "false", "0":
	case "true", "1":
		p.Missing = true
	default:
		return p, fmt.Errorf("invalid missing flag %q", field(cols.missing))
	}
	return p, nil
}

// WriteScores writes one row per score: region, date, score, coverage, then
// the normalized value of each indicator of the table. Indicators absent from
// a row are left empty.
func WriteScores(w io.Writer, table domain.ScoreTable) error {
	cw := csv.NewWriter(w)

	header := append([]string{"region", "date", "score", "coverage"}, table.Indicators...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write scores header: %w", err)
	}

	rec := make([]string, len(header))
	for _, s := range table.Scores {
		rec[0] = s.Region
		rec[1] = s.Date.Format(domain.DateLayout)
		rec[2] = formatFloat(s.Score)
		rec[3] = formatFloat(s.Coverage)
		for i, name := range table.Indicators {
			rec[4+i] = ""
			if v, ok := s.Indicators[name]; ok {
				rec[4+i] = formatFloat(v)
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write score row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush scores: %w", err)
	}
	return nil
}

// WritePolicyImpacts writes one row per policy impact result.
func WritePolicyImpacts(w io.Writer, impacts []domain.PolicyImpactResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"region", "metric", "origin", "score", "pre_slope", "post_slope", "pre_days_skipped", "post_days_skipped", "direction"}); err != nil {
		return fmt.Errorf("write policy impacts header: %w", err)
	}
	for _, p := range impacts {
		rec := []string{
			p.Region,
			p.Metric,
			p.Origin.Format(domain.DateLayout),
			formatFloat(p.Score),
			formatFloat(p.PreSlope),
			formatFloat(p.PostSlope),
			strconv.Itoa(p.PreDaysSkipped),
			strconv.Itoa(p.PostDaysSkipped),
			string(p.Direction),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write policy impact row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush policy impacts: %w", err)
	}
	return nil
}

// WeeklySeries is the weekly decay of one region and metric.
type WeeklySeries struct {
	Region string
	Metric string
	Weeks  []domain.WeeklyValue
}

// WriteWeekly writes one row per week of each series. Weeks without data
// have an empty percent.
func WriteWeekly(w io.Writer, series []WeeklySeries) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"region", "metric", "week_start", "percent", "samples"}); err != nil {
		return fmt.Errorf("write weekly header: %w", err)
	}
	for _, s := range series {
		for _, wk := range s.Weeks {
			percent := ""
			if wk.Present {
				percent = formatFloat(wk.Percent)
			}
			rec := []string{s.Region, s.Metric, wk.WeekStart.Format(domain.DateLayout), percent, strconv.Itoa(wk.Samples)}
			if err := cw.Write(rec); err != nil {
				return fmt.Errorf("write weekly row: %w", err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush weekly: %w", err)
	}
	return nil
}

// WriteFile creates path and runs write against it. The Close error is
// returned too, since a failed close can leave the file truncated.
func WriteFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	return writeAndClose(f, write)
}

func writeAndClose(wc io.WriteCloser, write func(io.Writer) error) error {
	werr := write(wc)
	if cerr := wc.Close(); cerr != nil && werr == nil {
		return fmt.Errorf("close output: %w", cerr)
	}
	return werr
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
