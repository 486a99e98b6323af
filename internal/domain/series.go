package domain

import (
	"fmt"
	"strings"
	"time"
)

// Dataset names understood by the data-lake client.
const (
	DatasetCases    = "cases"
	DatasetMobility = "mobility"
	DatasetPolicy   = "policy"
)

// Data-lake expressions used by the default datasets.
const (
	MetricConfirmedCases = "JHU_ConfirmedCases"

	mobilityPrefix = "Google_"
	mobilitySuffix = "Mobility"
)

// MobilityMetrics lists the Google mobility expressions fetched for the
// mobility dataset.
var MobilityMetrics = []string{
	"Google_GroceryMobility",
	"Google_TransitStationsMobility",
	"Google_ParksMobility",
	"Google_ResidentialMobility",
	"Google_RetailMobility",
	"Google_WorkplacesMobility",
}

// Indicator names produced by DeriveIndicators.
const (
	IndicatorCaseGrowth        = "case_growth"
	IndicatorCaseIncidence     = "case_incidence"
	IndicatorMobilityReduction = "mobility_reduction"
)

// DateLayout is the day format used by the data lake and the CSV tools.
const DateLayout = "2006-01-02"

// Region is a data-lake location with the baseline used for per-capita
// indicators. Population is zero when unknown.
type Region struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name,omitempty" yaml:"name"`
	Population int64  `json:"population,omitempty" yaml:"population"`
}

// RegionCatalog is the immutable set of regions a job works on.
type RegionCatalog struct {
	regions []Region
	byID    map[string]Region
}

// NewRegionCatalog builds a catalog, keeping the first entry for duplicate IDs.
func NewRegionCatalog(regions []Region) RegionCatalog {
	c := RegionCatalog{byID: make(map[string]Region, len(regions))}
	for _, r := range regions {
		if r.ID == "" {
			continue
		}
		if _, dup := c.byID[r.ID]; dup {
			continue
		}
		c.byID[r.ID] = r
		c.regions = append(c.regions, r)
	}
	return c
}

// IDs returns region IDs in catalog order.
func (c RegionCatalog) IDs() []string {
	ids := make([]string, len(c.regions))
	for i, r := range c.regions {
		ids[i] = r.ID
	}
	return ids
}

// Regions returns a copy of the catalog entries.
func (c RegionCatalog) Regions() []Region {
	return append([]Region(nil), c.regions...)
}

// Lookup returns the region with the given ID.
func (c RegionCatalog) Lookup(id string) (Region, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// Population returns the population of a region, or 0 when unknown.
func (c RegionCatalog) Population(id string) int64 {
	return c.byID[id].Population
}

// Len returns the number of regions.
func (c RegionCatalog) Len() int { return len(c.regions) }

// TimeSeriesPoint is one daily value of one metric for one region.
type TimeSeriesPoint struct {
	Region  string    `json:"region"`
	Date    time.Time `json:"date"`
	Metric  string    `json:"metric"`
	Value   float64   `json:"value"`
	Missing bool      `json:"missing,omitempty"`
}

// DateRange is an inclusive range of days. A zero Start or End leaves that
// side open.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls on a day inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	if !r.Start.IsZero() && d.Before(Day(r.Start)) {
		return false
	}
	if !r.End.IsZero() && d.After(Day(r.End)) {
		return false
	}
	return true
}

// Validate rejects ranges whose end is before their start.
func (r DateRange) Validate() error {
	if !r.Start.IsZero() && !r.End.IsZero() && Day(r.End).Before(Day(r.Start)) {
		return inputError(ErrInvalidParameters, fmt.Sprintf("date range end %s before start %s",
			r.End.Format(DateLayout), r.Start.Format(DateLayout)))
	}
	return nil
}

func (r DateRange) String() string {
	format := func(t time.Time) string {
		if t.IsZero() {
			return "*"
		}
		return t.Format(DateLayout)
	}
	return format(r.Start) + ".." + format(r.End)
}

// ParseDateRange parses two YYYY-MM-DD bounds; empty strings leave a side open.
func ParseDateRange(start, end string) (DateRange, error) {
	var r DateRange
	var err error
	if start != "" {
		if r.Start, err = ParseDay(start); err != nil {
			return DateRange{}, fmt.Errorf("parse start date: %w", err)
		}
	}
	if end != "" {
		if r.End, err = ParseDay(end); err != nil {
			return DateRange{}, fmt.Errorf("parse end date: %w", err)
		}
	}
	return r, r.Validate()
}

// ParseDay parses a YYYY-MM-DD day, also accepting RFC 3339 timestamps as the
// data lake returns them.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return Day(t), nil
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MobilityCategory strips the Google_ prefix and Mobility suffix from a
// mobility expression: "Google_GroceryMobility" -> "Grocery". Other metrics
// are returned unchanged.
func MobilityCategory(metric string) string {
	if !strings.HasPrefix(metric, mobilityPrefix) || !strings.HasSuffix(metric, mobilitySuffix) {
		return metric
	}
	return strings.TrimSuffix(strings.TrimPrefix(metric, mobilityPrefix), mobilitySuffix)
}
