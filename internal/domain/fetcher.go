package domain

import "context"

// Fetcher loads daily time series for a dataset from the data lake. It returns
// the points of every requested region within r, with missing values flagged
// rather than dropped.
type Fetcher interface {
	Fetch(ctx context.Context, dataset string, regions []string, r DateRange) ([]TimeSeriesPoint, error)
}
