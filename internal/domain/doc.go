// Package domain models COVID-19 time series pulled from the C3.ai data lake
// and the impact score computed from them.
//
// # Data Source
//
// Series come from the C3.ai COVID-19 data lake "outbreaklocation" evalmetrics
// API. Each location ID (e.g. "UnitedStates", "HongKong_China") exposes daily
// expressions; the ones used here are:
//
//	JHU_ConfirmedCases              cumulative confirmed cases (Johns Hopkins)
//	Google_<Category>Mobility       % change from the pre-pandemic baseline,
//	                                Category in Grocery, TransitStations, Parks,
//	                                Residential, Retail, Workplaces
//	<policy index expression>       configurable, e.g. a stringency index
//
// Every value is paired with a "missing" percentage. Any value over 0 means the
// data point is treated as completely missing, never as zero.
//
// # Indicators
//
// Raw series are turned into indicators before scoring (see [DeriveIndicators]):
//
//	case_growth         day-over-day % growth of cumulative confirmed cases
//	case_incidence      new cases per 100k population
//	mobility_reduction  negated mean of the non-residential mobility categories
//
// # Impact Score
//
// [ComputeImpactScores] rescales each indicator into [0,1] across every row of
// the input and takes the weighted average of the indicators present on each
// (region, date) row. Weights of missing indicators are dropped from both the
// numerator and the denominator so incomplete rows are not pulled toward zero.
//
// # Policy Impact
//
// [PolicyImpact] is the regression-based before/after score used to estimate the
// effect of a policy change on a single series:
//
//	impact = (area(post) - area(max(0, pre))) / area(max(0, pre))
//
// where pre and post are least-squares lines fitted on either side of the
// origin date and areas are taken over the post window.
package domain
