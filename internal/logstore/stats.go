package logstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// TopActionsLimit is the number of actions GetAggregation ranks.
const TopActionsLimit = 10

// Statistics summarizes the live records of a scope.
type Statistics struct {
	Total               int              `json:"total"`
	ByType              map[Type]int     `json:"byType"`
	BySeverity          map[Severity]int `json:"bySeverity"`
	ErrorRate           float64          `json:"errorRate"`
	AverageResponseTime float64          `json:"averageResponseTime"`
}

// NewStatistics returns zeroed statistics with every type and severity present.
func NewStatistics() *Statistics {
	s := &Statistics{
		ByType:     make(map[Type]int, len(AllTypes)),
		BySeverity: make(map[Severity]int, len(AllSeverities)),
	}
	for _, t := range AllTypes {
		s.ByType[t] = 0
	}
	for _, sev := range AllSeverities {
		s.BySeverity[sev] = 0
	}
	return s
}

// ComputeStatistics reduces recs. The average response time only covers
// records whose metadata carries a numeric duration.
func ComputeStatistics(recs []*Record) *Statistics {
	s := NewStatistics()
	var (
		errCount  int
		durations int
		durTotal  float64
	)
	for _, rec := range recs {
		s.Total++
		s.ByType[rec.Type]++
		s.BySeverity[rec.Severity]++
		if rec.Severity.IsError() {
			errCount++
		}
		if d, ok := rec.Duration(); ok {
			durations++
			durTotal += d
		}
	}
	if s.Total > 0 {
		s.ErrorRate = float64(errCount) / float64(s.Total)
	}
	if durations > 0 {
		s.AverageResponseTime = durTotal / float64(durations)
	}
	return s
}

// GetStatistics computes statistics over the live records of scope.
func (r *Repository) GetStatistics(ctx context.Context, s Scope) (*Statistics, error) {
	recs, err := r.Query(ctx, QueryOptions{UserID: s.UserID, ProgramID: s.ProgramID, TaskID: s.TaskID})
	if err != nil {
		return nil, fmt.Errorf("statistics: %w", err)
	}
	return ComputeStatistics(recs), nil
}

// Period is the width of an error trend bucket.
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod validates s. An empty string means day.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(s)); p {
	case "":
		return PeriodDay, nil
	case PeriodHour, PeriodDay, PeriodWeek, PeriodMonth:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
}

// BucketKey formats t (in UTC) as the key of the period bucket holding it.
// Weeks start on Sunday: the key is the year of that Sunday and the 1-based
// ordinal of the Sunday within its year, e.g. 2024-W01 for 2024-01-07.
// Unknown periods fall back to day.
func BucketKey(t time.Time, p Period) string {
	t = t.UTC()
	switch p {
	case PeriodHour:
		return t.Format("2006-01-02T15")
	case PeriodWeek:
		sunday := t.AddDate(0, 0, -int(t.Weekday()))
		return fmt.Sprintf("%04d-W%02d", sunday.Year(), (sunday.YearDay()-1)/7+1)
	case PeriodMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// ActionCount is one entry of the top actions ranking.
type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// TrendPoint is the error count of one bucket.
type TrendPoint struct {
	Time  string `json:"time"`
	Count int    `json:"count"`
}

// Aggregation is a time-bucketed summary of a scope.
type Aggregation struct {
	Period      Period        `json:"period"`
	TotalLogs   int           `json:"totalLogs"`
	TotalErrors int           `json:"totalErrors"`
	TopActions  []ActionCount `json:"topActions"`
	ErrorTrend  []TrendPoint  `json:"errorTrend"`
}

// NewAggregation returns an empty aggregation for period.
func NewAggregation(p Period) *Aggregation {
	return &Aggregation{Period: p, TopActions: []ActionCount{}, ErrorTrend: []TrendPoint{}}
}

// ComputeAggregation reduces recs. Actions tied on count keep the order in
// which they first appear in recs.
func ComputeAggregation(recs []*Record, p Period) *Aggregation {
	agg := NewAggregation(p)

	counts := make(map[string]int)
	var order []string
	buckets := make(map[string]int)

	for _, rec := range recs {
		agg.TotalLogs++
		if action, ok := actionOf(rec.Data); ok {
			if _, seen := counts[action]; !seen {
				order = append(order, action)
			}
			counts[action]++
		}
		if rec.Severity.IsError() {
			agg.TotalErrors++
			buckets[BucketKey(rec.Timestamp, p)]++
		}
	}

	for _, action := range order {
		agg.TopActions = append(agg.TopActions, ActionCount{Action: action, Count: counts[action]})
	}
	slices.SortStableFunc(agg.TopActions, func(a, b ActionCount) int {
		return cmp.Compare(b.Count, a.Count)
	})
	if len(agg.TopActions) > TopActionsLimit {
		agg.TopActions = agg.TopActions[:TopActionsLimit]
	}

	for key, n := range buckets {
		agg.ErrorTrend = append(agg.ErrorTrend, TrendPoint{Time: key, Count: n})
	}
	slices.SortFunc(agg.ErrorTrend, func(a, b TrendPoint) int {
		return strings.Compare(a.Time, b.Time)
	})
	return agg
}

// GetAggregation computes an aggregation over the live records of scope,
// bucketing errors by period.
func (r *Repository) GetAggregation(ctx context.Context, s Scope, p Period) (*Aggregation, error) {
	p, err := ParsePeriod(string(p))
	if err != nil {
		return nil, err
	}
	recs, err := r.Query(ctx, QueryOptions{UserID: s.UserID, ProgramID: s.ProgramID, TaskID: s.TaskID})
	if err != nil {
		return nil, fmt.Errorf("aggregation: %w", err)
	}
	return ComputeAggregation(recs, p), nil
}
