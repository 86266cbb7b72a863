// Package cli implements the learnlog maintenance and reporting commands.
package cli

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/junyiacademy/learnlog/internal/logservice"
	"github.com/junyiacademy/learnlog/internal/logstore"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// ValidateFormat rejects unknown output formats.
func ValidateFormat(format string) error {
	switch format {
	case FormatJSON, FormatText:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want %s or %s)", format, FormatJSON, FormatText)
	}
}

// ParseTime accepts an RFC 3339 timestamp, a YYYY-MM-DD date (UTC midnight)
// or a duration meaning "that long before now". An empty string is nil.
func ParseTime(s string, now time.Time) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return &t, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		t := now.Add(-d)
		return &t, nil
	}
	return nil, fmt.Errorf("invalid time %q: want RFC 3339, YYYY-MM-DD or a duration like 72h", s)
}

// QueryOptions configures the query command.
type QueryOptions struct {
	Scope          logstore.Scope
	Type           string
	Severity       string
	Since          string
	Until          string
	OrderBy        string
	Limit          int
	Offset         int
	IncludeDeleted bool
	Format         string
}

// Query prints the records matching opts.
func Query(ctx context.Context, svc *logservice.Service, opts QueryOptions, t *Terminal) error {
	now := time.Now()
	start, err := ParseTime(opts.Since, now)
	if err != nil {
		return err
	}
	end, err := ParseTime(opts.Until, now)
	if err != nil {
		return err
	}

	recs, err := svc.QueryLogs(ctx, logstore.QueryOptions{
		UserID:         opts.Scope.UserID,
		ProgramID:      opts.Scope.ProgramID,
		TaskID:         opts.Scope.TaskID,
		Type:           logstore.Type(opts.Type),
		Severity:       logstore.Severity(opts.Severity),
		StartTime:      start,
		EndTime:        end,
		IncludeDeleted: opts.IncludeDeleted,
		OrderBy:        opts.OrderBy,
		Limit:          opts.Limit,
		Offset:         opts.Offset,
	})
	if err != nil {
		return fmt.Errorf("query logs: %w", err)
	}
	if opts.Format == FormatText {
		t.Records(recs)
		return nil
	}
	return t.JSON(recs)
}

// Stats prints statistics for scope.
func Stats(ctx context.Context, svc *logservice.Service, scope logstore.Scope, format string, t *Terminal) error {
	stats, err := svc.GetStatistics(ctx, scope)
	if err != nil {
		return fmt.Errorf("get statistics: %w", err)
	}
	if format != FormatText {
		return t.JSON(stats)
	}

	lines := [][2]string{
		{"total", strconv.Itoa(stats.Total)},
		{"error rate", fmt.Sprintf("%.1f%%", stats.ErrorRate*100)},
		{"avg response time", formatDuration(millis(stats.AverageResponseTime))},
	}
	for _, typ := range logstore.AllTypes {
		lines = append(lines, [2]string{"type " + string(typ), strconv.Itoa(stats.ByType[typ])})
	}
	for _, sev := range logstore.AllSeverities {
		lines = append(lines, [2]string{"severity " + string(sev), strconv.Itoa(stats.BySeverity[sev])})
	}
	t.Summary("Statistics "+scopeLabel(scope), lines)
	return nil
}

// Aggregate prints the aggregation of scope bucketed by period.
func Aggregate(ctx context.Context, svc *logservice.Service, scope logstore.Scope, period, format string, t *Terminal) error {
	p, err := logstore.ParsePeriod(period)
	if err != nil {
		return err
	}
	agg, err := svc.GetAggregation(ctx, scope, p)
	if err != nil {
		return fmt.Errorf("get aggregation: %w", err)
	}
	if format != FormatText {
		return t.JSON(agg)
	}

	lines := [][2]string{
		{"total logs", strconv.Itoa(agg.TotalLogs)},
		{"total errors", strconv.Itoa(agg.TotalErrors)},
	}
	for i, a := range agg.TopActions {
		lines = append(lines, [2]string{fmt.Sprintf("#%d %s", i+1, a.Action), strconv.Itoa(a.Count)})
	}
	for _, pt := range agg.ErrorTrend {
		lines = append(lines, [2]string{"errors " + pt.Time, strconv.Itoa(pt.Count)})
	}
	t.Summary(fmt.Sprintf("Aggregation by %s %s", agg.Period, scopeLabel(scope)), lines)
	return nil
}

// Usage prints AI usage between since and until.
func Usage(ctx context.Context, svc *logservice.Service, scope logstore.Scope, since, until, format string, t *Terminal) error {
	now := time.Now()
	start, err := ParseTime(since, now)
	if err != nil {
		return err
	}
	end, err := ParseTime(until, now)
	if err != nil {
		return err
	}
	usage, err := svc.GetAIUsageStats(ctx, scope, start, end)
	if err != nil {
		return fmt.Errorf("get AI usage: %w", err)
	}
	if format != FormatText {
		return t.JSON(usage)
	}

	lines := [][2]string{
		{"requests", strconv.Itoa(usage.TotalRequests)},
		{"tokens", strconv.Itoa(usage.TotalTokens)},
		{"cost", fmt.Sprintf("%.4f", usage.TotalCost)},
		{"avg latency", formatDuration(millis(usage.AverageLatency))},
	}
	models := make([]string, 0, len(usage.ModelUsage))
	for m := range usage.ModelUsage {
		models = append(models, m)
	}
	slices.Sort(models)
	for _, m := range models {
		lines = append(lines, [2]string{"model " + m, strconv.Itoa(usage.ModelUsage[m])})
	}
	t.Summary("AI usage "+scopeLabel(scope), lines)
	return nil
}

// Errors prints the newest error records of scope.
func Errors(ctx context.Context, svc *logservice.Service, scope logstore.Scope, limit int, format string, t *Terminal) error {
	recs, err := svc.GetErrorLogs(ctx, scope, limit)
	if err != nil {
		return fmt.Errorf("get error logs: %w", err)
	}
	if format == FormatText {
		t.Records(recs)
		return nil
	}
	return t.JSON(recs)
}

// Delete soft-deletes one record.
func Delete(ctx context.Context, svc *logservice.Service, scope logstore.Scope, id, format string, t *Terminal) error {
	deleted, err := svc.DeleteLog(ctx, scope.UserID, scope.ProgramID, scope.TaskID, id)
	if err != nil {
		return fmt.Errorf("delete log: %w", err)
	}
	key := logstore.RecordKey(scope.UserID, scope.ProgramID, scope.TaskID, id)
	if format != FormatText {
		return t.JSON(map[string]any{"key": key, "deleted": deleted})
	}
	if deleted {
		t.Done("deleted " + key)
	} else {
		fmt.Fprintf(t.out, "nothing to delete at %s\n", key)
	}
	return nil
}

// Cleanup soft-deletes records older than days.
func Cleanup(ctx context.Context, svc *logservice.Service, days int, format string, t *Terminal) error {
	start := time.Now()
	n, err := svc.CleanupExpiredLogs(ctx, days)
	if err != nil {
		return fmt.Errorf("cleanup expired logs: %w", err)
	}
	if format != FormatText {
		return t.JSON(map[string]any{"deleted": n})
	}
	t.Done(fmt.Sprintf("soft-deleted %d expired records in %s", n, formatDuration(time.Since(start))))
	return nil
}

// Compact drops dangling and deleted entries from the index of scope.
func Compact(ctx context.Context, svc *logservice.Service, scope logstore.Scope, format string, t *Terminal) error {
	n, err := svc.CompactIndex(ctx, scope)
	if err != nil {
		return fmt.Errorf("compact index: %w", err)
	}
	if format != FormatText {
		return t.JSON(map[string]any{"index": logstore.IndexKey(scope), "removed": n})
	}
	t.Done(fmt.Sprintf("removed %d entries from %s", n, logstore.IndexKey(scope)))
	return nil
}

// Reindex rebuilds the indices of scope from a record scan.
func Reindex(ctx context.Context, svc *logservice.Service, scope logstore.Scope, format string, t *Terminal) error {
	n, err := svc.RebuildIndex(ctx, scope)
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	if format != FormatText {
		return t.JSON(map[string]any{"index": logstore.IndexKey(scope), "lists": n})
	}
	t.Done(fmt.Sprintf("rebuilt %d index lists under %s", n, scopeLabel(scope)))
	return nil
}

func scopeLabel(s logstore.Scope) string {
	label := s.UserID
	if s.ProgramID != "" {
		label += "/" + s.ProgramID
	}
	if s.TaskID != "" {
		label += "/" + s.TaskID
	}
	return label
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
