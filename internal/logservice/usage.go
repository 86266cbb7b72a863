package logservice

import (
	"context"
	"time"

	"github.com/junyiacademy/learnlog/internal/logstore"
)

// AIUsageStats rolls up ai_response records.
type AIUsageStats struct {
	TotalRequests  int            `json:"totalRequests"`
	TotalTokens    int            `json:"totalTokens"`
	TotalCost      float64        `json:"totalCost"`
	AverageLatency float64        `json:"averageLatency"`
	ModelUsage     map[string]int `json:"modelUsage"`
}

func newAIUsageStats() *AIUsageStats {
	return &AIUsageStats{ModelUsage: map[string]int{}}
}

// ComputeAIUsage reduces the ai_response records in recs. Cost is summed and
// latency averaged only over records that carry them.
func ComputeAIUsage(recs []*logstore.Record) *AIUsageStats {
	stats := newAIUsageStats()
	var (
		latencies int
		latTotal  float64
	)
	for _, rec := range recs {
		data, ok := aiResponse(rec.Data)
		if !ok {
			continue
		}
		stats.TotalRequests++
		stats.TotalTokens += data.Tokens.Total
		if data.Cost != nil {
			stats.TotalCost += *data.Cost
		}
		if data.Latency != nil {
			latencies++
			latTotal += *data.Latency
		}
		if data.Model != "" {
			stats.ModelUsage[data.Model]++
		}
	}
	if latencies > 0 {
		stats.AverageLatency = latTotal / float64(latencies)
	}
	return stats
}

func aiResponse(p logstore.Payload) (logstore.AIResponseData, bool) {
	switch d := p.(type) {
	case logstore.AIResponseData:
		return d, true
	case *logstore.AIResponseData:
		if d != nil {
			return *d, true
		}
	}
	return logstore.AIResponseData{}, false
}

// GetAIUsageStats rolls up AI responses of scope between start and end
// (inclusive, either may be nil). Usage errors are returned; storage failures
// are logged and yield zeroed stats.
func (s *Service) GetAIUsageStats(ctx context.Context, scope logstore.Scope, start, end *time.Time) (*AIUsageStats, error) {
	recs, err := s.repo.Query(ctx, logstore.QueryOptions{
		UserID:    scope.UserID,
		ProgramID: scope.ProgramID,
		TaskID:    scope.TaskID,
		Type:      logstore.TypeAIResponse,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		if isUsageError(err) {
			return nil, err
		}
		s.log.Warn("AI usage stats unavailable, returning empty result", "user_id", scope.UserID, "error", err)
		return newAIUsageStats(), nil
	}
	return ComputeAIUsage(recs), nil
}
