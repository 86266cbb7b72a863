package logservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/junyiacademy/learnlog/internal/logstore"
	"github.com/junyiacademy/learnlog/internal/storage"
)

var (
	testNow   = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	testScope = logstore.Scope{UserID: "u1", ProgramID: "p1", TaskID: "t1"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyStore fails reads while broken is set.
type flakyStore struct {
	storage.Store
	broken atomic.Bool
}

var errUnavailable = errors.New("store unavailable")

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.broken.Load() {
		return nil, errUnavailable
	}
	return s.Store.Get(ctx, key)
}

func (s *flakyStore) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	if s.broken.Load() {
		return nil, errUnavailable
	}
	return s.Store.List(ctx, prefix)
}

func newTestService(t *testing.T) (*Service, *flakyStore) {
	t.Helper()
	store := &flakyStore{Store: storage.NewMemory()}
	repo := logstore.NewRepository(store,
		logstore.WithLogger(testLogger()),
		logstore.WithClock(func() time.Time { return testNow }),
	)
	return New(repo, testLogger()), store
}

func TestLogInteraction(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.LogInteraction(ctx, testScope, "hint", "step 2", map[string]any{"level": "basic"})
	if err != nil {
		t.Fatalf("LogInteraction: %v", err)
	}
	got, err := svc.Repository().Get(ctx, "u1", "p1", "t1", rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != logstore.TypeInteraction || got.Severity != logstore.SeverityInfo {
		t.Errorf("type=%s severity=%s", got.Type, got.Severity)
	}
	data, ok := got.Data.(logstore.InteractionData)
	if !ok || data.Action != "hint" || data.Content != "step 2" || data.Details["level"] != "basic" {
		t.Errorf("data = %#v", got.Data)
	}
}

func TestLogAIRequest_EstimatesTokens(t *testing.T) {
	svc, _ := newTestService(t)
	prompt := strings.Repeat("a", 40)

	rec, err := svc.LogAIRequest(context.Background(), testScope, "gpt-4o", prompt, map[string]any{"temperature": 0.2})
	if err != nil {
		t.Fatal(err)
	}
	data := rec.Data.(logstore.AIRequestData)
	if data.Tokens.Prompt != 10 || data.Tokens.Total != 10 || data.Tokens.Completion != 0 {
		t.Errorf("tokens = %+v, want prompt=total=10", data.Tokens)
	}
	if rec.Metadata["temperature"] != 0.2 {
		t.Errorf("metadata = %v", rec.Metadata)
	}
}

func TestLogAIResponse(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	cost := 0.003

	rec, err := svc.LogAIResponse(ctx, testScope, AIResponse{
		Model:            "gpt-4o",
		Response:         "try factoring",
		PromptTokens:     120,
		CompletionTokens: 30,
		Latency:          1500 * time.Millisecond,
		Cost:             &cost,
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := svc.Repository().Get(ctx, "u1", "p1", "t1", rec.ID)
	data := got.Data.(logstore.AIResponseData)
	if data.Tokens.Total != 150 {
		t.Errorf("total tokens = %d, want 150", data.Tokens.Total)
	}
	if data.Latency == nil || *data.Latency != 1500 {
		t.Errorf("latency = %v, want 1500", data.Latency)
	}
	if data.Cost == nil || *data.Cost != cost {
		t.Errorf("cost = %v, want %v", data.Cost, cost)
	}
	if d, ok := got.Duration(); !ok || d != 1500 {
		t.Errorf("duration = %v, %v, want 1500", d, ok)
	}
}

func TestLogAIResponse_ZeroLatency(t *testing.T) {
	svc, _ := newTestService(t)
	rec, err := svc.LogAIResponse(context.Background(), testScope, AIResponse{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	data := rec.Data.(logstore.AIResponseData)
	if data.Latency == nil || *data.Latency != 0 {
		t.Errorf("latency = %v, want 0", data.Latency)
	}
	if data.Cost != nil {
		t.Errorf("cost = %v, want absent", *data.Cost)
	}
	if d, ok := rec.Duration(); !ok || d != 0 {
		t.Errorf("duration = %v, %v, want 0", d, ok)
	}
}

func TestLogSubmission(t *testing.T) {
	svc, _ := newTestService(t)
	version := 3
	rec, err := svc.LogSubmission(context.Background(), testScope, "essay", "final draft", Submission{Version: &version, PreviousContent: "draft"})
	if err != nil {
		t.Fatal(err)
	}
	data := rec.Data.(logstore.SubmissionData)
	if data.SubmissionType != "essay" || data.Content != "final draft" || *data.Version != 3 || data.PreviousContent != "draft" {
		t.Errorf("data = %+v", data)
	}
}

// stackError prints a trace under %+v.
type stackError struct{ msg string }

func (e stackError) Error() string { return e.msg }

func (e stackError) Format(f fmt.State, verb rune) {
	if verb == 'v' && f.Flag('+') {
		fmt.Fprintf(f, "%s\n\tmain.go:12", e.msg)
		return
	}
	fmt.Fprint(f, e.msg)
}

func TestLogError(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		err       error
		wantStack string
	}{
		{"plain", errors.New("boom"), ""},
		{"with stack", stackError{"boom"}, "boom\n\tmain.go:12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := svc.LogError(ctx, testScope, tt.err, map[string]any{"page": "quiz"})
			if err != nil {
				t.Fatal(err)
			}
			if rec.Type != logstore.TypeError || rec.Severity != logstore.SeverityError || rec.Message != "boom" {
				t.Errorf("record = %s/%s/%q", rec.Type, rec.Severity, rec.Message)
			}
			data := rec.Data.(logstore.ErrorData)
			if data.Error != "boom" || data.Stack != tt.wantStack || data.Context["page"] != "quiz" {
				t.Errorf("data = %+v", data)
			}
		})
	}

	if _, err := svc.LogError(ctx, testScope, nil, nil); err == nil {
		t.Error("nil error should be rejected")
	}
}

func TestLogErrorMessage(t *testing.T) {
	svc, _ := newTestService(t)
	rec, err := svc.LogErrorMessage(context.Background(), testScope, "timeout", nil)
	if err != nil {
		t.Fatal(err)
	}
	data := rec.Data.(logstore.ErrorData)
	if data.Error != "timeout" || data.Stack != "" {
		t.Errorf("data = %+v", data)
	}
}

func TestLogSystemEvent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.LogSystemEvent(ctx, testScope, "session_start", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Severity != logstore.SeverityInfo {
		t.Errorf("severity = %s, want info", rec.Severity)
	}
	rec, err = svc.LogSystemEvent(ctx, testScope, "quota", map[string]any{"left": 0.0}, logstore.SeverityCritical)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Severity != logstore.SeverityCritical || rec.Data.(logstore.SystemData).Event != "quota" {
		t.Errorf("record = %+v", rec)
	}
}

func TestWritesPropagateErrors(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.LogInteraction(context.Background(), logstore.Scope{UserID: "u1"}, "click", "", nil)
	if !errors.Is(err, logstore.ErrInvalidID) {
		t.Errorf("err = %v, want ErrInvalidID", err)
	}
}

func TestGetErrorLogs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := range 3 {
		if _, err := svc.LogErrorMessage(ctx, testScope, fmt.Sprintf("e%d", i), nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.LogInteraction(ctx, testScope, "click", "", nil); err != nil {
		t.Fatal(err)
	}

	all, err := svc.GetErrorLogs(ctx, logstore.Scope{UserID: "u1"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("len = %d, want 3", len(all))
	}
	two, err := svc.GetErrorLogs(ctx, logstore.Scope{UserID: "u1"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(two) != 2 {
		t.Errorf("len = %d, want 2", len(two))
	}
}

func TestGetStatistics_DegradesOnStorageFailure(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	if _, err := svc.LogInteraction(ctx, testScope, "click", "", nil); err != nil {
		t.Fatal(err)
	}

	store.broken.Store(true)
	stats, err := svc.GetStatistics(ctx, logstore.Scope{UserID: "u1"})
	if err != nil {
		t.Fatalf("GetStatistics should degrade, got %v", err)
	}
	if stats.Total != 0 || len(stats.ByType) != len(logstore.AllTypes) {
		t.Errorf("stats = %+v, want zeroed", stats)
	}

	agg, err := svc.GetAggregation(ctx, logstore.Scope{UserID: "u1"}, logstore.PeriodWeek)
	if err != nil {
		t.Fatalf("GetAggregation should degrade, got %v", err)
	}
	if agg.TotalLogs != 0 || agg.Period != logstore.PeriodWeek {
		t.Errorf("agg = %+v", agg)
	}

	usage, err := svc.GetAIUsageStats(ctx, logstore.Scope{UserID: "u1"}, nil, nil)
	if err != nil {
		t.Fatalf("GetAIUsageStats should degrade, got %v", err)
	}
	if usage.TotalRequests != 0 || usage.ModelUsage == nil {
		t.Errorf("usage = %+v", usage)
	}

	if _, err := svc.QueryLogs(ctx, logstore.QueryOptions{UserID: "u1"}); !errors.Is(err, errUnavailable) {
		t.Errorf("QueryLogs err = %v, want storage error", err)
	}
}

func TestGetStatistics_UsageErrorReturned(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.GetStatistics(context.Background(), logstore.Scope{}); !errors.Is(err, logstore.ErrScopeRequired) {
		t.Errorf("err = %v, want ErrScopeRequired", err)
	}
	if _, err := svc.GetAggregation(context.Background(), logstore.Scope{UserID: "u1"}, "decade"); !errors.Is(err, logstore.ErrInvalidPeriod) {
		t.Errorf("err = %v, want ErrInvalidPeriod", err)
	}
}

func TestGetAIUsageStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	cost := 0.5

	responses := []AIResponse{
		{Model: "gpt-4o", PromptTokens: 10, CompletionTokens: 5, Latency: 100 * time.Millisecond, Cost: &cost},
		{Model: "gpt-4o", PromptTokens: 20, CompletionTokens: 5, Latency: 500 * time.Millisecond},
		{Model: "claude", PromptTokens: 1, CompletionTokens: 1, Cost: &cost},
	}
	for _, r := range responses {
		if _, err := svc.LogAIResponse(ctx, testScope, r); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.LogAIRequest(ctx, testScope, "gpt-4o", "hello", nil); err != nil {
		t.Fatal(err)
	}

	usage, err := svc.GetAIUsageStats(ctx, logstore.Scope{UserID: "u1"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if usage.TotalRequests != 3 {
		t.Errorf("totalRequests = %d, want 3", usage.TotalRequests)
	}
	if usage.TotalTokens != 42 {
		t.Errorf("totalTokens = %d, want 42", usage.TotalTokens)
	}
	if usage.TotalCost != 1.0 {
		t.Errorf("totalCost = %v, want 1", usage.TotalCost)
	}
	if usage.AverageLatency != 200 {
		t.Errorf("averageLatency = %v, want 200", usage.AverageLatency)
	}
	if usage.ModelUsage["gpt-4o"] != 2 || usage.ModelUsage["claude"] != 1 {
		t.Errorf("modelUsage = %v", usage.ModelUsage)
	}

	future := testNow.Add(time.Hour)
	usage, err = svc.GetAIUsageStats(ctx, logstore.Scope{UserID: "u1"}, &future, nil)
	if err != nil {
		t.Fatal(err)
	}
	if usage.TotalRequests != 0 {
		t.Errorf("records after %v: %d, want 0", future, usage.TotalRequests)
	}
}

func TestDeleteAndMaintenance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.LogInteraction(ctx, testScope, "click", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := svc.DeleteLog(ctx, "u1", "p1", "t1", rec.ID); err != nil || !ok {
		t.Fatalf("DeleteLog = %v, %v, want true", ok, err)
	}
	if ok, _ := svc.DeleteLog(ctx, "u1", "p1", "t1", rec.ID); ok {
		t.Error("second DeleteLog should report false")
	}
	removed, err := svc.CompactIndex(ctx, testScope)
	if err != nil || removed != 1 {
		t.Errorf("CompactIndex = %d, %v, want 1", removed, err)
	}
	if _, err := svc.RebuildIndex(ctx, logstore.Scope{UserID: "u1"}); err != nil {
		t.Errorf("RebuildIndex: %v", err)
	}
}
