// Package logservice is the typed entry point for writing and reading
// learning-session logs. Each Log* method shapes the payload for one record
// type and delegates to the repository.
package logservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/junyiacademy/learnlog/internal/logstore"
)

var errNilError = errors.New("nil error")

// Service wraps a Repository. Construct one at startup and pass it around.
type Service struct {
	repo *logstore.Repository
	log  *slog.Logger
}

// New creates a Service over repo.
func New(repo *logstore.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, log: logger}
}

// Repository returns the underlying repository.
func (s *Service) Repository() *logstore.Repository {
	return s.repo
}

func (s *Service) create(ctx context.Context, scope logstore.Scope, p logstore.CreateParams) (*logstore.Record, error) {
	p.UserID, p.ProgramID, p.TaskID = scope.UserID, scope.ProgramID, scope.TaskID
	rec, err := s.repo.Create(ctx, p)
	if err != nil {
		return rec, fmt.Errorf("log %s: %w", p.Type, err)
	}
	return rec, nil
}

// LogInteraction records a user action such as a click or an answer change.
func (s *Service) LogInteraction(ctx context.Context, scope logstore.Scope, action, content string, details map[string]any) (*logstore.Record, error) {
	return s.create(ctx, scope, logstore.CreateParams{
		Type:    logstore.TypeInteraction,
		Message: "User interaction: " + action,
		Data: logstore.InteractionData{
			Action:  action,
			Content: content,
			Details: details,
		},
	})
}

// LogAIRequest records a prompt sent to a model. Prompt tokens are estimated.
func (s *Service) LogAIRequest(ctx context.Context, scope logstore.Scope, model, prompt string, metadata map[string]any) (*logstore.Record, error) {
	tokens := EstimateTokens(prompt)
	return s.create(ctx, scope, logstore.CreateParams{
		Type:    logstore.TypeAIRequest,
		Message: "AI request to " + model,
		Data: logstore.AIRequestData{
			Model:  model,
			Prompt: prompt,
			Tokens: logstore.TokenUsage{Prompt: tokens, Total: tokens},
		},
		Metadata: metadata,
	})
}

// AIResponse describes a model reply.
type AIResponse struct {
	Model            string
	Response         string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	Cost             *float64
}

// LogAIResponse records a model reply. Latency is stored in milliseconds and
// copied to metadata.duration so it shows up in the average response time.
func (s *Service) LogAIResponse(ctx context.Context, scope logstore.Scope, resp AIResponse) (*logstore.Record, error) {
	data := logstore.AIResponseData{
		Model:    resp.Model,
		Response: resp.Response,
		Tokens: logstore.TokenUsage{
			Prompt:     resp.PromptTokens,
			Completion: resp.CompletionTokens,
			Total:      resp.PromptTokens + resp.CompletionTokens,
		},
		Cost: resp.Cost,
	}
	ms := float64(resp.Latency) / float64(time.Millisecond)
	data.Latency = &ms
	metadata := map[string]any{"duration": ms}
	return s.create(ctx, scope, logstore.CreateParams{
		Type:     logstore.TypeAIResponse,
		Message:  "AI response from " + resp.Model,
		Data:     data,
		Metadata: metadata,
	})
}

// Submission carries the optional fields of a submission.
type Submission struct {
	Version         *int
	PreviousContent string
}

// LogSubmission records a learner's submitted work.
func (s *Service) LogSubmission(ctx context.Context, scope logstore.Scope, submissionType, content string, sub Submission) (*logstore.Record, error) {
	return s.create(ctx, scope, logstore.CreateParams{
		Type:    logstore.TypeSubmission,
		Message: "Submission: " + submissionType,
		Data: logstore.SubmissionData{
			SubmissionType:  submissionType,
			Content:         content,
			Version:         sub.Version,
			PreviousContent: sub.PreviousContent,
		},
	})
}

// LogError records err with severity error. When %+v formatting of err adds
// detail (a stack trace, for errors that carry one) it is kept as the stack.
func (s *Service) LogError(ctx context.Context, scope logstore.Scope, err error, errContext map[string]any) (*logstore.Record, error) {
	if err == nil {
		return nil, fmt.Errorf("log %s: %w", logstore.TypeError, errNilError)
	}
	msg := err.Error()
	data := logstore.ErrorData{Error: msg, Context: errContext}
	if verbose := fmt.Sprintf("%+v", err); verbose != msg {
		data.Stack = verbose
	}
	return s.create(ctx, scope, logstore.CreateParams{
		Type:     logstore.TypeError,
		Severity: logstore.SeverityError,
		Message:  msg,
		Data:     data,
	})
}

// LogErrorMessage records an error described only by a message. No stack is kept.
func (s *Service) LogErrorMessage(ctx context.Context, scope logstore.Scope, msg string, errContext map[string]any) (*logstore.Record, error) {
	return s.create(ctx, scope, logstore.CreateParams{
		Type:     logstore.TypeError,
		Severity: logstore.SeverityError,
		Message:  msg,
		Data:     logstore.ErrorData{Error: msg, Context: errContext},
	})
}

// LogSystemEvent records a system event. An empty severity means info.
func (s *Service) LogSystemEvent(ctx context.Context, scope logstore.Scope, event string, details map[string]any, severity logstore.Severity) (*logstore.Record, error) {
	return s.create(ctx, scope, logstore.CreateParams{
		Type:     logstore.TypeSystem,
		Severity: severity,
		Message:  "System event: " + event,
		Data:     logstore.SystemData{Event: event, Details: details},
	})
}

// QueryLogs runs a repository query. Errors propagate.
func (s *Service) QueryLogs(ctx context.Context, opts logstore.QueryOptions) ([]*logstore.Record, error) {
	return s.repo.Query(ctx, opts)
}

// GetStatistics returns statistics for scope. Usage errors are returned;
// storage failures are logged and yield zeroed statistics.
func (s *Service) GetStatistics(ctx context.Context, scope logstore.Scope) (*logstore.Statistics, error) {
	stats, err := s.repo.GetStatistics(ctx, scope)
	if err != nil {
		if isUsageError(err) {
			return nil, err
		}
		s.log.Warn("statistics unavailable, returning empty result", "user_id", scope.UserID, "program_id", scope.ProgramID, "task_id", scope.TaskID, "error", err)
		return logstore.NewStatistics(), nil
	}
	return stats, nil
}

// GetAggregation returns the aggregation for scope, degrading like GetStatistics.
func (s *Service) GetAggregation(ctx context.Context, scope logstore.Scope, period logstore.Period) (*logstore.Aggregation, error) {
	agg, err := s.repo.GetAggregation(ctx, scope, period)
	if err != nil {
		if isUsageError(err) {
			return nil, err
		}
		s.log.Warn("aggregation unavailable, returning empty result", "user_id", scope.UserID, "period", period, "error", err)
		p, _ := logstore.ParsePeriod(string(period))
		return logstore.NewAggregation(p), nil
	}
	return agg, nil
}

// GetErrorLogs returns the newest error records of scope. A limit of zero
// returns all of them.
func (s *Service) GetErrorLogs(ctx context.Context, scope logstore.Scope, limit int) ([]*logstore.Record, error) {
	return s.repo.Query(ctx, logstore.QueryOptions{
		UserID:    scope.UserID,
		ProgramID: scope.ProgramID,
		TaskID:    scope.TaskID,
		Type:      logstore.TypeError,
		OrderBy:   logstore.DefaultOrderBy,
		Limit:     limit,
	})
}

// CleanupExpiredLogs soft-deletes records older than retentionDays
// (non-positive means the default of 90).
func (s *Service) CleanupExpiredLogs(ctx context.Context, retentionDays int) (int, error) {
	return s.repo.CleanupExpiredLogs(ctx, retentionDays)
}

// DeleteLog soft-deletes one record. It reports false when there was nothing to delete.
func (s *Service) DeleteLog(ctx context.Context, userID, programID, taskID, id string) (bool, error) {
	return s.repo.SoftDelete(ctx, userID, programID, taskID, id)
}

// CompactIndex drops index entries of scope that point at missing or deleted records.
func (s *Service) CompactIndex(ctx context.Context, scope logstore.Scope) (int, error) {
	return s.repo.CleanupIndex(ctx, scope)
}

// RebuildIndex reconstructs the indices of scope from the records themselves.
func (s *Service) RebuildIndex(ctx context.Context, scope logstore.Scope) (int, error) {
	return s.repo.RebuildIndex(ctx, scope)
}

func isUsageError(err error) bool {
	return errors.Is(err, logstore.ErrScopeRequired) ||
		errors.Is(err, logstore.ErrInvalidID) ||
		errors.Is(err, logstore.ErrInvalidPeriod) ||
		errors.Is(err, logstore.ErrInvalidType) ||
		errors.Is(err, logstore.ErrInvalidSeverity) ||
		errors.Is(err, logstore.ErrInvalidOrder)
}
