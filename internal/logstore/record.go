package logstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is the kind of event a record describes.
type Type string

const (
	TypeInteraction Type = "interaction"
	TypeAIRequest   Type = "ai_request"
	TypeAIResponse  Type = "ai_response"
	TypeSubmission  Type = "submission"
	TypeError       Type = "error"
	TypeSystem      Type = "system"
)

// AllTypes lists every record type in declaration order.
var AllTypes = []Type{TypeInteraction, TypeAIRequest, TypeAIResponse, TypeSubmission, TypeError, TypeSystem}

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	for _, v := range AllTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Severity is the importance of a record.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// AllSeverities lists every severity from least to most severe.
var AllSeverities = []Severity{SeverityDebug, SeverityInfo, SeverityWarning, SeverityError, SeverityCritical}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	return s.rank() >= 0
}

// IsError reports whether s counts towards error rates and error trends.
func (s Severity) IsError() bool {
	return s == SeverityError || s == SeverityCritical
}

func (s Severity) rank() int {
	for i, v := range AllSeverities {
		if s == v {
			return i
		}
	}
	return -1
}

// Record is the persisted unit of the log store.
type Record struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	ProgramID string         `json:"programId"`
	TaskID    string         `json:"taskId"`
	Type      Type           `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Data      Payload        `json:"data"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt *time.Time     `json:"deletedAt"`
}

// Key returns the record's storage key.
func (r *Record) Key() string {
	return RecordKey(r.UserID, r.ProgramID, r.TaskID, r.ID)
}

// Scope returns the task scope the record belongs to.
func (r *Record) Scope() Scope {
	return Scope{UserID: r.UserID, ProgramID: r.ProgramID, TaskID: r.TaskID}
}

// Deleted reports whether the record has been soft-deleted.
func (r *Record) Deleted() bool {
	return r.DeletedAt != nil
}

// Duration returns metadata.duration when present and numeric.
func (r *Record) Duration() (float64, bool) {
	if r.Metadata == nil {
		return 0, false
	}
	return number(r.Metadata["duration"])
}

func (r *Record) UnmarshalJSON(b []byte) error {
	type alias Record
	aux := struct {
		*alias
		Data json.RawMessage `json:"data"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p, err := decodePayload(r.Type, aux.Data)
	if err != nil {
		return err
	}
	r.Data = p
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case time.Duration:
		return float64(n.Milliseconds()), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func encodeRecord(r *Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &r, nil
}
