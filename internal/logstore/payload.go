package logstore

import (
	"encoding/json"
	"fmt"
)

// Payload is the type-specific body of a record. The concrete type is
// selected by the record's Type when decoding.
type Payload interface {
	Kind() Type
}

// TokenUsage counts model tokens for an AI call.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// InteractionData is the payload of an interaction record.
type InteractionData struct {
	Action  string         `json:"action"`
	Content string         `json:"content,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (InteractionData) Kind() Type { return TypeInteraction }

// AIRequestData is the payload of an ai_request record.
type AIRequestData struct {
	Model  string     `json:"model"`
	Prompt string     `json:"prompt"`
	Tokens TokenUsage `json:"tokens"`
}

func (AIRequestData) Kind() Type { return TypeAIRequest }

// AIResponseData is the payload of an ai_response record.
// Cost and Latency (milliseconds) are optional.
type AIResponseData struct {
	Model    string     `json:"model"`
	Response string     `json:"response"`
	Tokens   TokenUsage `json:"tokens"`
	Cost     *float64   `json:"cost,omitempty"`
	Latency  *float64   `json:"latency,omitempty"`
}

func (AIResponseData) Kind() Type { return TypeAIResponse }

// SubmissionData is the payload of a submission record.
type SubmissionData struct {
	SubmissionType  string `json:"submissionType"`
	Content         string `json:"content"`
	Version         *int   `json:"version,omitempty"`
	PreviousContent string `json:"previousContent,omitempty"`
}

func (SubmissionData) Kind() Type { return TypeSubmission }

// ErrorData is the payload of an error record.
type ErrorData struct {
	Error   string         `json:"error"`
	Stack   string         `json:"stack,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

func (ErrorData) Kind() Type { return TypeError }

// SystemData is the payload of a system record.
type SystemData struct {
	Event   string         `json:"event"`
	Details map[string]any `json:"details,omitempty"`
}

func (SystemData) Kind() Type { return TypeSystem }

// actionOf returns the action an interaction payload carries.
func actionOf(p Payload) (string, bool) {
	switch d := p.(type) {
	case InteractionData:
		return d.Action, d.Action != ""
	case *InteractionData:
		return d.Action, d != nil && d.Action != ""
	default:
		return "", false
	}
}

func decodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var (
		p   Payload
		err error
	)
	switch t {
	case TypeInteraction:
		var d InteractionData
		err = json.Unmarshal(raw, &d)
		p = d
	case TypeAIRequest:
		var d AIRequestData
		err = json.Unmarshal(raw, &d)
		p = d
	case TypeAIResponse:
		var d AIResponseData
		err = json.Unmarshal(raw, &d)
		p = d
	case TypeSubmission:
		var d SubmissionData
		err = json.Unmarshal(raw, &d)
		p = d
	case TypeError:
		var d ErrorData
		err = json.Unmarshal(raw, &d)
		p = d
	case TypeSystem:
		var d SystemData
		err = json.Unmarshal(raw, &d)
		p = d
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}
