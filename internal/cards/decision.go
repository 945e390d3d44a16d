package cards

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is a refinement verdict for one card.
type Action string

const (
	ActionKeep    Action = "keep"
	ActionChange  Action = "change"
	ActionDiscard Action = "discard"
)

// Decision is a parsed refinement verdict. Front/back/reason default to
// empty strings when the model omits them.
type Decision struct {
	Action Action
	Front  string
	Back   string
	Reason string
}

// ParseDecision extracts a single refinement decision from a raw model
// response. The action must be exactly keep, change, or discard.
func ParseDecision(raw string) (Decision, error) {
	text := stripCodeFence(raw)
	if text == "" {
		return Decision{}, &ParseError{Message: "empty decision response"}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Decision{}, &ParseError{Message: "no JSON object found in decision response"}
	}

	var payload struct {
		Action string `json:"action"`
		Front  string `json:"front"`
		Back   string `json:"back"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return Decision{}, &ParseError{Message: fmt.Sprintf("invalid decision JSON: %s", err)}
	}

	action := Action(strings.TrimSpace(payload.Action))
	switch action {
	case ActionKeep, ActionChange, ActionDiscard:
	default:
		return Decision{}, &ParseError{Message: fmt.Sprintf("invalid action: %q", payload.Action)}
	}

	return Decision{
		Action: action,
		Front:  strings.TrimSpace(payload.Front),
		Back:   strings.TrimSpace(payload.Back),
		Reason: strings.TrimSpace(payload.Reason),
	}, nil
}
