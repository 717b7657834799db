package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OutputType identifies the shape of a parsed output.
type OutputType string

const (
	OutputTypeAlert      OutputType = "alert"
	OutputTypeAction     OutputType = "action"
	OutputTypeMonitor    OutputType = "monitor"
	OutputTypeDeadline   OutputType = "deadline"
	OutputTypeEmailDraft OutputType = "email_draft"
	OutputTypeTask       OutputType = "task"
	OutputTypeMemo       OutputType = "loan_review_memo"
	OutputTypeHeatmap    OutputType = "loan_review_heatmap"
	OutputTypeSummary    OutputType = "summary"
)

// Severity is the normalized urgency of an alert or action.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// NormalizeSeverity maps free-form model text onto a known severity.
// Unknown values become medium.
func NormalizeSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "info", "minor":
		return SeverityLow
	case "high", "major", "urgent":
		return SeverityHigh
	case "critical", "severe", "blocker":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// OutputContent is implemented by every typed output body.
type OutputContent interface {
	OutputType() OutputType
}

type Alert struct {
	Title    string   `json:"title"`
	Detail   string   `json:"detail"`
	Severity Severity `json:"severity"`
	DomainID string   `json:"domain_id,omitempty"`
	Sources  []string `json:"sources"`
}

func (Alert) OutputType() OutputType { return OutputTypeAlert }

type RecommendedAction struct {
	Title     string   `json:"title"`
	Rationale string   `json:"rationale"`
	Priority  Severity `json:"priority"`
	Owner     string   `json:"owner,omitempty"`
}

func (RecommendedAction) OutputType() OutputType { return OutputTypeAction }

type Monitor struct {
	Title     string `json:"title"`
	Signal    string `json:"signal"`
	ReviewBy  string `json:"review_by,omitempty"`
	Recurring bool   `json:"recurring"`
}

func (Monitor) OutputType() OutputType { return OutputTypeMonitor }

type Deadline struct {
	Title   string `json:"title"`
	DueDate string `json:"due_date"`
	Notes   string `json:"notes,omitempty"`
}

func (Deadline) OutputType() OutputType { return OutputTypeDeadline }

type EmailDraft struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

func (EmailDraft) OutputType() OutputType { return OutputTypeEmailDraft }

type Task struct {
	Title   string `json:"title"`
	Notes   string `json:"notes,omitempty"`
	DueDate string `json:"due_date,omitempty"`
}

func (Task) OutputType() OutputType { return OutputTypeTask }

// MemoSection is one numbered section of a review memo.
type MemoSection struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// LoanReviewMemo is the narrative review. Fallback is set when the memo
// fence was missing and the raw reply was used instead.
type LoanReviewMemo struct {
	Text     string        `json:"text"`
	Sections []MemoSection `json:"sections"`
	Fallback bool          `json:"fallback"`
}

func (LoanReviewMemo) OutputType() OutputType { return OutputTypeMemo }

type HeatmapRow struct {
	Category string `json:"category"`
	Rating   string `json:"rating"`
	Notes    string `json:"notes,omitempty"`
	Flagged  bool   `json:"flagged"`
}

type Heatmap struct {
	Rows    []HeatmapRow `json:"rows"`
	Overall string       `json:"overall"`
	Flagged []string     `json:"flagged"`
}

func (Heatmap) OutputType() OutputType { return OutputTypeHeatmap }

type Summary struct {
	Text string `json:"text"`
}

func (Summary) OutputType() OutputType { return OutputTypeSummary }

// DecodeOutputContent decodes a stored output body for the given type.
func DecodeOutputContent(t OutputType, raw []byte) (OutputContent, error) {
	var content OutputContent

	switch t {
	case OutputTypeAlert:
		content = &Alert{}
	case OutputTypeAction:
		content = &RecommendedAction{}
	case OutputTypeMonitor:
		content = &Monitor{}
	case OutputTypeDeadline:
		content = &Deadline{}
	case OutputTypeEmailDraft:
		content = &EmailDraft{}
	case OutputTypeTask:
		content = &Task{}
	case OutputTypeMemo:
		content = &LoanReviewMemo{}
	case OutputTypeHeatmap:
		content = &Heatmap{}
	case OutputTypeSummary:
		content = &Summary{}
	default:
		return nil, fmt.Errorf("unknown output type %q", t)
	}

	if err := json.Unmarshal(raw, content); err != nil {
		return nil, fmt.Errorf("decode %s output: %w", t, err)
	}

	return content, nil
}

// MissionRunOutput is a typed record extracted from a run's reply.
type MissionRunOutput struct {
	ID        string        `json:"id"`
	RunID     string        `json:"run_id"`
	Index     int           `json:"index"`
	Type      OutputType    `json:"type"`
	Content   OutputContent `json:"content"`
	CreatedAt time.Time     `json:"created_at"`
}

type outputJSON struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Index     int             `json:"index"`
	Type      OutputType      `json:"type"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// UnmarshalJSON decodes Content according to Type.
func (o *MissionRunOutput) UnmarshalJSON(data []byte) error {
	var aux outputJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	content, err := DecodeOutputContent(aux.Type, aux.Content)
	if err != nil {
		return err
	}

	*o = MissionRunOutput{
		ID:        aux.ID,
		RunID:     aux.RunID,
		Index:     aux.Index,
		Type:      aux.Type,
		Content:   content,
		CreatedAt: aux.CreatedAt,
	}

	return nil
}
