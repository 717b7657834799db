package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dukex/missionflow/pkg/models"
)

const maxHeadlineLength = 80

func coerce(t models.OutputType, f map[string]any) models.OutputContent {
	switch t {
	case models.OutputTypeAlert:
		detail := firstString(f, "detail", "description", "message", "body", "text")

		title := firstString(f, "title", "name", "summary")
		if title == "" {
			title = headline(detail)
		}

		return &models.Alert{
			Title:    title,
			Detail:   detail,
			Severity: models.NormalizeSeverity(firstString(f, "severity", "level", "priority")),
			DomainID: firstString(f, "domain_id", "domain"),
			Sources:  asStrings(first(f, "sources", "documents")),
		}
	case models.OutputTypeAction:
		return &models.RecommendedAction{
			Title:     firstString(f, "title", "name", "action"),
			Rationale: firstString(f, "rationale", "detail", "description", "reason"),
			Priority:  models.NormalizeSeverity(firstString(f, "priority", "severity")),
			Owner:     firstString(f, "owner", "assignee"),
		}
	case models.OutputTypeMonitor:
		return &models.Monitor{
			Title:     firstString(f, "title", "name"),
			Signal:    firstString(f, "signal", "detail", "description", "condition"),
			ReviewBy:  firstString(f, "review_by", "due_date", "date"),
			Recurring: asBool(first(f, "recurring")),
		}
	case models.OutputTypeDeadline:
		return &models.Deadline{
			Title:   firstString(f, "title", "name"),
			DueDate: firstString(f, "due_date", "date", "due"),
			Notes:   firstString(f, "notes", "detail", "description"),
		}
	case models.OutputTypeEmailDraft:
		return &models.EmailDraft{
			To:      asStrings(first(f, "to", "recipients")),
			Subject: firstString(f, "subject", "title"),
			Body:    firstString(f, "body", "text", "message"),
		}
	case models.OutputTypeTask:
		return &models.Task{
			Title:   firstString(f, "title", "name", "task"),
			Notes:   firstString(f, "notes", "detail", "description"),
			DueDate: firstString(f, "due_date", "due", "date"),
		}
	case models.OutputTypeMemo, models.OutputTypeHeatmap, models.OutputTypeSummary:
	}

	return &models.Summary{Text: firstString(f, "text", "summary")}
}

func coerceHeatmap(value any) *models.Heatmap {
	heatmap := &models.Heatmap{Rows: []models.HeatmapRow{}, Flagged: []string{}}

	var rows []any

	switch v := value.(type) {
	case []any:
		rows = v
	case map[string]any:
		rows, _ = first(v, "rows", "categories").([]any)
		heatmap.Overall = firstString(v, "overall", "overall_rating")
		heatmap.Flagged = asStrings(first(v, "flagged"))
	}

	derived := []string{}

	for _, r := range rows {
		fields := asObject(r)
		if fields == nil {
			continue
		}

		row := models.HeatmapRow{
			Category: firstString(fields, "category", "name"),
			Rating:   strings.ToLower(firstString(fields, "rating", "score", "level")),
			Notes:    firstString(fields, "notes", "detail"),
			Flagged:  asBool(first(fields, "flagged", "flag")),
		}

		if row.Flagged {
			derived = append(derived, row.Category)
		}

		heatmap.Rows = append(heatmap.Rows, row)
	}

	if len(heatmap.Flagged) == 0 {
		heatmap.Flagged = derived
	}

	return heatmap
}

// headline is the first line of text, cut to maxHeadlineLength runes.
func headline(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	line = strings.TrimSpace(line)

	runes := []rune(line)
	if len(runes) > maxHeadlineLength {
		return strings.TrimSpace(string(runes[:maxHeadlineLength])) + "..."
	}

	return line
}

func asObject(v any) map[string]any {
	switch value := v.(type) {
	case map[string]any:
		return value
	case string:
		return map[string]any{"title": value}
	}

	return nil
}

func first(f map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != nil {
			return v
		}
	}

	return nil
}

func firstString(f map[string]any, keys ...string) string {
	return asString(first(f, keys...))
}

func asString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	}

	return strings.TrimSpace(fmt.Sprint(v))
}

// asStrings accepts a list or a single comma separated string. Missing values
// become an empty list.
func asStrings(v any) []string {
	out := []string{}

	switch value := v.(type) {
	case []any:
		for _, item := range value {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, part := range strings.Split(value, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}

	return out
}

func asBool(v any) bool {
	switch value := v.(type) {
	case bool:
		return value
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(value))

		return b
	case float64:
		return value != 0
	}

	return false
}
