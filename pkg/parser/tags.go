package parser

import "github.com/dukex/missionflow/pkg/models"

// Format is how a fenced block body is interpreted.
type Format int

const (
	FormatJSON Format = iota
	FormatText
)

// TagSpec describes one fence tag the parser looks for.
type TagSpec struct {
	Name   string
	Output models.OutputType
	Format Format

	// Required tags produce a diagnostic when absent.
	Required bool

	// FallbackToRaw uses the whole reply as the block body when the tag is absent.
	FallbackToRaw bool
}

var (
	alertTag    = TagSpec{Name: "alert", Output: models.OutputTypeAlert, Format: FormatJSON}
	actionTag   = TagSpec{Name: "action", Output: models.OutputTypeAction, Format: FormatJSON}
	monitorTag  = TagSpec{Name: "monitor", Output: models.OutputTypeMonitor, Format: FormatJSON}
	deadlineTag = TagSpec{Name: "deadline", Output: models.OutputTypeDeadline, Format: FormatJSON}
	emailTag    = TagSpec{Name: "email_draft", Output: models.OutputTypeEmailDraft, Format: FormatJSON}
	taskTag     = TagSpec{Name: "task", Output: models.OutputTypeTask, Format: FormatJSON}
	heatmapTag  = TagSpec{Name: "loan_review_heatmap_json", Output: models.OutputTypeHeatmap, Format: FormatJSON}
	memoTag     = TagSpec{
		Name:          "loan_review_memo",
		Output:        models.OutputTypeMemo,
		Format:        FormatText,
		Required:      true,
		FallbackToRaw: true,
	}
	summaryTag = TagSpec{Name: "summary", Output: models.OutputTypeSummary, Format: FormatText, FallbackToRaw: true}
)

var tagTable = map[models.MissionKind][]TagSpec{
	models.MissionKindBriefing:   {alertTag, actionTag, monitorTag, deadlineTag, emailTag, taskTag},
	models.MissionKindLoanReview: {memoTag, heatmapTag, alertTag, deadlineTag, emailTag},
	models.MissionKindAutomation: {summaryTag, alertTag, taskTag, emailTag, deadlineTag},
}

// Tags returns the fence tags recognized for a mission kind. Unknown kinds
// use the briefing profile.
func Tags(kind models.MissionKind) []TagSpec {
	if tags, ok := tagTable[kind]; ok {
		return tags
	}

	return tagTable[models.MissionKindBriefing]
}
