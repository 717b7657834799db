// Package parser turns a model reply into typed mission outputs by extracting
// fenced blocks. It is pure: the same input always yields the same result.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dukex/missionflow/pkg/models"
)

// MaxSnippetLength bounds the block excerpt kept in a parse diagnostic.
const MaxSnippetLength = 2000

var (
	// fencePattern matches ```tag\n ... ``` blocks; the body is non-greedy.
	fencePattern = regexp.MustCompile("(?s)```([A-Za-z0-9_]+)[ \\t]*\\r?\\n(.*?)```")
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	// memoSectionPattern matches numbered memo headings: ## 1. Borrower overview
	memoSectionPattern = regexp.MustCompile(`^##\s+(\d+)\.\s+(.+?)\s*$`)
)

// Result is the outcome of parsing one reply.
type Result struct {
	Outputs     []models.OutputContent
	Diagnostics models.Diagnostics
}

type block struct {
	tag  string
	body string
	pos  int
}

type positioned struct {
	pos     int
	content models.OutputContent
}

// Parse extracts the outputs declared for kind from raw.
func Parse(raw string, kind models.MissionKind) Result {
	result := Result{Diagnostics: models.Diagnostics{Errors: []string{}}}
	blocks := scan(raw)

	var found []positioned

	for _, spec := range Tags(kind) {
		matches := blocksFor(blocks, spec.Name)

		switch {
		case len(matches) == 0:
			if spec.Required {
				result.Diagnostics.Errors = append(result.Diagnostics.Errors,
					fmt.Sprintf("Missing ```%s``` block; using the full response", spec.Name))
			}

			if spec.FallbackToRaw && strings.TrimSpace(raw) != "" {
				found = append(found, positioned{pos: -1, content: decodeText(spec, raw, true)})
			}

			continue
		case len(matches) > 1:
			result.Diagnostics.Errors = append(result.Diagnostics.Errors,
				fmt.Sprintf("Multiple ```%s``` blocks found (%d); using the first", spec.Name, len(matches)))
			result.Diagnostics.SkippedBlocks += len(matches) - 1
		}

		first := matches[0]

		if spec.Format == FormatText {
			found = append(found, positioned{pos: first.pos, content: decodeText(spec, first.body, false)})

			continue
		}

		contents, err := decodeJSON(spec, first.body)
		if err != nil {
			result.Diagnostics.Errors = append(result.Diagnostics.Errors,
				fmt.Sprintf("Invalid JSON in ```%s``` block: %v. Snippet: %s", spec.Name, err, snippet(first.body)))

			continue
		}

		for _, c := range contents {
			found = append(found, positioned{pos: first.pos, content: c})
		}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	for _, f := range found {
		result.Outputs = append(result.Outputs, f.content)
	}

	return result
}

func scan(raw string) []block {
	var blocks []block

	for _, loc := range fencePattern.FindAllStringSubmatchIndex(raw, -1) {
		blocks = append(blocks, block{
			tag:  strings.ToLower(raw[loc[2]:loc[3]]),
			body: raw[loc[4]:loc[5]],
			pos:  loc[0],
		})
	}

	return blocks
}

func blocksFor(blocks []block, tag string) []block {
	var out []block

	for _, b := range blocks {
		if b.tag == tag {
			out = append(out, b)
		}
	}

	return out
}

func snippet(body string) string {
	runes := []rune(strings.TrimSpace(body))
	if len(runes) > MaxSnippetLength {
		runes = runes[:MaxSnippetLength]
	}

	return string(runes)
}

func decodeText(spec TagSpec, body string, fallback bool) models.OutputContent {
	text := strings.TrimSpace(body)

	if spec.Output == models.OutputTypeMemo {
		return &models.LoanReviewMemo{Text: text, Sections: SplitSections(text), Fallback: fallback}
	}

	return &models.Summary{Text: text}
}

// decodeJSON parses a JSON block that may hold one object or an array of them.
func decodeJSON(spec TagSpec, body string) ([]models.OutputContent, error) {
	body = strings.TrimSpace(body)

	var value any
	if err := json.Unmarshal([]byte(body), &value); err != nil {
		// Retry with trailing commas dropped; strings stay untouched when
		// the block was valid to begin with.
		cleaned := trailingCommaPattern.ReplaceAllString(body, "$1")
		if json.Unmarshal([]byte(cleaned), &value) != nil {
			return nil, err
		}
	}

	if spec.Output == models.OutputTypeHeatmap {
		return []models.OutputContent{coerceHeatmap(value)}, nil
	}

	var items []any

	switch v := value.(type) {
	case []any:
		items = v
	default:
		items = []any{v}
	}

	contents := make([]models.OutputContent, 0, len(items))

	for _, item := range items {
		fields := asObject(item)
		if fields == nil {
			continue
		}

		contents = append(contents, coerce(spec.Output, fields))
	}

	return contents, nil
}

// SplitSections splits memo text on "## <n>. <title>" headings. Text before
// the first heading is not part of any section.
func SplitSections(text string) []models.MemoSection {
	sections := []models.MemoSection{}

	var (
		current *models.MemoSection
		body    []string
	)

	flush := func() {
		if current != nil {
			current.Body = strings.TrimSpace(strings.Join(body, "\n"))
			sections = append(sections, *current)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		matches := memoSectionPattern.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if matches == nil {
			body = append(body, line)

			continue
		}

		flush()

		var number int
		_, _ = fmt.Sscanf(matches[1], "%d", &number)

		current = &models.MemoSection{Number: number, Title: matches[2]}
		body = nil
	}

	flush()

	return sections
}
