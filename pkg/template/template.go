// Package template renders automation prompt templates against trigger data.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"text/template/parse"
	"time"

	"github.com/dukex/missionflow/pkg/models"
)

// EventData is the domain event an automation fired for.
type EventData struct {
	Name    models.DomainEventName `json:"name"`
	Payload map[string]any         `json:"payload"`
}

// automationFields are the top-level keys RenderForAutomation provides.
var automationFields = map[string]bool{
	"automation": true,
	"domain":     true,
	"trigger":    true,
	"now":        true,
	"event":      true,
}

// ValidateAutomationTemplate parses templateStr and rejects references to
// top-level fields RenderForAutomation does not provide. Fields inside range
// and with blocks are not checked since dot is rebound there.
func ValidateAutomationTemplate(templateStr string) error {
	tmpl, err := newTemplate().Parse(templateStr)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if tmpl.Tree == nil || tmpl.Root == nil {
		return nil
	}

	return checkFields(tmpl.Root)
}

func checkFields(node parse.Node) error {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return nil
		}

		for _, child := range n.Nodes {
			if err := checkFields(child); err != nil {
				return err
			}
		}
	case *parse.ActionNode:
		return checkFields(n.Pipe)
	case *parse.IfNode:
		return checkBranch(&n.BranchNode, true)
	case *parse.RangeNode:
		return checkBranch(&n.BranchNode, false)
	case *parse.WithNode:
		return checkBranch(&n.BranchNode, false)
	case *parse.TemplateNode:
		return checkFields(n.Pipe)
	case *parse.PipeNode:
		if n == nil {
			return nil
		}

		for _, cmd := range n.Cmds {
			if err := checkFields(cmd); err != nil {
				return err
			}
		}
	case *parse.CommandNode:
		for _, arg := range n.Args {
			if err := checkFields(arg); err != nil {
				return err
			}
		}
	case *parse.ChainNode:
		return checkFields(n.Node)
	case *parse.FieldNode:
		if len(n.Ident) > 0 && !automationFields[n.Ident[0]] {
			return fmt.Errorf("unknown template field %q", "."+n.Ident[0])
		}
	}

	return nil
}

func checkBranch(b *parse.BranchNode, sameDot bool) error {
	if err := checkFields(b.Pipe); err != nil {
		return err
	}

	if !sameDot {
		return nil
	}

	if err := checkFields(b.List); err != nil {
		return err
	}

	return checkFields(b.ElseList)
}

// RenderForAutomation renders an automation's prompt template. Event is nil
// for scheduled and manual fires.
func RenderForAutomation(automation *models.Automation, trigger models.TriggerSource, event *EventData, now time.Time) (string, error) {
	data := map[string]any{
		"automation": map[string]any{
			"id":        automation.ID,
			"name":      automation.Name,
			"domain_id": automation.DomainID,
			"run_count": automation.RunCount,
		},
		"domain":  automation.DomainID,
		"trigger": string(trigger),
		"now":     now.Format(time.RFC3339),
		"event":   map[string]any{},
	}

	if event != nil {
		data["event"] = map[string]any{
			"name":    string(event.Name),
			"payload": event.Payload,
		}
	}

	return Render(automation.PromptTemplate, data)
}

// Render executes a text/template and returns the trimmed text.
func Render(templateStr string, data any) (string, error) {
	tmpl, err := newTemplate().Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return strings.TrimSpace(buf.String()), nil
}

func newTemplate() *template.Template {
	return template.
		New("prompt").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"json": func(v any) string {
				body, err := json.MarshalIndent(v, "", "  ")
				if err != nil {
					return fmt.Sprint(v)
				}

				return string(body)
			},
			"default": func(fallback, v any) any {
				if v == nil || v == "" {
					return fallback
				}

				return v
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
		})
}
