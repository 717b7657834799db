// Package prompt assembles the system and user prompts for a mission run.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/dukex/missionflow/pkg/models"
	"github.com/dukex/missionflow/pkg/parser"
)

// Context is everything the builder needs besides the user inputs.
type Context struct {
	Definition *models.MissionDefinition
	Digest     *models.Digest
	DomainID   string

	// Instructions are extra, already rendered, automation instructions.
	Instructions string
}

// Prompt is the built prompt pair.
type Prompt struct {
	System string
	User   string
	Mode   string
	Inputs map[string]any
}

// Hash identifies the exact prompt sent to the model.
func (p Prompt) Hash() string {
	sum := sha256.Sum256([]byte(p.System + "\x00" + p.User))

	return hex.EncodeToString(sum[:])
}

// ContextHash identifies the knowledge base digest a prompt was built from.
func ContextHash(d *models.Digest) string {
	if d == nil {
		return ""
	}

	sum := sha256.Sum256([]byte(d.Text))

	return hex.EncodeToString(sum[:])
}

var depthInstructions = map[Depth]string{
	DepthTriage: "Run a fast triage. Report only material issues, missing documents and anything " +
		"that needs attention this week. Keep the memo short.",
	DepthAttorneyPrep: "Prepare the findings for review by counsel. Cite the source document for every " +
		"finding, separate facts from inferences and list open legal questions.",
	DepthFullReview: "Run a complete review. Cover every section of the methodology in order and " +
		"state explicitly when a section has no findings.",
}

// Build assembles the prompt. Invalid inputs fall back to defaults and the
// digest is included verbatim.
func Build(ctx Context, inputs map[string]any) Prompt {
	def := ctx.Definition
	if def == nil {
		def = &models.MissionDefinition{Kind: models.MissionKindBriefing}
	}

	resolved := ResolveInputs(def.Parameters, inputs)
	mode := modeFor(def, resolved)

	var b strings.Builder

	writeRole(&b, def, ctx.DomainID)
	writeMethodology(&b, def)
	writeParameters(&b, def, resolved, mode)
	writeOutputContract(&b, def.Kind)
	writeInventory(&b, def, ctx.Digest)
	writeDigest(&b, ctx.Digest)

	if ctx.Instructions != "" {
		b.WriteString("## Instructions\n\n")
		b.WriteString(ctx.Instructions)
		b.WriteString("\n")
	}

	return Prompt{
		System: strings.TrimSpace(b.String()),
		User:   userPrompt(def, mode),
		Mode:   mode,
		Inputs: resolved,
	}
}

func modeFor(def *models.MissionDefinition, resolved map[string]any) string {
	if depth, ok := resolved[DepthParameter].(string); ok && depth != "" {
		return depth
	}

	return string(def.Kind)
}

func writeRole(b *strings.Builder, def *models.MissionDefinition, domainID string) {
	role := def.Role
	if role == "" {
		role = "You are a careful analyst working over a private knowledge base."
	}

	b.WriteString(role)
	b.WriteString("\n\n")

	if def.Name != "" {
		fmt.Fprintf(b, "Mission: %s\n", def.Name)
	}

	if def.Description != "" {
		fmt.Fprintf(b, "Mandate: %s\n", def.Description)
	}

	switch {
	case def.Scope == models.ScopeCrossDomain || domainID == models.AllDomains:
		b.WriteString("Scope: all domains\n")
	case domainID != "":
		fmt.Fprintf(b, "Scope: domain %s\n", domainID)
	}

	b.WriteString("\n")
}

func writeMethodology(b *strings.Builder, def *models.MissionDefinition) {
	if def.Ruleset == "" && def.Methodology == "" {
		return
	}

	b.WriteString("## Methodology")

	if def.Methodology != "" {
		fmt.Fprintf(b, " (%s)", def.Methodology)
	}

	b.WriteString("\n\n")

	if def.Ruleset != "" {
		b.WriteString(strings.TrimSpace(def.Ruleset))
		b.WriteString("\n\n")
	}
}

func writeParameters(b *strings.Builder, def *models.MissionDefinition, resolved map[string]any, mode string) {
	if len(def.Parameters) == 0 {
		return
	}

	b.WriteString("## Parameters\n\n")

	for _, p := range def.Parameters {
		fmt.Fprintf(b, "- %s: %v\n", p.Name, resolved[p.Name])
	}

	if instr, ok := depthInstructions[Depth(mode)]; ok {
		b.WriteString("\n")
		b.WriteString(instr)
		b.WriteString("\n")
	}

	b.WriteString("\n")
}

func writeOutputContract(b *strings.Builder, kind models.MissionKind) {
	b.WriteString("## Output format\n\n")
	b.WriteString("Return your findings in fenced blocks using exactly these tags. ")
	b.WriteString("Use each tag at most once; put several items of the same kind in a JSON array.\n\n")

	for _, tag := range parser.Tags(kind) {
		format := "JSON object or array"
		if tag.Format == parser.FormatText {
			format = "markdown text"
		}

		requirement := "optional"
		if tag.Required {
			requirement = "required"
		}

		fmt.Fprintf(b, "- ```%s``` (%s, %s)\n", tag.Name, format, requirement)
	}

	if kind == models.MissionKindLoanReview {
		b.WriteString("\nNumber the memo sections as \"## 1. Title\", \"## 2. Title\" and so on.\n")
	}

	b.WriteString("\n")
}

func writeInventory(b *strings.Builder, def *models.MissionDefinition, digest *models.Digest) {
	if len(def.RequiredDocs) == 0 && digest == nil {
		return
	}

	reviewed := map[string]bool{}

	var missing []string

	if digest != nil {
		for _, d := range digest.DocsReviewed {
			reviewed[d] = true
		}

		missing = append(missing, digest.DocsMissing...)
	}

	for _, d := range def.RequiredDocs {
		if !reviewed[d] && !slices.Contains(missing, d) {
			missing = append(missing, d)
		}
	}

	sort.Strings(missing)

	b.WriteString("## Document inventory\n\n")

	if digest != nil && len(digest.DocsReviewed) > 0 {
		b.WriteString("Reviewed:\n")

		for _, d := range digest.DocsReviewed {
			fmt.Fprintf(b, "- %s\n", d)
		}
	}

	if len(missing) > 0 {
		b.WriteString("Missing (treat as gaps, do not assume their content):\n")

		for _, d := range missing {
			fmt.Fprintf(b, "- %s\n", d)
		}
	}

	b.WriteString("\n")
}

func writeDigest(b *strings.Builder, digest *models.Digest) {
	if digest == nil || digest.Text == "" {
		return
	}

	b.WriteString("## Knowledge base\n\n")
	b.WriteString(digest.Text)
	b.WriteString("\n\n")
}

func userPrompt(def *models.MissionDefinition, mode string) string {
	name := def.Name
	if name == "" {
		name = "the mission"
	}

	return fmt.Sprintf("Run %s now in %s mode and answer using the output format above.", name, mode)
}

